package core

import (
	"context"
	"errors"
	"time"
)

// ValidationService is the remote validator. Implementations return
// *OperationError values already classified at the transport boundary.
type ValidationService interface {
	Validate(ctx context.Context, sel DatasetSelector, file *UploadedFile) (*ValidationReport, error)
}

// PersistenceService durably stores validated previews and returns the
// service's confirmation message.
type PersistenceService interface {
	Save(ctx context.Context, sel DatasetSelector, previews Previews) (string, error)
}

// Uploader issues validate calls. It never retries.
type Uploader struct {
	svc     ValidationService
	limiter *CallLimiter
	timeout time.Duration
}

// NewUploader creates an Uploader. A nil limiter means unbounded; a
// non-positive timeout means the caller's context alone bounds the call.
func NewUploader(svc ValidationService, limiter *CallLimiter, timeout time.Duration) *Uploader {
	return &Uploader{svc: svc, limiter: limiter, timeout: timeout}
}

// Validate sends file for the given dataset and returns the service's report
// unchanged. A missing selector or file fails with KindMissingInput before
// anything is sent.
func (u *Uploader) Validate(ctx context.Context, sel DatasetSelector, file *UploadedFile) (*ValidationReport, error) {
	if sel == "" || file == nil {
		return nil, NewOperationError(OpValidate, KindMissingInput, 0, "", nil)
	}

	report, err := call(ctx, OpValidate, u.limiter, u.timeout, func(ctx context.Context) (*ValidationReport, error) {
		return u.svc.Validate(ctx, sel, file)
	})
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, NewOperationError(OpValidate, KindRejected, 0, "The validation service returned an empty report", nil)
	}
	return report, nil
}

// Saver forwards validated previews to the persistence service. It does not
// re-check report validity; the workflow gates that.
type Saver struct {
	svc     PersistenceService
	limiter *CallLimiter
	timeout time.Duration
}

// NewSaver creates a Saver.
func NewSaver(svc PersistenceService, limiter *CallLimiter, timeout time.Duration) *Saver {
	return &Saver{svc: svc, limiter: limiter, timeout: timeout}
}

// Save sends report.Previews for sel and returns the confirmation message.
func (s *Saver) Save(ctx context.Context, sel DatasetSelector, report *ValidationReport) (string, error) {
	if sel == "" || report == nil {
		return "", NewOperationError(OpSave, KindMissingInput, 0, "", nil)
	}
	return call(ctx, OpSave, s.limiter, s.timeout, func(ctx context.Context) (string, error) {
		return s.svc.Save(ctx, sel, report.Previews)
	})
}

// call runs fn inside a limiter slot and timeout, normalising every failure
// into an *OperationError for op.
func call[T any](ctx context.Context, op Op, limiter *CallLimiter, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if limiter != nil {
		if err := limiter.Acquire(ctx); err != nil {
			if errors.Is(err, ErrTooManyCalls) {
				return zero, NewOperationError(op, KindTimeout, 0, "The service is busy with other requests", err)
			}
			return zero, contextError(op, err)
		}
		defer limiter.Release()
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	v, err := fn(ctx)
	if err != nil {
		return zero, classify(op, err)
	}
	return v, nil
}

// classify passes OperationErrors through and wraps anything else.
func classify(op Op, err error) error {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contextError(op, err)
	}
	return NewOperationError(op, KindServiceFault, 0, err.Error(), err)
}

func contextError(op Op, err error) *OperationError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewOperationError(op, KindTimeout, 0, "", err)
	}
	return NewOperationError(op, KindCancelled, 0, "", err)
}

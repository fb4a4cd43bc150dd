package core

import (
	"errors"
	"fmt"
)

// Local rejections. None of these involve a network call and none change
// workflow state.
var (
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrNotReady       = errors.New("validation service is not ready")
	ErrBusy           = errors.New("another request is still in progress")
	ErrNoReport       = errors.New("no validation report to save")
	ErrReportInvalid  = errors.New("report did not pass validation; save is disabled")
	ErrSelectorLocked = errors.New("dataset already chosen for this upload; clear to change it")
	ErrSuperseded     = errors.New("response discarded: superseded by a newer action")
	ErrEmptyFile      = errors.New("empty file")
)

// Op names the remote operation an OperationError came from.
type Op string

const (
	OpValidate Op = "validate"
	OpSave     Op = "save"
)

// ErrorKind classifies a failed remote operation. Kinds are mutually
// exclusive and decided once, where the response (or lack of one) is seen.
type ErrorKind string

const (
	// KindMissingInput: selector or file absent; no request was sent.
	KindMissingInput ErrorKind = "missing_input"
	// KindServiceFault: the service answered with a 5xx status.
	KindServiceFault ErrorKind = "service_fault"
	// KindUnreachable: no response reached us.
	KindUnreachable ErrorKind = "unreachable"
	// KindRejected: any other non-success answer, or a malformed report.
	KindRejected ErrorKind = "rejected"
	// KindTimeout: the call or the wait for a call slot exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindCancelled: the caller abandoned the call.
	KindCancelled ErrorKind = "cancelled"
)

// OperationError is the single failure type for validate and save calls.
// An error with Op == OpValidate is an upload error; Op == OpSave is a save
// error. Message is what the operator sees.
type OperationError struct {
	Op      Op
	Kind    ErrorKind
	Status  int    // HTTP status when the service answered, else 0
	Message string // service detail or fallback text
	Err     error  // underlying cause, for logs
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, e.Message)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// NewOperationError builds an OperationError.
func NewOperationError(op Op, kind ErrorKind, status int, message string, cause error) *OperationError {
	return &OperationError{Op: op, Kind: kind, Status: status, Message: message, Err: cause}
}

// KindOf returns the ErrorKind of err, or "" when err is not an OperationError.
func KindOf(err error) ErrorKind {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

// IsSaveError reports whether err is a failed save call.
func IsSaveError(err error) bool {
	var oe *OperationError
	return errors.As(err, &oe) && oe.Op == OpSave
}

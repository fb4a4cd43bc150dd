package core

// workflow.go is the interaction lifecycle of one operator session:
//
//	idle -> selecting -> validating -> reviewing -> saving -> idle
//
// validating fails back to selecting (dataset and file kept), saving fails back
// to reviewing (report kept), and Clear returns to idle from anywhere. The
// service's availability is an overlay read at the moment validate is asked
// for, not a phase of its own.
//
// Network calls run outside the lock so Clear is always possible while a
// request is outstanding. Each call captures a generation number and owns a
// single cancel slot; Clear or a newer call bumps the generation and cancels
// the old context, and a response that comes back with an old generation is
// dropped without touching state.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Phase is the workflow's position in the lifecycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSelecting  Phase = "selecting"
	PhaseValidating Phase = "validating"
	PhaseReviewing  Phase = "reviewing"
	PhaseSaving     Phase = "saving"
)

// FileInfo describes the chosen file without exposing its content.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// State is a point-in-time copy of the workflow record.
type State struct {
	Phase        Phase             `json:"phase"`
	Availability Availability      `json:"availability"`
	Selector     DatasetSelector   `json:"selector,omitempty"`
	File         *FileInfo         `json:"file,omitempty"`
	Report       *ValidationReport `json:"-"`
	Err          error             `json:"-"`
	Notice       string            `json:"notice,omitempty"`
	CanValidate  bool              `json:"can_validate"`
	CanSave      bool              `json:"can_save"`
}

// AwaitingBackend reports whether validation is held back by availability.
func (s State) AwaitingBackend() bool {
	return s.Availability != AvailabilityReady
}

// Workflow is safe for concurrent use.
type Workflow struct {
	avail    AvailabilitySource
	uploader *Uploader
	saver    *Saver
	logger   *slog.Logger

	mu       sync.Mutex
	phase    Phase
	selector DatasetSelector
	file     *UploadedFile
	report   *ValidationReport
	lastErr  error
	notice   string

	gen    uint64
	cancel context.CancelFunc
}

// NewWorkflow creates an idle workflow.
func NewWorkflow(avail AvailabilitySource, uploader *Uploader, saver *Saver, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		avail:    avail,
		uploader: uploader,
		saver:    saver,
		logger:   logger,
		phase:    PhaseIdle,
	}
}

// SelectDataset chooses the dataset for this cycle. Choosing again with the
// same selector is a no-op; a different one needs a Clear first.
func (w *Workflow) SelectDataset(sel DatasetSelector) error {
	if _, ok := LookupDataset(sel); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDataset, sel)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlightLocked() {
		return ErrBusy
	}
	if w.selector == sel {
		return nil
	}
	if w.selector != "" {
		return ErrSelectorLocked
	}

	w.selector = sel
	w.enterSelectingLocked()
	w.logger.Debug("dataset selected", "dataset", sel)
	return nil
}

// ChooseFile replaces the chosen file. Choosing a file while reviewing drops
// the report, since it no longer describes the file on screen.
func (w *Workflow) ChooseFile(file UploadedFile) error {
	if len(file.Content) == 0 {
		return ErrEmptyFile
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlightLocked() {
		return ErrBusy
	}

	w.file = &file
	if w.phase == PhaseReviewing {
		w.report = nil
		w.phase = PhaseSelecting
	}
	w.enterSelectingLocked()
	w.logger.Debug("file chosen", "file", file.Name, "size", len(file.Content))
	return nil
}

// Validate sends the chosen file to the validation service. It blocks until
// the response arrives, is superseded, or ctx ends.
//
// Local rejections (ErrBusy, ErrNotReady, KindMissingInput) leave state
// untouched. Remote failures move the workflow to selecting with the failure
// recorded. A response overtaken by Clear or a newer call returns
// ErrSuperseded.
func (w *Workflow) Validate(ctx context.Context) error {
	w.mu.Lock()
	if w.inFlightLocked() {
		w.mu.Unlock()
		return ErrBusy
	}
	if w.selector == "" || w.file == nil {
		w.mu.Unlock()
		return NewOperationError(OpValidate, KindMissingInput, 0, "", nil)
	}
	if w.avail.Availability() != AvailabilityReady {
		w.mu.Unlock()
		return ErrNotReady
	}

	sel, file := w.selector, w.file
	gen, callCtx := w.beginLocked(ctx, PhaseValidating)
	w.mu.Unlock()

	logger := w.logger.With("dataset", sel, "file", file.Name, "generation", gen)
	logger.Info("validate started")

	report, err := w.uploader.Validate(callCtx, sel, file)

	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.gen {
		logger.Info("discarding superseded validate response")
		return ErrSuperseded
	}
	w.finishLocked()

	if err != nil {
		w.report = nil
		w.lastErr = err
		w.phase = PhaseSelecting
		logger.Warn("validate failed", "kind", KindOf(err), "error", err)
		return err
	}

	w.report = report
	w.phase = PhaseReviewing
	logger.Info("validate completed", "valid", report.Valid, "tables", len(report.Tables()))
	return nil
}

// Save commits the report's previews. Only a valid report can be saved; an
// invalid one returns ErrReportInvalid without any call. Success resets the
// workflow to idle; failure returns to reviewing with the report intact.
func (w *Workflow) Save(ctx context.Context) error {
	w.mu.Lock()
	if w.inFlightLocked() {
		w.mu.Unlock()
		return ErrBusy
	}
	if w.report == nil || w.phase != PhaseReviewing {
		w.mu.Unlock()
		return ErrNoReport
	}
	if !w.report.Valid {
		w.mu.Unlock()
		return ErrReportInvalid
	}

	sel, report := w.selector, w.report
	gen, callCtx := w.beginLocked(ctx, PhaseSaving)
	w.mu.Unlock()

	logger := w.logger.With("dataset", sel, "generation", gen)
	logger.Info("save started")

	msg, err := w.saver.Save(callCtx, sel, report)

	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.gen {
		logger.Info("discarding superseded save response")
		return ErrSuperseded
	}
	w.finishLocked()

	if err != nil {
		w.lastErr = err
		w.phase = PhaseReviewing
		logger.Warn("save failed", "kind", KindOf(err), "error", err)
		return err
	}

	w.resetLocked()
	if msg == "" {
		msg = "Saved"
	}
	w.notice = msg
	logger.Info("save completed", "message", msg)
	return nil
}

// Clear abandons the cycle from any phase. Outstanding calls are cancelled
// and their responses will be discarded. Calling Clear repeatedly is harmless.
func (w *Workflow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.gen++
	w.resetLocked()
}

// CanValidate reports whether Validate would send a request right now.
func (w *Workflow) CanValidate() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canValidateLocked()
}

// CanSave reports whether Save would send a request right now.
func (w *Workflow) CanSave() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canSaveLocked()
}

// State returns a snapshot of the workflow.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := State{
		Phase:        w.phase,
		Availability: w.avail.Availability(),
		Selector:     w.selector,
		Report:       w.report,
		Err:          w.lastErr,
		Notice:       w.notice,
		CanValidate:  w.canValidateLocked(),
		CanSave:      w.canSaveLocked(),
	}
	if w.file != nil {
		s.File = &FileInfo{Name: w.file.Name, Size: w.file.Size()}
	}
	return s
}

// File returns the chosen file, or nil.
func (w *Workflow) File() *UploadedFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file
}

func (w *Workflow) inFlightLocked() bool {
	return w.phase == PhaseValidating || w.phase == PhaseSaving
}

func (w *Workflow) canValidateLocked() bool {
	return !w.inFlightLocked() &&
		w.selector != "" &&
		w.file != nil &&
		w.avail.Availability() == AvailabilityReady
}

func (w *Workflow) canSaveLocked() bool {
	return !w.inFlightLocked() &&
		w.phase == PhaseReviewing &&
		w.report != nil &&
		w.report.Valid
}

func (w *Workflow) enterSelectingLocked() {
	if w.phase == PhaseIdle {
		w.phase = PhaseSelecting
	}
	w.lastErr = nil
	w.notice = ""
}

func (w *Workflow) beginLocked(ctx context.Context, phase Phase) (uint64, context.Context) {
	w.gen++
	callCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.phase = phase
	w.lastErr = nil
	w.notice = ""
	return w.gen, callCtx
}

func (w *Workflow) finishLocked() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *Workflow) resetLocked() {
	w.phase = PhaseIdle
	w.selector = ""
	w.file = nil
	w.report = nil
	w.lastErr = nil
	w.notice = ""
}

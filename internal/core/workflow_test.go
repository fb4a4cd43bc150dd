package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAvailability struct {
	v atomic.Value
}

func newAvailability(a Availability) *staticAvailability {
	s := &staticAvailability{}
	s.v.Store(a)
	return s
}

func (s *staticAvailability) Availability() Availability { return s.v.Load().(Availability) }
func (s *staticAvailability) set(a Availability)        { s.v.Store(a) }

type fakeValidator struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, sel DatasetSelector, file *UploadedFile) (*ValidationReport, error)
}

func (f *fakeValidator) Validate(ctx context.Context, sel DatasetSelector, file *UploadedFile) (*ValidationReport, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, sel, file)
}

func (f *fakeValidator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePersister struct {
	mu       sync.Mutex
	calls    int
	previews Previews
	err      error
	fn       func(ctx context.Context) (string, error)
}

func (f *fakePersister) Save(ctx context.Context, _ DatasetSelector, previews Previews) (string, error) {
	f.mu.Lock()
	f.calls++
	f.previews = previews
	fn, err := f.fn, f.err
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	if err != nil {
		return "", err
	}
	return "Saved!", nil
}

func returning(raw string) func(context.Context, DatasetSelector, *UploadedFile) (*ValidationReport, error) {
	return func(context.Context, DatasetSelector, *UploadedFile) (*ValidationReport, error) {
		return DecodeReport(strings.NewReader(raw))
	}
}

const validRiskReport = `{
	"valid": true,
	"check_results": {"risk": {"nonNegative": {"passed": true, "msg": "ok"}}},
	"previews": {"risk": [{"id": 1, "amount": 100}]},
	"error_locations": {}
}`

type harness struct {
	avail     *staticAvailability
	validator *fakeValidator
	persister *fakePersister
	wf        *Workflow
}

func newHarness(report string) *harness {
	h := &harness{
		avail:     newAvailability(AvailabilityReady),
		validator: &fakeValidator{fn: returning(report)},
		persister: &fakePersister{},
	}
	limiter := NewCallLimiter(2, time.Second)
	h.wf = NewWorkflow(h.avail,
		NewUploader(h.validator, limiter, time.Second),
		NewSaver(h.persister, limiter, time.Second),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) choose(t *testing.T) {
	t.Helper()
	require.NoError(t, h.wf.SelectDataset(DatasetRisk))
	require.NoError(t, h.wf.ChooseFile(UploadedFile{Name: "risk.xlsx", Content: []byte("PK\x03\x04")}))
}

func TestWorkflow_ValidReportReachesReviewing(t *testing.T) {
	h := newHarness(validRiskReport)
	h.choose(t)

	require.NoError(t, h.wf.Validate(context.Background()))

	st := h.wf.State()
	assert.Equal(t, PhaseReviewing, st.Phase)
	assert.True(t, st.CanSave)
	require.NotNil(t, st.Report)
	for _, table := range Annotate(st.Report, DefaultPreviewRows) {
		for _, row := range table.Rows {
			for _, cell := range row.Cells {
				assert.False(t, cell.Flagged, "%s row %d %s", table.Name, row.Index, cell.Column)
			}
		}
	}
}

func TestWorkflow_FlaggedCellOnReview(t *testing.T) {
	h := newHarness(`{
		"valid": true,
		"check_results": {"risk": {"nonNegative": {"passed": true, "msg": "ok"}}},
		"previews": {"risk": [{"id": 1, "amount": 100}]},
		"error_locations": {"risk": [[0, "amount"]]}
	}`)
	h.choose(t)

	require.NoError(t, h.wf.Validate(context.Background()))

	report := h.wf.State().Report
	require.NotNil(t, report)
	assert.True(t, report.IsCellFlagged("risk", 0, "amount"))
	assert.False(t, report.IsCellFlagged("risk", 0, "id"))
}

func TestWorkflow_UnreachableKeepsSelection(t *testing.T) {
	h := newHarness(validRiskReport)
	h.validator.fn = func(context.Context, DatasetSelector, *UploadedFile) (*ValidationReport, error) {
		return nil, NewOperationError(OpValidate, KindUnreachable, 0, "", errors.New("dial tcp 127.0.0.1:8000: connect: connection refused"))
	}
	h.choose(t)

	err := h.wf.Validate(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindUnreachable, KindOf(err))

	st := h.wf.State()
	assert.Equal(t, PhaseSelecting, st.Phase)
	assert.Equal(t, DatasetRisk, st.Selector)
	require.NotNil(t, st.File)
	assert.Equal(t, "risk.xlsx", st.File.Name)
	assert.Nil(t, st.Report)
	assert.Equal(t, KindUnreachable, KindOf(st.Err))
	assert.True(t, st.CanValidate, "operator can retry without re-choosing")
}

func TestWorkflow_SaveInvalidReportIsLocalNoOp(t *testing.T) {
	h := newHarness(`{"valid": false, "previews": {"risk": [{"id": 1, "amount": -5}]},
		"error_locations": {"risk": [[0, "amount"]]}}`)
	h.choose(t)
	require.NoError(t, h.wf.Validate(context.Background()))

	before := h.wf.State()
	assert.False(t, before.CanSave)

	err := h.wf.Save(context.Background())
	assert.ErrorIs(t, err, ErrReportInvalid)
	assert.Zero(t, h.persister.calls)

	after := h.wf.State()
	assert.Equal(t, before.Phase, after.Phase)
	assert.Same(t, before.Report, after.Report)
	assert.Equal(t, before.Selector, after.Selector)
	assert.Nil(t, after.Err)
}

func TestWorkflow_ValidateGating(t *testing.T) {
	t.Run("not ready", func(t *testing.T) {
		for _, a := range []Availability{AvailabilityChecking, AvailabilityUnreachable} {
			h := newHarness(validRiskReport)
			h.avail.set(a)
			h.choose(t)

			assert.False(t, h.wf.CanValidate())
			assert.ErrorIs(t, h.wf.Validate(context.Background()), ErrNotReady)
			assert.Zero(t, h.validator.callCount())
			assert.True(t, h.wf.State().AwaitingBackend())
		}
	})

	t.Run("missing selector", func(t *testing.T) {
		h := newHarness(validRiskReport)
		require.NoError(t, h.wf.ChooseFile(UploadedFile{Name: "risk.xlsx", Content: []byte("x")}))

		assert.False(t, h.wf.CanValidate())
		assert.Equal(t, KindMissingInput, KindOf(h.wf.Validate(context.Background())))
		assert.Zero(t, h.validator.callCount())
	})

	t.Run("missing file", func(t *testing.T) {
		h := newHarness(validRiskReport)
		require.NoError(t, h.wf.SelectDataset(DatasetRisk))

		assert.False(t, h.wf.CanValidate())
		assert.Equal(t, KindMissingInput, KindOf(h.wf.Validate(context.Background())))
		assert.Equal(t, PhaseSelecting, h.wf.State().Phase)
	})
}

func TestWorkflow_ClearIsIdempotent(t *testing.T) {
	h := newHarness(validRiskReport)
	h.choose(t)
	require.NoError(t, h.wf.Validate(context.Background()))

	h.wf.Clear()
	once := h.wf.State()
	h.wf.Clear()
	twice := h.wf.State()

	assert.Equal(t, PhaseIdle, once.Phase)
	assert.Equal(t, once, twice)
	assert.Empty(t, twice.Selector)
	assert.Nil(t, twice.File)
	assert.Nil(t, twice.Report)
}

func TestWorkflow_StaleValidateAfterClearIsDiscarded(t *testing.T) {
	h := newHarness(validRiskReport)
	started := make(chan struct{})
	h.validator.fn = func(ctx context.Context, sel DatasetSelector, file *UploadedFile) (*ValidationReport, error) {
		close(started)
		<-ctx.Done()
		// The response still arrives, as a slow server would deliver it.
		return DecodeReport(strings.NewReader(validRiskReport))
	}
	h.choose(t)

	done := make(chan error, 1)
	go func() { done <- h.wf.Validate(context.Background()) }()

	<-started
	assert.Equal(t, PhaseValidating, h.wf.State().Phase)
	h.wf.Clear()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("validate did not return after clear")
	}

	st := h.wf.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.Report)
	assert.Nil(t, st.Err)
}

func TestWorkflow_StaleSaveAfterClearIsDiscarded(t *testing.T) {
	h := newHarness(validRiskReport)
	started := make(chan struct{})
	h.persister.fn = func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		// The commit still lands, as a slow database would report it.
		return "Saved!", nil
	}
	h.choose(t)
	require.NoError(t, h.wf.Validate(context.Background()))

	done := make(chan error, 1)
	go func() { done <- h.wf.Save(context.Background()) }()

	<-started
	assert.Equal(t, PhaseSaving, h.wf.State().Phase)
	h.wf.Clear()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("save did not return after clear")
	}

	st := h.wf.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.Notice)
	assert.Nil(t, st.Report)
	assert.Nil(t, st.Err)
	assert.False(t, h.wf.CanSave())
}

func TestWorkflow_NoDuplicateSubmissions(t *testing.T) {
	h := newHarness(validRiskReport)
	release := make(chan struct{})
	started := make(chan struct{})
	h.validator.fn = func(ctx context.Context, sel DatasetSelector, file *UploadedFile) (*ValidationReport, error) {
		close(started)
		<-release
		return DecodeReport(strings.NewReader(validRiskReport))
	}
	h.choose(t)

	done := make(chan error, 1)
	go func() { done <- h.wf.Validate(context.Background()) }()
	<-started

	assert.False(t, h.wf.CanValidate())
	assert.ErrorIs(t, h.wf.Validate(context.Background()), ErrBusy)
	assert.ErrorIs(t, h.wf.ChooseFile(UploadedFile{Name: "other.xlsx", Content: []byte("x")}), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.validator.callCount())
	assert.Equal(t, PhaseReviewing, h.wf.State().Phase)
}

func TestWorkflow_SaveSuccessResets(t *testing.T) {
	h := newHarness(validRiskReport)
	h.choose(t)
	require.NoError(t, h.wf.Validate(context.Background()))
	report := h.wf.State().Report

	require.NoError(t, h.wf.Save(context.Background()))

	st := h.wf.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.Selector)
	assert.Nil(t, st.File)
	assert.Nil(t, st.Report)
	assert.Equal(t, "Saved!", st.Notice)
	assert.Equal(t, 1, h.persister.calls)
	assert.Equal(t, report.Previews, h.persister.previews)
}

func TestWorkflow_SaveFailureKeepsReport(t *testing.T) {
	h := newHarness(validRiskReport)
	h.persister.err = NewOperationError(OpSave, KindServiceFault, 500, "disk full", nil)
	h.choose(t)
	require.NoError(t, h.wf.Validate(context.Background()))
	report := h.wf.State().Report

	err := h.wf.Save(context.Background())
	require.Error(t, err)
	assert.True(t, IsSaveError(err))

	st := h.wf.State()
	assert.Equal(t, PhaseReviewing, st.Phase)
	assert.Same(t, report, st.Report)
	assert.Equal(t, DatasetRisk, st.Selector)
	assert.True(t, st.CanSave, "operator may retry")
	assert.Equal(t, "disk full", MapError(st.Err).Message)
}

func TestWorkflow_SaveWithoutReport(t *testing.T) {
	h := newHarness(validRiskReport)
	h.choose(t)

	assert.ErrorIs(t, h.wf.Save(context.Background()), ErrNoReport)
	assert.Zero(t, h.persister.calls)
}

func TestWorkflow_RevalidateReplacesReport(t *testing.T) {
	h := newHarness(validRiskReport)
	h.choose(t)
	require.NoError(t, h.wf.Validate(context.Background()))
	first := h.wf.State().Report

	require.NoError(t, h.wf.Validate(context.Background()))
	second := h.wf.State().Report

	assert.NotSame(t, first, second)
	assert.Equal(t, PhaseReviewing, h.wf.State().Phase)
}

func TestWorkflow_FailedRevalidateDropsReport(t *testing.T) {
	h := newHarness(validRiskReport)
	h.choose(t)
	require.NoError(t, h.wf.Validate(context.Background()))

	h.validator.fn = func(context.Context, DatasetSelector, *UploadedFile) (*ValidationReport, error) {
		return nil, NewOperationError(OpValidate, KindServiceFault, 500, "", nil)
	}
	require.Error(t, h.wf.Validate(context.Background()))

	st := h.wf.State()
	assert.Equal(t, PhaseSelecting, st.Phase)
	assert.Nil(t, st.Report)
	assert.Equal(t, "SVC003", MapError(st.Err).Code)
}

func TestWorkflow_SelectorLockedForCycle(t *testing.T) {
	h := newHarness(validRiskReport)
	require.NoError(t, h.wf.SelectDataset(DatasetRisk))
	require.NoError(t, h.wf.SelectDataset(DatasetRisk))

	assert.ErrorIs(t, h.wf.SelectDataset(DatasetPnL), ErrSelectorLocked)
	assert.ErrorIs(t, h.wf.SelectDataset("Bogus"), ErrUnknownDataset)

	h.wf.Clear()
	assert.NoError(t, h.wf.SelectDataset(DatasetPnL))
}

func TestWorkflow_NewFileWhileReviewingDropsReport(t *testing.T) {
	h := newHarness(validRiskReport)
	h.choose(t)
	require.NoError(t, h.wf.Validate(context.Background()))

	require.NoError(t, h.wf.ChooseFile(UploadedFile{Name: "risk-v2.xlsx", Content: []byte("y")}))

	st := h.wf.State()
	assert.Equal(t, PhaseSelecting, st.Phase)
	assert.Nil(t, st.Report)
	assert.Equal(t, "risk-v2.xlsx", st.File.Name)
}

func TestWorkflow_EmptyFileRejected(t *testing.T) {
	h := newHarness(validRiskReport)
	assert.ErrorIs(t, h.wf.ChooseFile(UploadedFile{Name: "empty.xlsx"}), ErrEmptyFile)
	assert.Equal(t, PhaseIdle, h.wf.State().Phase)
}

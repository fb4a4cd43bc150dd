package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/sheetgate/internal/core"
	"github.com/JonMunkholm/sheetgate/internal/export"
	"github.com/JonMunkholm/sheetgate/internal/logging"
)

// heartbeatInterval keeps idle status streams alive through proxies.
const heartbeatInterval = 30 * time.Second

var (
	errNoFile  = errors.New("no file provided")
	errBadForm = errors.New("invalid form")
)

// reportView is the review screen's view of a report.
type reportView struct {
	Valid        bool                  `json:"valid"`
	FailedChecks []string              `json:"failed_checks,omitempty"`
	Tables       []core.AnnotatedTable `json:"tables"`
}

// stateView is the JSON body of GET /api/state and of successful actions.
type stateView struct {
	core.State
	Error  *ErrorResponse `json:"error,omitempty"`
	Report *reportView    `json:"report,omitempty"`
}

func (s *Server) view(sess *session) stateView {
	st := sess.workflow.State()
	v := stateView{State: st}
	if st.Err != nil {
		resp := newErrorResponse(st.Err)
		v.Error = &resp
	}
	if st.Report != nil {
		v.Report = &reportView{
			Valid:        st.Report.Valid,
			FailedChecks: st.Report.FailedChecks(),
			Tables:       core.Annotate(st.Report, s.cfg.Review.PreviewRows),
		}
	}
	return v
}

// respondOK answers a successful action: JSON clients get the new state,
// browsers are sent back to the page.
func (s *Server) respondOK(w http.ResponseWriter, r *http.Request, sess *session) {
	if !wantsJSON(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, s.view(sess))
}

// respondActionError is respondError for actions whose remote failures are
// already recorded in the workflow state. Browsers see those on the page, so
// they are not repeated as a flash message.
func (s *Server) respondActionError(w http.ResponseWriter, r *http.Request, sess *session, err error) {
	if kind := core.KindOf(err); kind != "" && kind != core.KindMissingInput && !wantsJSON(r) {
		logging.FromContext(r.Context()).Warn("action failed", "path", r.URL.Path, "kind", kind, "error", err)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.respondError(w, r, sess, err)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"validator": string(s.deps.Status.Availability()),
	})
}

type statusResponse struct {
	Availability core.Availability   `json:"availability"`
	Calls        *core.LimiterStatus `json:"calls,omitempty"`
	Sessions     int                 `json:"sessions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Availability: s.deps.Status.Availability(),
		Sessions:     s.sessions.count(),
	}
	if s.deps.Limiter != nil {
		calls := s.deps.Limiter.Status()
		resp.Calls = &calls
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatusStream pushes availability changes as server-sent events. The
// current value is sent first so a fresh page never waits a poll interval.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	updates, unsubscribe := s.deps.Status.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	send := func(a core.Availability) error {
		data, _ := json.Marshal(map[string]core.Availability{"availability": a})
		if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := send(s.deps.Status.Availability()); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case a, ok := <-updates:
			if !ok {
				// Monitor stopped: the server is shutting down.
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				_ = rc.Flush()
				return
			}
			if err := send(a); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.Datasets())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	writeJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) handleSelectDataset(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)

	raw, err := datasetParam(r)
	if err != nil {
		s.respondError(w, r, sess, err)
		return
	}
	sel, err := core.ParseSelector(raw)
	if err != nil {
		s.respondError(w, r, sess, err)
		return
	}
	if err := sess.workflow.SelectDataset(sel); err != nil {
		s.respondError(w, r, sess, err)
		return
	}
	s.respondOK(w, r, sess)
}

// datasetParam reads "dataset" from a JSON body or a form field.
func datasetParam(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Dataset string `json:"dataset"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
			return "", fmt.Errorf("%w: %v", errBadForm, err)
		}
		return body.Dataset, nil
	}
	return r.FormValue("dataset"), nil
}

// handleChooseFile accepts a multipart upload in field "file". The same form
// may carry "dataset" to select it first and "validate" to validate at once.
func (s *Server) handleChooseFile(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.respondError(w, r, sess, err)
			return
		}
		s.respondError(w, r, sess, fmt.Errorf("%w: %v", errBadForm, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	if raw := r.FormValue("dataset"); raw != "" {
		sel, err := core.ParseSelector(raw)
		if err == nil {
			err = sess.workflow.SelectDataset(sel)
		}
		if err != nil {
			s.respondError(w, r, sess, err)
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, sess, errNoFile)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, sess, fmt.Errorf("read upload: %w", err))
		return
	}

	upload := core.UploadedFile{Name: filepath.Base(header.Filename), Content: content}
	if err := sess.workflow.ChooseFile(upload); err != nil {
		s.respondError(w, r, sess, err)
		return
	}

	if validate, _ := strconv.ParseBool(r.FormValue("validate")); validate {
		if err := sess.workflow.Validate(r.Context()); err != nil {
			s.respondActionError(w, r, sess, err)
			return
		}
	}
	s.respondOK(w, r, sess)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	if err := sess.workflow.Validate(r.Context()); err != nil {
		s.respondActionError(w, r, sess, err)
		return
	}
	s.respondOK(w, r, sess)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	if err := sess.workflow.Save(r.Context()); err != nil {
		s.respondActionError(w, r, sess, err)
		return
	}
	s.respondOK(w, r, sess)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	sess.workflow.Clear()
	s.respondOK(w, r, sess)
}

// handleExport downloads the current report as a workbook.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	st := sess.workflow.State()
	if st.Report == nil {
		s.respondError(w, r, sess, core.ErrNoReport)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteReport(&buf, st.Report); err != nil {
		s.respondError(w, r, sess, fmt.Errorf("export report: %w", err))
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, export.FileName(st.Selector, time.Now())))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

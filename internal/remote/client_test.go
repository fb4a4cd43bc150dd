package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetgate/internal/core"
)

// fakeService mimics the validation service closely enough to exercise the
// client: it reads the first sheet of the upload and flags negative
// exposures.
type fakeService struct {
	mu        sync.Mutex
	saved     map[string]json.RawMessage
	requestID string
	filename  string
	fileType  string
}

func (f *fakeService) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/validate/{dataset}", f.validate)
	r.Post("/save/{dataset}", f.save)
	return r
}

func (f *fakeService) validate(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "dataset") != "Risk" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid dataset"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "file"}, "msg": "Field required"}},
		})
		return
	}
	defer file.Close()

	f.mu.Lock()
	f.requestID = r.Header.Get(middleware.RequestIDHeader)
	f.filename = header.Filename
	f.fileType = header.Header.Get("Content-Type")
	f.mu.Unlock()

	book, err := excelize.OpenReader(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	defer book.Close()

	rows, err := book.GetRows(book.GetSheetList()[0])
	if err != nil || len(rows) == 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "empty sheet"})
		return
	}

	var records []string
	var locations [][]any
	valid := true
	for i, row := range rows[1:] {
		exposure, _ := strconv.ParseFloat(row[2], 64)
		records = append(records, fmt.Sprintf(`{"date":%q,"risk_factor":%q,"exposure":%s}`, row[0], row[1], row[2]))
		if exposure <= 0 {
			valid = false
			locations = append(locations, []any{i, "exposure"})
		}
	}
	locs, _ := json.Marshal(locations)
	if locations == nil {
		locs = []byte("[]")
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"valid":%t,"check_results":{"risk":{"Checksum":{"passed":%t,"msg":"checked"}}},"errors":[],`+
		`"previews":{"risk":[%s]},"error_locations":{"risk":%s}}`,
		valid, valid, strings.Join(records, ","), locs)
}

func (f *fakeService) save(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	f.mu.Lock()
	f.saved = body
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Saved!"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func riskWorkbook(t *testing.T, rows ...[]any) *core.UploadedFile {
	t.Helper()
	book := excelize.NewFile()
	defer book.Close()

	require.NoError(t, book.SetSheetRow("Sheet1", "A1", &[]any{"date", "risk_factor", "exposure"}))
	for i, row := range rows {
		require.NoError(t, book.SetSheetRow("Sheet1", fmt.Sprintf("A%d", i+2), &row))
	}
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)
	return &core.UploadedFile{Name: "risk.xlsx", Content: buf.Bytes()}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8000", "ftp://host", "http://"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}

	c, err := New("http://validator:8000/")
	require.NoError(t, err)
	assert.Equal(t, "http://validator:8000", c.BaseURL())
}

func TestClient_Probe(t *testing.T) {
	fake := &fakeService{}
	c := newTestClient(t, fake.router())
	assert.NoError(t, c.Probe(context.Background()))

	down := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	assert.Error(t, down.Probe(context.Background()))
}

func TestClient_ProbeCustomPath(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithHealthPath("livez"))
	require.NoError(t, err)
	require.NoError(t, c.Probe(context.Background()))
	assert.Equal(t, "/livez", path)
}

func TestClient_ValidateWorkbook(t *testing.T) {
	fake := &fakeService{}
	c := newTestClient(t, fake.router())
	file := riskWorkbook(t,
		[]any{"2024-01-31", "FX", 120.5},
		[]any{"2024-01-31", "Rates", -3},
	)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	report, err := c.Validate(ctx, core.DatasetRisk, file)
	require.NoError(t, err)

	assert.False(t, report.Valid)
	assert.True(t, report.IsCellFlagged("risk", 1, "exposure"))
	assert.False(t, report.IsCellFlagged("risk", 0, "exposure"))
	require.Len(t, report.Previews["risk"], 2)
	assert.Equal(t, []string{"date", "risk_factor", "exposure"}, report.Previews["risk"][0].Columns())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "risk.xlsx", fake.filename)
	assert.Equal(t, file.ContentType(), fake.fileType)
	assert.Equal(t, "req-42", fake.requestID)
}

func TestClient_SaveSendsPreviews(t *testing.T) {
	fake := &fakeService{}
	c := newTestClient(t, fake.router())

	report, err := c.Validate(context.Background(), core.DatasetRisk, riskWorkbook(t, []any{"2024-01-31", "FX", 10}))
	require.NoError(t, err)

	msg, err := c.Save(context.Background(), core.DatasetRisk, report.Previews)
	require.NoError(t, err)
	assert.Equal(t, "Saved!", msg)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Contains(t, fake.saved, "risk")
	assert.JSONEq(t, `[{"date":"2024-01-31","risk_factor":"FX","exposure":10}]`, string(fake.saved["risk"]))
}

func TestClient_Classification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    core.ErrorKind
		wantMessage string
	}{
		{"server error with detail", 500, `{"detail":"database is locked"}`, core.KindServiceFault, "database is locked"},
		{"server error without body", 502, ``, core.KindServiceFault, ""},
		{"bad request detail", 400, `{"detail":"Invalid dataset"}`, core.KindRejected, "Invalid dataset"},
		{"structured detail", 422, `{"detail":[{"loc":["body","file"],"msg":"Field required"}]}`, core.KindRejected,
			`[{"loc":["body","file"],"msg":"Field required"}]`},
		{"status text fallback", 404, `not here`, core.KindRejected, "404 Not Found"},
		{"malformed report", 200, `<html>ok</html>`, core.KindRejected, "The validation service returned a malformed report"},
		{"report without valid", 200, `{"previews":{}}`, core.KindRejected, "The validation service returned a malformed report"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := c.Validate(context.Background(), core.DatasetRisk, &core.UploadedFile{Name: "r.xlsx", Content: []byte("x")})
			require.Error(t, err)

			var oe *core.OperationError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, core.OpValidate, oe.Op)
			assert.Equal(t, tt.wantKind, oe.Kind)
			assert.Equal(t, tt.wantMessage, oe.Message)
		})
	}
}

func TestClient_TruncatedBody(t *testing.T) {
	tests := []struct {
		name       string
		statusLine string
		wantKind   core.ErrorKind
		wantStatus int
	}{
		{"server error keeps its status", "HTTP/1.1 503 Service Unavailable", core.KindServiceFault, 503},
		{"success cut short is unreachable", "HTTP/1.1 200 OK", core.KindUnreachable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				conn, buf, err := http.NewResponseController(w).Hijack()
				if err != nil {
					t.Errorf("hijack: %v", err)
					return
				}
				defer conn.Close()
				_, _ = buf.WriteString(tt.statusLine + "\r\nContent-Type: application/json\r\nContent-Length: 100\r\n\r\n{\"detail\":")
				_ = buf.Flush()
			}))

			_, err := c.Validate(context.Background(), core.DatasetRisk, &core.UploadedFile{Name: "r.xlsx", Content: []byte("x")})
			require.Error(t, err)

			var oe *core.OperationError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, tt.wantKind, oe.Kind)
			assert.Equal(t, tt.wantStatus, oe.Status)
		})
	}
}

func TestClient_ConnectionRefusedIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := New(addr)
	require.NoError(t, err)

	_, err = c.Validate(context.Background(), core.DatasetRisk, &core.UploadedFile{Name: "r.xlsx", Content: []byte("x")})
	assert.Equal(t, core.KindUnreachable, core.KindOf(err))
	assert.Equal(t, "SVC001", core.MapError(err).Code)

	_, err = c.Save(context.Background(), core.DatasetRisk, core.Previews{})
	assert.Equal(t, core.KindUnreachable, core.KindOf(err))
	assert.True(t, core.IsSaveError(err))

	assert.Error(t, c.Probe(context.Background()))
}

func TestClient_DeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Validate(ctx, core.DatasetRisk, &core.UploadedFile{Name: "r.xlsx", Content: []byte("x")})
	assert.Equal(t, core.KindTimeout, core.KindOf(err))
}

func TestClient_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"valid":true,"previews":{},"error_locations":{}}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithMaxResponseSize(8))
	require.NoError(t, err)

	_, err = c.Validate(context.Background(), core.DatasetRisk, &core.UploadedFile{Name: "r.xlsx", Content: []byte("x")})
	assert.Equal(t, core.KindRejected, core.KindOf(err))
}

func TestClient_DatasetInPath(t *testing.T) {
	var got string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Path
		_, _ = io.WriteString(w, `{"message":"Saved!"}`)
	}))

	_, err := c.Save(context.Background(), core.DatasetPnL, core.Previews{})
	require.NoError(t, err)
	assert.Equal(t, "/save/P&L", got)
}

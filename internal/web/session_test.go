package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sheetgate/internal/core"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(clock *manualClock) *sessionStore {
	status := &fakeStatus{current: core.AvailabilityReady}
	st := newSessionStore("sid", false, time.Hour, func(string) *core.Workflow {
		return core.NewWorkflow(status, nil, nil, nil)
	})
	st.now = clock.now
	return st
}

func TestSessionStore_ReusesCookie(t *testing.T) {
	st := newTestStore(&manualClock{t: time.Now()})

	rec := httptest.NewRecorder()
	first := st.get(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, 3600, cookies[0].MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	second := st.get(rec, req)

	assert.Same(t, first, second)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, 1, st.count())
}

func TestSessionStore_UnknownCookieStartsFresh(t *testing.T) {
	st := newTestStore(&manualClock{t: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "forged"})
	rec := httptest.NewRecorder()
	s := st.get(rec, req)

	assert.NotEqual(t, "forged", s.id)
	require.Len(t, rec.Result().Cookies(), 1)
}

func TestSessionStore_SweepExpiresIdle(t *testing.T) {
	clock := &manualClock{t: time.Now()}
	st := newTestStore(clock)

	idle := st.get(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, idle.workflow.SelectDataset(core.DatasetRisk))

	clock.advance(30 * time.Minute)
	active := st.get(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	clock.advance(45 * time.Minute)
	assert.Equal(t, 1, st.sweep())
	assert.Equal(t, 1, st.count())
	assert.Equal(t, core.PhaseIdle, idle.workflow.State().Phase)

	st.mu.Lock()
	_, ok := st.sessions[active.id]
	st.mu.Unlock()
	assert.True(t, ok)
}

func TestSession_FlashIsOneShot(t *testing.T) {
	s := &session{}
	s.setFlash(core.UserMessage{Message: "hello", Code: "WF001"})
	got := s.takeFlash()
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Message)
	assert.Nil(t, s.takeFlash())
}

func TestRateLimiter_Window(t *testing.T) {
	clock := &manualClock{t: time.Now()}
	rl := newRateLimiter(2, time.Minute)
	rl.now = clock.now

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"), "limits are per address")

	clock.advance(61 * time.Second)
	assert.True(t, rl.allow("10.0.0.1"))
}

func TestRateLimiter_Prune(t *testing.T) {
	clock := &manualClock{t: time.Now()}
	rl := newRateLimiter(5, time.Minute)
	rl.now = clock.now

	rl.allow("10.0.0.1")
	clock.advance(90 * time.Second)
	rl.allow("10.0.0.2")
	clock.advance(45 * time.Second)
	rl.prune()

	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "192.0.2.1", clientIP("192.0.2.1:1234"))
	assert.Equal(t, "2001:db8::1", clientIP("[2001:db8::1]:80"))
	assert.Equal(t, "192.0.2.1", clientIP("192.0.2.1"))
}

func TestWantsJSON(t *testing.T) {
	tests := []struct {
		name        string
		accept      string
		contentType string
		want        bool
	}{
		{"explicit json", "application/json", "multipart/form-data; boundary=x", true},
		{"browser navigation", "text/html,application/xhtml+xml", "", false},
		{"form post", "", "application/x-www-form-urlencoded", false},
		{"multipart form", "", "multipart/form-data; boundary=x", false},
		{"bare client", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/validate", nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			assert.Equal(t, tt.want, wantsJSON(req))
		})
	}
}

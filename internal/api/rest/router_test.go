package rest_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robinbraemer/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iggydv12/waypoint/internal/api/rest"
	"github.com/iggydv12/waypoint/internal/notify"
	"github.com/iggydv12/waypoint/internal/presence"
	"github.com/iggydv12/waypoint/internal/service"
	"github.com/iggydv12/waypoint/internal/storage"
	"github.com/iggydv12/waypoint/internal/timer"
)

func setupServer(t *testing.T, opts rest.Options) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	reg := storage.NewRegistry(storage.NewFileBackend(t.TempDir(), logger), storage.Options{MaxHomes: 1}, logger)
	require.NoError(t, reg.Init())
	t.Cleanup(func() { reg.Close() })

	events := event.New()
	online := presence.NewList(logger)
	online.Subscribe(events)
	mailbox := notify.NewMailbox(events, logger)
	mailbox.Subscribe(events)
	timers := timer.New(reg.Requests(), time.Hour, mailbox, logger)
	t.Cleanup(timers.Close)

	svc := service.New(reg, timers, online, mailbox, service.Options{
		TeleportDelay: 5 * time.Second,
		HistoryTTL:    time.Hour,
	}, logger)
	return rest.New(svc, events, online, mailbox, opts, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestTeleportRequestFlow(t *testing.T) {
	h := setupServer(t, rest.Options{})

	code, _ := do(t, h, http.MethodPost, "/waypoint/server/start", `{"players":["steve","alex"],"limit":20}`)
	require.Equal(t, http.StatusNoContent, code)

	code, body := do(t, h, http.MethodPost, "/waypoint/tpa/notch", `{"requester":"alex"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "not_online", body["code"])

	code, _ = do(t, h, http.MethodPost, "/waypoint/tpa/steve", `{"requester":"alex"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body = do(t, h, http.MethodPost, "/waypoint/tpa/steve", `{"requester":"alex"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "request_exists", body["code"])

	code, body = do(t, h, http.MethodGet, "/waypoint/tpa/steve", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alex", body["requester"])

	code, body = do(t, h, http.MethodGet, "/waypoint/inbox/steve", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["messages"], 1)

	code, body = do(t, h, http.MethodPost, "/waypoint/tpa/steve/accept", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alex", body["requester"])
	assert.Equal(t, 5.0, body["delaySeconds"])

	code, body = do(t, h, http.MethodPost, "/waypoint/tpa/steve/decline", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "no_pending_request", body["code"])
}

func TestRequestValidation(t *testing.T) {
	h := setupServer(t, rest.Options{})

	code, body := do(t, h, http.MethodPost, "/waypoint/tpa/steve", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid", body["code"])

	do(t, h, http.MethodPost, "/waypoint/presence/steve", "")
	code, body = do(t, h, http.MethodPost, "/waypoint/tpa/steve", `{"requester":"steve"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "self_request", body["code"])
}

func TestHomeEndpoints(t *testing.T) {
	h := setupServer(t, rest.Options{})

	code, body := do(t, h, http.MethodPut, "/waypoint/home/steve/base", `{"x":1,"y":64,"z":2,"realm":-1}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 1.0, body["count"])

	code, body = do(t, h, http.MethodPut, "/waypoint/home/steve/mine", `{"x":1,"y":64,"z":2,"realm":0}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "home_limit", body["code"])

	code, _ = do(t, h, http.MethodPut, "/waypoint/home/steve/bad", `{"x":1,"y":64,"z":2,"realm":7}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, h, http.MethodGet, "/waypoint/home/steve/base", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, -1.0, body["realm"])

	code, body = do(t, h, http.MethodGet, "/waypoint/home/steve", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["max"])
	assert.Contains(t, body["homes"], "base")

	code, _ = do(t, h, http.MethodDelete, "/waypoint/home/steve/base", "")
	assert.Equal(t, http.StatusOK, code)

	code, body = do(t, h, http.MethodDelete, "/waypoint/home/steve/base", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "home_not_found", body["code"])
}

func TestBackEndpoints(t *testing.T) {
	h := setupServer(t, rest.Options{})

	code, body := do(t, h, http.MethodPost, "/waypoint/back/steve", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "no_history", body["code"])

	code, _ = do(t, h, http.MethodPut, "/waypoint/history/steve", `{"x":10,"y":70,"z":10,"realm":"minecraft:the_end"}`)
	require.Equal(t, http.StatusNoContent, code)

	code, body = do(t, h, http.MethodGet, "/waypoint/history/steve", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["warned"])

	code, body = do(t, h, http.MethodPost, "/waypoint/back/steve", `{"from":{"x":0,"y":0,"z":0,"realm":0}}`)
	require.Equal(t, http.StatusOK, code)
	loc := body["location"].(map[string]any)
	assert.Equal(t, 10.0, loc["x"])
	assert.Equal(t, "minecraft:the_end", loc["realm"])

	code, body = do(t, h, http.MethodGet, "/waypoint/history/steve", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.0, body["x"])
}

func TestInboxDroppedWhenPlayerLeaves(t *testing.T) {
	h := setupServer(t, rest.Options{})

	do(t, h, http.MethodPost, "/waypoint/server/start", `{"players":["steve","alex"],"limit":20}`)
	code, _ := do(t, h, http.MethodPost, "/waypoint/tpa/steve", `{"requester":"alex"}`)
	require.Equal(t, http.StatusCreated, code)

	do(t, h, http.MethodDelete, "/waypoint/presence/steve", "")

	code, body := do(t, h, http.MethodGet, "/waypoint/inbox/steve", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["messages"])
}

func TestPresenceEndpoints(t *testing.T) {
	h := setupServer(t, rest.Options{})

	do(t, h, http.MethodPost, "/waypoint/presence/steve", "")
	do(t, h, http.MethodPost, "/waypoint/presence/alex", "")
	do(t, h, http.MethodDelete, "/waypoint/presence/steve", "")

	code, body := do(t, h, http.MethodGet, "/waypoint/presence", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"alex"}, body["players"])

	do(t, h, http.MethodPost, "/waypoint/server/stop", "")
	_, body = do(t, h, http.MethodGet, "/waypoint/presence", "")
	assert.Equal(t, 0.0, body["count"])
}

func TestRateLimit(t *testing.T) {
	h := setupServer(t, rest.Options{RateLimit: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		code, _ := do(t, h, http.MethodGet, "/waypoint/presence", "")
		require.Equal(t, http.StatusOK, code)
	}
	code, body := do(t, h, http.MethodGet, "/waypoint/presence", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", body["code"])
}

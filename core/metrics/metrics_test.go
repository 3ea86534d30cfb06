package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSinkAppend(t *testing.T) {
	before := testutil.ToFloat64(sinkAppendTotal.WithLabelValues("sheets", "fail"))
	RecordSinkAppend("sheets", errors.New("boom"), 10*time.Millisecond)
	RecordSinkAppend("sheets", nil, 5*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(sinkAppendTotal.WithLabelValues("sheets", "fail")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(sinkAppendTotal.WithLabelValues("sheets", "ok")), 1.0)
}

func TestRecordAnswerAndSessions(t *testing.T) {
	RecordAnswer("email", false)
	assert.GreaterOrEqual(t, testutil.ToFloat64(answersTotal.WithLabelValues("email", "rejected")), 1.0)

	SetSessions(4, 1)
	assert.Equal(t, 4.0, testutil.ToFloat64(activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(pendingRecords))
}

func TestRouter(t *testing.T) {
	InitMetrics()
	RecordUpdate("message")

	srv := httptest.NewServer(NewRouter(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "onboardbot_updates_total"))
}

func TestRouterUnhealthy(t *testing.T) {
	h := NewRouter(func(context.Context) error { return errors.New("redis down") })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", NewRouter(nil)) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

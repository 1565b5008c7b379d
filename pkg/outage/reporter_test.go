package outage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-pathsync/internal/httpc"
	"github.com/teslashibe/go-pathsync/internal/log"
)

func TestHTTPReporterPostsReport(t *testing.T) {
	got := make(chan Report, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var rep Report
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rep))
		got <- rep
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r, err := NewHTTPReporter(srv.URL, srv.Client(), log.Discard())
	require.NoError(t, err)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err = r.ReportOutage(context.Background(), Report{
		SessionID: "s1",
		PathID:    "p1",
		Reason:    "path_end_failed",
		Error:     "not connected",
		At:        at,
	})
	require.NoError(t, err)

	rep := <-got
	assert.Equal(t, "s1", rep.SessionID)
	assert.Equal(t, "p1", rep.PathID)
	assert.Equal(t, "path_end_failed", rep.Reason)
	assert.True(t, rep.At.Equal(at))
}

func TestHTTPReporterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r, err := NewHTTPReporter(srv.URL, nil, log.Discard())
	require.NoError(t, err)

	err = r.ReportOutage(context.Background(), Report{SessionID: "s1", Reason: "x"})
	var se *httpc.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestFromURL(t *testing.T) {
	if _, ok := FromURL("", nil).(NopReporter); !ok {
		t.Error("empty url should give a NopReporter")
	}
	if _, ok := FromURL("http://localhost:1/outage", nil).(*HTTPReporter); !ok {
		t.Error("url should give an HTTPReporter")
	}
	if _, err := NewHTTPReporter("", nil, nil); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("err = %v, want ErrNoEndpoint", err)
	}
}

// Package outage escalates failures that the primary collector channel
// could not deliver to a secondary HTTP endpoint.
package outage

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-pathsync/internal/httpc"
)

// ErrNoEndpoint is returned by NewHTTPReporter when no URL is configured.
var ErrNoEndpoint = errors.New("outage: no endpoint configured")

// Report is the payload posted to the outage endpoint.
type Report struct {
	SessionID string    `json:"sessionId"`
	PathID    string    `json:"pathId,omitempty"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Reporter delivers outage reports.
type Reporter interface {
	ReportOutage(ctx context.Context, report Report) error
}

// HTTPReporter posts reports as JSON.
type HTTPReporter struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPReporter creates a reporter for url. A nil client uses the shared
// httpc client.
func NewHTTPReporter(url string, client *http.Client, logger *slog.Logger) (*HTTPReporter, error) {
	if url == "" {
		return nil, ErrNoEndpoint
	}
	if client == nil {
		client = httpc.NewClient(10 * time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReporter{url: url, client: client, logger: logger}, nil
}

// ReportOutage posts report. A zero At is stamped with the current time.
func (r *HTTPReporter) ReportOutage(ctx context.Context, report Report) error {
	if report.At.IsZero() {
		report.At = time.Now().UTC()
	}
	if err := httpc.PostJSON(ctx, r.client, r.url, report); err != nil {
		r.logger.Error("outage report failed", "session_id", report.SessionID, "error", err)
		return err
	}
	r.logger.Warn("outage reported", "session_id", report.SessionID, "path_id", report.PathID, "reason", report.Reason)
	return nil
}

// NopReporter drops every report.
type NopReporter struct{}

// ReportOutage does nothing.
func (NopReporter) ReportOutage(context.Context, Report) error { return nil }

// FromURL returns an HTTPReporter for url, or a NopReporter when url is empty.
func FromURL(url string, logger *slog.Logger) Reporter {
	r, err := NewHTTPReporter(url, nil, logger)
	if err != nil {
		return NopReporter{}
	}
	return r
}

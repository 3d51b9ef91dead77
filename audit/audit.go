// Package audit records the append-only audit trail. The local SQLite trail
// is authoritative; the external sink receives a best-effort copy.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/opsgate/releasegate/models"
)

// Store is the durable local side of the trail.
type Store interface {
	AppendAuditEntry(entry *models.AuditEntry) error
}

// Logger appends audit entries to the local store and forwards them to an
// optional external sink. Entries are immutable once emitted.
type Logger struct {
	store   Store
	sinkURL string
	token   string
	client  *http.Client
	log     *slog.Logger
}

func NewLogger(store Store, sinkURL, token string, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{
		store:   store,
		sinkURL: sinkURL,
		token:   token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// Append records one audit entry. Failures are logged, never propagated: a
// broken sink must not block or fail a regulated deployment, and the
// pipeline has already printed the underlying event to the operator.
func (l *Logger) Append(ctx context.Context, entry models.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if err := l.store.AppendAuditEntry(&entry); err != nil {
		l.log.Error("failed to append audit entry", "action", entry.Action, "error", err)
	}

	if l.sinkURL == "" {
		return
	}
	if err := l.forward(ctx, entry); err != nil {
		l.log.Warn("failed to deliver audit entry to sink", "action", entry.Action, "error", err)
	}
}

func (l *Logger) forward(ctx context.Context, entry models.AuditEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.sinkURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return &SinkError{Status: resp.StatusCode}
	}
	return nil
}

// SinkError reports a non-2xx response from the external audit sink.
type SinkError struct {
	Status int
}

func (e *SinkError) Error() string {
	return "audit sink returned status " + http.StatusText(e.Status)
}

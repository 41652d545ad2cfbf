package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"docvault.org/internal/access"
	"docvault.org/internal/obs"
)

type fakeStore struct {
	entries []Entry
	fail    bool
}

func (s *fakeStore) Append(_ context.Context, e *Entry) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.entries = append(s.entries, *e)
	return nil
}

func (s *fakeStore) Query(_ context.Context, _ Filter) ([]Entry, error) {
	return s.entries, nil
}

func TestRecordPersistsAndLogs(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	store := &fakeStore{}
	rec, err := NewRecorder(store)
	if err != nil {
		t.Fatal(err)
	}

	ctx := WithRequestID(context.Background(), "req-7")
	entry := NewEntry("doc-1", "user-1", access.ActionView, OutcomeDenied, access.ReasonSensitivity)
	if err := rec.Record(ctx, entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(store.entries))
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["type"] != "audit" || line["outcome"] != "denied" {
		t.Fatalf("unexpected line: %v", line)
	}
	if line["request_id"] != "req-7" {
		t.Fatalf("unexpected request id: %v", line["request_id"])
	}
	if line["reason"] != access.ReasonSensitivity {
		t.Fatalf("unexpected reason: %v", line["reason"])
	}
}

func TestRecordFailureIsFatal(t *testing.T) {
	rec, _ := NewRecorder(&fakeStore{fail: true})
	entry := NewEntry("doc-1", "user-1", access.ActionView, OutcomeSuccess, "")
	err := rec.Record(context.Background(), entry)
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
}

func TestValidateRequiresReason(t *testing.T) {
	entry := NewEntry("doc-1", "user-1", access.ActionDownload, OutcomeFailed, "")
	if err := entry.Validate(); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
	entry.Reason = "storage unavailable"
	if err := entry.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEmitWritesJSONLine(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	Emit(map[string]any{"event": "storage.put", "key": "reports/2026-01-01/a.html"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["event"] != "storage.put" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
}

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pithecene-io/colony/types"
)

func TestLogger_SessionFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&types.SessionMeta{SessionID: "s-1", ListenAddr: ":5000"}, &buf)

	l.Warn("decode failed", map[string]any{"peer": "10.0.0.2:4000"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
	if entry["message"] != "decode failed" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["session_id"] != "s-1" || entry["listen_addr"] != ":5000" {
		t.Errorf("context fields missing: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["peer"] != "10.0.0.2:4000" {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_NilMeta(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter(nil, &buf).Info("hello", nil)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := entry["session_id"]; ok {
		t.Error("unexpected session_id without meta")
	}
}

func TestLogger_WithOutput(t *testing.T) {
	var first, second bytes.Buffer
	l := NewLoggerWithWriter(&types.SessionMeta{SessionID: "s-2"}, &first).WithOutput(&second)

	l.Info("moved", nil)
	if first.Len() != 0 {
		t.Error("original writer should be unused")
	}
	if !bytes.Contains(second.Bytes(), []byte(`"session_id":"s-2"`)) {
		t.Errorf("context fields lost: %s", second.String())
	}
}

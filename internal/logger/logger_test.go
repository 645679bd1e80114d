package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf})

	l.Info("hello").Str("k", "v").Send()

	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) {
		t.Fatalf("expected the message field in output, got %q", out)
	}
	if !strings.Contains(out, `"service":"emberkv"`) {
		t.Fatalf("expected the service field in output, got %q", out)
	}
	if !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("expected the extra field in output, got %q", out)
	}
}

func TestEngineLoggerAddsComponentAndURI(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf})
	el := l.EngineLogger("file:data.wt")

	el.Info("opened").Send()

	out := buf.String()
	if !strings.Contains(out, `"component":"engine"`) || !strings.Contains(out, `"uri":"file:data.wt"`) {
		t.Fatalf("expected component and uri fields, got %q", out)
	}
}

func TestWithFieldsCarriesIntoSubsequentEvents(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf}).WithFields(map[string]interface{}{"txn_id": 7})

	l.Debug("checking conflict").Send()

	out := buf.String()
	if !strings.Contains(out, `"txn_id":7`) {
		t.Fatalf("expected the carried field, got %q", out)
	}
}

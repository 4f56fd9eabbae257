package logger

import (
	"bytes"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Level{
		"":        log.InfoLevel,
		"debug":   log.DebugLevel,
		"WARN":    log.WarnLevel,
		"verbose": log.InfoLevel,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestForTaskAddsFields(t *testing.T) {
	var buf bytes.Buffer
	original := L().Out
	L().SetOutput(&buf)
	defer L().SetOutput(original)

	ForTask("1:-100->-200", "run-1").Info("cycle done")

	out := buf.String()
	// 含 ':' 与 '>' 的值会被 TextFormatter 加引号
	if !strings.Contains(out, `task="1:-100->-200"`) || !strings.Contains(out, "run_id=run-1") {
		t.Fatalf("expected task fields in log line, got %q", out)
	}
}

package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected json warn line, got %s", out)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "text").Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %s", buf.String())
	}
}

func TestCronLoggerError(t *testing.T) {
	var buf bytes.Buffer
	cl := CronLogger{Logger: newLogger(&buf, "info", "json")}
	cl.Info("skip", "entry", 1)
	cl.Error(errors.New("boom"), "job failed")
	out := buf.String()
	if strings.Contains(out, "skip") {
		t.Fatalf("cron info is debug level: %s", out)
	}
	if !strings.Contains(out, "boom") {
		t.Fatalf("expected error in output: %s", out)
	}
	CronLogger{}.Error(errors.New("x"), "nil logger is fine")
}

package main

import (
	"bytes"
	"testing"
)

func TestReporterWritesPlainTextWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	report := newReporter(&buf)

	if err := report.warning("1 parent item(s) could not be retrieved"); err != nil {
		t.Fatalf("warning: %v", err)
	}
	if err := report.summary(3, "plan.xlsx", true); err != nil {
		t.Fatalf("summary: %v", err)
	}

	want := "warning: 1 parent item(s) could not be retrieved\nexported 3 task(s) to plan.xlsx (hierarchy)\n"
	if got := buf.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

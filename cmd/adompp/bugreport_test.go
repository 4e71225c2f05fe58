package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunBugReportCreatesArchiveWithRedactedConfigAndLogs(t *testing.T) {
	restore := snapshotBugreportHooks()
	defer restore()

	fixture := setupBugreportFixture(t)

	var out bytes.Buffer
	if err := runBugReport(&out); err != nil {
		t.Fatalf("run bugreport: %v", err)
	}
	if !strings.Contains(out.String(), "Bug report written to:") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	archivePath := filepath.Join(fixture.cwd, "adompp-bugreport-20260211-100000.tar.gz")
	contents := extractTarballTextFiles(t, archivePath)

	for _, name := range []string{"README.txt", "version.txt", "config-home.toml", "config-project.toml"} {
		if _, ok := contents[name]; !ok {
			t.Fatalf("missing artifact %q in bugreport archive", name)
		}
	}

	logCount := 0
	for name := range contents {
		if strings.HasPrefix(name, "logs/") {
			logCount++
		}
	}
	if logCount != 3 {
		t.Fatalf("log file count = %d, want 3 most recent logs", logCount)
	}

	home := contents["config-home.toml"]
	if strings.Contains(home, "supersecret") {
		t.Fatalf("config should be redacted: %q", home)
	}
	if !strings.Contains(home, "***REDACTED***") || !strings.Contains(home, `pat_env = "ADO_PAT"`) {
		t.Fatalf("unexpected redaction: %q", home)
	}
	if !strings.Contains(contents["version.txt"], "run-123") {
		t.Fatalf("missing run id: %q", contents["version.txt"])
	}
	if !strings.Contains(contents["README.txt"], "config unavailable") && !strings.Contains(contents["README.txt"], "unable to read config") {
		t.Fatalf("readme should warn about the missing project config: %q", contents["README.txt"])
	}
}

func TestRunBugReportHandlesMissingLogs(t *testing.T) {
	restore := snapshotBugreportHooks()
	defer restore()

	home := filepath.Join(t.TempDir(), "home")
	cwd := filepath.Join(t.TempDir(), "cwd")
	for _, dir := range []string{home, cwd} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("create %s: %v", dir, err)
		}
	}

	bugreportHomeDirFn = func() (string, error) { return home, nil }
	bugreportGetwdFn = func() (string, error) { return cwd, nil }
	bugreportNowFn = func() time.Time { return time.Date(2026, 2, 11, 11, 0, 0, 0, time.UTC) }

	if err := runBugReport(&bytes.Buffer{}); err != nil {
		t.Fatalf("run bugreport: %v", err)
	}

	contents := extractTarballTextFiles(t, filepath.Join(cwd, "adompp-bugreport-20260211-110000.tar.gz"))
	readme := contents["README.txt"]
	if !strings.Contains(readme, "unable to read logs directory") {
		t.Fatalf("readme should include missing logs warning: %q", readme)
	}
	if !strings.Contains(readme, "no run_id found") {
		t.Fatalf("readme should include missing run id warning: %q", readme)
	}
	if !strings.Contains(contents["config-home.toml"], "config unavailable") {
		t.Fatalf("expected config placeholder, got: %q", contents["config-home.toml"])
	}
}

func snapshotBugreportHooks() func() {
	prevNow := bugreportNowFn
	prevHomeDir := bugreportHomeDirFn
	prevGetwd := bugreportGetwdFn
	return func() {
		bugreportNowFn = prevNow
		bugreportHomeDirFn = prevHomeDir
		bugreportGetwdFn = prevGetwd
	}
}

func extractTarballTextFiles(t *testing.T, archivePath string) map[string]string {
	t.Helper()

	// #nosec G304 -- archivePath is generated in the test-owned temp directory.
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		t.Fatalf("create gzip reader: %v", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	files := make(map[string]string)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read tar entry: %v", err)
		}
		data, err := io.ReadAll(tarReader)
		if err != nil {
			t.Fatalf("read tar entry %s: %v", header.Name, err)
		}
		files[header.Name] = string(data)
	}
	if len(files) == 0 {
		t.Fatalf("archive %s is empty", archivePath)
	}
	return files
}

type bugreportFixture struct {
	home string
	cwd  string
}

func setupBugreportFixture(t *testing.T) bugreportFixture {
	t.Helper()

	home := filepath.Join(t.TempDir(), "home")
	cwd := filepath.Join(t.TempDir(), "cwd")
	if err := os.MkdirAll(filepath.Join(home, ".adompp", "logs"), 0o750); err != nil {
		t.Fatalf("create logs dir: %v", err)
	}
	if err := os.MkdirAll(cwd, 0o750); err != nil {
		t.Fatalf("create cwd: %v", err)
	}

	baseTime := time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)
	writeBugreportLog(t, home, "adompp-1.log", `{"msg":"older"}`, baseTime.Add(-4*time.Minute))
	writeBugreportLog(t, home, "adompp-2.log", `{"msg":"middle"}`, baseTime.Add(-3*time.Minute))
	writeBugreportLog(t, home, "adompp-3.log", `{"msg":"export resolved","run_id":"run-123"}`, baseTime.Add(-2*time.Minute))
	writeBugreportLog(t, home, "adompp-4.log", `{"msg":"newest"}`, baseTime.Add(-1*time.Minute))

	configText := "organization = \"fabrikam\"\npat_env = \"ADO_PAT\"\napi_token = \"supersecret\"\n"
	if err := os.WriteFile(filepath.Join(home, ".adompp", "config.toml"), []byte(configText), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	bugreportHomeDirFn = func() (string, error) { return home, nil }
	bugreportGetwdFn = func() (string, error) { return cwd, nil }
	bugreportNowFn = func() time.Time { return time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC) }

	return bugreportFixture{home: home, cwd: cwd}
}

func writeBugreportLog(t *testing.T, home, name, content string, modTime time.Time) {
	t.Helper()

	path := filepath.Join(home, ".adompp", "logs", name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write log %s: %v", name, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func TestRedactSensitiveConfig(t *testing.T) {
	input := "api_key = \"abc\"\npassword=\"def\"\n# secret = comment\nproject = \"Fiber\"\n"
	got := redactSensitiveConfig(input)
	if strings.Contains(got, "abc") || strings.Contains(got, "def") {
		t.Fatalf("expected sensitive values to be redacted: %q", got)
	}
	if strings.Count(got, "***REDACTED***") != 2 {
		t.Fatalf("expected two redactions, got %q", got)
	}
	if !strings.Contains(got, `project = "Fiber"`) {
		t.Fatalf("non-sensitive key changed: %q", got)
	}
}

func TestNewestFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 4; i++ {
		path := filepath.Join(dir, fmt.Sprintf("log-%d.log", i))
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatalf("write file %d: %v", i, err)
		}
		mod := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("set modtime %d: %v", i, err)
		}
	}

	files, err := newestFiles(dir, 2)
	if err != nil {
		t.Fatalf("newestFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("file count = %d, want 2", len(files))
	}
	if !strings.HasSuffix(files[0].path, "log-4.log") || !strings.HasSuffix(files[1].path, "log-3.log") {
		t.Fatalf("files = %v, want log-4 then log-3", files)
	}
}

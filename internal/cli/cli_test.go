package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/blocklist"
	"github.com/miguelmartens/opgecanceld-blocklist/internal/discover"
)

type fakeFinder struct {
	domains  []string
	findings map[string]string
	err      error

	cfg      discover.Config
	existing blocklist.Set
}

func (f *fakeFinder) Run(context.Context) ([]string, error) {
	return f.domains, f.err
}

func (f *fakeFinder) Findings() map[string]string {
	return f.findings
}

func newTestApp(f *fakeFinder) *app {
	a := newApp()
	a.newFinder = func(cfg discover.Config, existing blocklist.Set, _ *slog.Logger) finder {
		f.cfg = cfg
		f.existing = existing
		return f
	}
	return a
}

func runCLI(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	t.Setenv("APP_ENV", "production")

	var out bytes.Buffer
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestBuildCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "opgecanceld-blocklist.txt"), "youtube-ads.com\n# comment\n\nyoutube-ads.com\ntracking.net\n")

	out, err := runCLI(t, newApp(), "--root", root, "build")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	output := filepath.Join(root, "opgecanceld-filters.txt")
	if want := "Generated " + output + " with 2 filter rules\n"; out != want {
		t.Errorf("expected %q, got %q", want, out)
	}

	got := readFile(t, output)
	if !strings.HasPrefix(got, "! --------------------------------------------\n! Opgecanceld - AdGuard / uBlock Origin filter list\n") {
		t.Errorf("unexpected header: %q", got)
	}
	if !strings.HasSuffix(got, "!\n||tracking.net^\n||youtube-ads.com^\n") {
		t.Errorf("unexpected rules: %q", got)
	}
}

func TestBuildCommand_Flags(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "custom.txt")
	out := filepath.Join(root, "custom-filters.txt")
	writeFile(t, in, "a.com\n")

	stdout, err := runCLI(t, newApp(), "--root", root, "build", "--blocklist", in, "--output", out)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(stdout, "with 1 filter rules") {
		t.Errorf("unexpected output %q", stdout)
	}
	if !strings.HasSuffix(readFile(t, out), "||a.com^\n") {
		t.Errorf("expected rule in custom output")
	}
}

func TestBuildCommand_ConfigHeader(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "opgecanceld-blocklist.txt"), "a.com\n")
	writeFile(t, filepath.Join(root, "opgecanceld.yaml"), "header:\n  homepage: https://example.org/opgecanceld\n")

	if _, err := runCLI(t, newApp(), "--root", root, "build"); err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := readFile(t, filepath.Join(root, "opgecanceld-filters.txt")); !strings.Contains(got, "! Homepage: https://example.org/opgecanceld\n") {
		t.Errorf("expected configured homepage in %q", got)
	}
}

func TestBuildCommand_MissingBlocklist(t *testing.T) {
	root := t.TempDir()

	_, err := runCLI(t, newApp(), "--root", root, "build")
	var fae *blocklist.FileAccessError
	if !errors.As(err, &fae) {
		t.Fatalf("expected *blocklist.FileAccessError, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "opgecanceld-filters.txt")); !os.IsNotExist(err) {
		t.Errorf("expected no output file, stat returned %v", err)
	}
}

func TestDiscoverCommand_Stdout(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "opgecanceld-blocklist.txt"), "Known.example.com\n")
	db := filepath.Join(root, "state", "discover.sqlite")

	f := &fakeFinder{
		domains: []string{"ads.example.com", "pagead.example.net"},
		findings: map[string]string{
			"ads.example.com":    "https://www.youtube.com/watch?v=a",
			"pagead.example.net": "https://www.youtube.com/watch?v=b",
		},
	}
	a := newTestApp(f)

	out, err := runCLI(t, a, "--root", root, "discover", "--db", db, "-d", "7s")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	if want := "# New domains to add:\nads.example.com\npagead.example.net\n"; out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
	if f.cfg.DurationPerVideo != 7*time.Second {
		t.Errorf("expected duration flag applied, got %v", f.cfg.DurationPerVideo)
	}
	if !f.existing.Contains("known.example.com") {
		t.Errorf("expected existing blocklist passed to finder, got %v", f.existing)
	}

	hist, err := runCLI(t, newApp(), "--root", root, "history", "--db", db)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, d := range f.domains {
		if !strings.Contains(hist, d) {
			t.Errorf("expected %q in history output %q", d, hist)
		}
	}
}

func TestDiscoverCommand_Append(t *testing.T) {
	root := t.TempDir()
	list := filepath.Join(root, "opgecanceld-blocklist.txt")
	writeFile(t, list, "existing.com\n")

	f := &fakeFinder{domains: []string{"new.example.com"}, findings: map[string]string{"new.example.com": "x"}}

	out, err := runCLI(t, newTestApp(f), "--root", root, "discover", "--append", "--no-history")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !strings.Contains(out, "Appended 1 domains") {
		t.Errorf("unexpected output %q", out)
	}
	if want := "existing.com\n\n# --- Discovered domains ---\nnew.example.com\n"; readFile(t, list) != want {
		t.Errorf("expected %q, got %q", want, readFile(t, list))
	}
	if _, err := os.Stat(filepath.Join(root, "data")); !os.IsNotExist(err) {
		t.Error("expected no history database with --no-history")
	}
}

func TestDiscoverCommand_Output(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "new.txt")

	f := &fakeFinder{domains: []string{"b.example.com", "a.example.com"}}

	if _, err := runCLI(t, newTestApp(f), "--root", root, "discover", "--output", dest, "--no-history"); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got := readFile(t, dest); got != "b.example.com\na.example.com\n" {
		t.Errorf("unexpected output file %q", got)
	}
}

func TestDiscoverCommand_Nothing(t *testing.T) {
	root := t.TempDir()
	out, err := runCLI(t, newTestApp(&fakeFinder{}), "--root", root, "discover", "--no-history")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if out != "No new ad-related domains discovered.\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestDiscoverCommand_Error(t *testing.T) {
	root := t.TempDir()
	f := &fakeFinder{err: errors.New("browser not found")}
	if _, err := runCLI(t, newTestApp(f), "--root", root, "discover", "--no-history"); err == nil {
		t.Error("expected discovery error")
	}
}

func TestDiscoverCommand_ExclusiveFlags(t *testing.T) {
	root := t.TempDir()
	_, err := runCLI(t, newTestApp(&fakeFinder{}), "--root", root, "discover", "--append", "--output", "x.txt", "--no-history")
	if err == nil {
		t.Error("expected error for --append with --output")
	}
}

func TestImportCommand(t *testing.T) {
	root := t.TempDir()
	list := filepath.Join(root, "opgecanceld-blocklist.txt")
	writeFile(t, list, "doubleclick.net\n")
	src := filepath.Join(root, "other-filters.txt")
	writeFile(t, src, "! Title: other\n||ads.doubleclick.net^\n||new-ads.com^\n@@||ok.com^\n")

	out, err := runCLI(t, newApp(), "--root", root, "import", src, "--append")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Appended 1 domains") {
		t.Errorf("unexpected output %q", out)
	}
	if want := "doubleclick.net\n\n# --- Discovered domains ---\nnew-ads.com\n"; readFile(t, list) != want {
		t.Errorf("expected %q, got %q", want, readFile(t, list))
	}
}

func TestImportCommand_Stdout(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "other-filters.txt")
	writeFile(t, src, "||b.com^\n||a.com^\n")

	out, err := runCLI(t, newApp(), "--root", root, "import", src)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if want := "# New domains to add:\na.com\nb.com\n"; out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}

func TestCheckCommand(t *testing.T) {
	root := t.TempDir()
	list := filepath.Join(root, "opgecanceld-blocklist.txt")
	writeFile(t, list, "ads.example.com\ntracking.net\nlocalhost\n")

	if _, err := runCLI(t, newApp(), "--root", root, "build"); err != nil {
		t.Fatalf("build: %v", err)
	}

	out, err := runCLI(t, newApp(), "--root", root, "check")
	if err != nil {
		t.Fatalf("check: %v (%s)", err, out)
	}
	if !strings.Contains(out, "warning: line 3: invalid") {
		t.Errorf("expected lint warning for localhost, got %q", out)
	}
	if !strings.Contains(out, "OK: 3 domains") {
		t.Errorf("expected OK summary, got %q", out)
	}
}

func TestCheckCommand_Unblocked(t *testing.T) {
	root := t.TempDir()
	list := filepath.Join(root, "opgecanceld-blocklist.txt")
	writeFile(t, list, "ads.example.com\n")
	if _, err := runCLI(t, newApp(), "--root", root, "build"); err != nil {
		t.Fatalf("build: %v", err)
	}
	writeFile(t, list, "ads.example.com\nlater.example.org\n")

	out, err := runCLI(t, newApp(), "--root", root, "check")
	if !errors.Is(err, errUnblocked) {
		t.Fatalf("expected errUnblocked, got %v", err)
	}
	if !strings.Contains(out, "unblocked: later.example.org") {
		t.Errorf("expected unblocked domain listed, got %q", out)
	}
}

func TestCheckCommand_Stale(t *testing.T) {
	root := t.TempDir()
	list := filepath.Join(root, "opgecanceld-blocklist.txt")
	writeFile(t, list, "ads.example.com\nremoved.example.com\n")
	if _, err := runCLI(t, newApp(), "--root", root, "build"); err != nil {
		t.Fatalf("build: %v", err)
	}
	writeFile(t, list, "ads.example.com\n")

	if _, err := runCLI(t, newApp(), "--root", root, "check"); !errors.Is(err, errStale) {
		t.Errorf("expected errStale, got %v", err)
	}
}

func TestHistoryCommand_Empty(t *testing.T) {
	root := t.TempDir()
	out, err := runCLI(t, newApp(), "--root", root, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if out != "No domains recorded yet.\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, newApp(), "--config", "/does/not/exist.yaml", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "opgecanceld dev") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestPick(t *testing.T) {
	if got := pick("", "cfg"); got != "cfg" {
		t.Errorf("expected cfg, got %q", got)
	}
	if got := pick("flag", "cfg"); got != "flag" {
		t.Errorf("expected flag, got %q", got)
	}
}

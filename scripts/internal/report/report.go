// Package report holds the plumbing shared by the developer scripts: locating
// the module root, running go subcommands with captured output, and writing
// reports under target/reports.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Root walks up from the working directory to the directory holding go.mod.
func Root() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("no go.mod found above working directory")
		}
		dir = parent
	}
}

// Dir returns target/reports under root, creating it if needed.
func Dir(root string) (string, error) {
	dir := filepath.Join(root, "target", "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// Go runs `go args...` in root, echoing output to the terminal and returning
// a copy of it.
func Go(root string, args ...string) (string, error) {
	cmd := exec.Command("go", args...)
	cmd.Dir = root
	var buf bytes.Buffer
	cmd.Stdout = io.MultiWriter(os.Stdout, &buf)
	cmd.Stderr = io.MultiWriter(os.Stderr, &buf)
	err := cmd.Run()
	return buf.String(), err
}

// Env returns the environment variable key, or def when unset.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Writer accumulates a plain-text report.
type Writer struct {
	strings.Builder
}

// Header starts a report with a title and the toolchain it ran on. Extra
// fields are label/value pairs.
func (w *Writer) Header(title string, now time.Time, fields ...string) {
	w.Rule('=')
	fmt.Fprintf(w, "nab %s\n", title)
	w.Rule('=')
	fmt.Fprintf(w, "%-16s%s\n", "Generated:", now.Format(time.RFC1123))
	fmt.Fprintf(w, "%-16s%s %s/%s\n", "Go:", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(w, "%-16s%s\n", fields[i]+":", fields[i+1])
	}
	w.Rule('=')
	w.WriteString("\n")
}

// Rule writes a 72 column separator.
func (w *Writer) Rule(c byte) {
	w.WriteString(strings.Repeat(string(c), 72) + "\n")
}

// Indent writes text with every line prefixed by four spaces.
func (w *Writer) Indent(text string) {
	for line := range strings.SplitSeq(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

// Save writes the report to dir/name and returns the path.
func (w *Writer) Save(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(w.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

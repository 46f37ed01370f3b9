// Package transfer runs rsync to mirror a host into its working directory.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalHost is the host name that is backed up from the local filesystem
// root instead of over ssh.
const LocalHost = "localhost"

// Exit codes rsync reports for runs that are still usable backups: 23 is a
// partial transfer (permissions, vanished directories) and 24 means files
// vanished while being copied.
var successCodes = map[int]bool{0: true, 23: true, 24: true}

// Succeeded reports whether an rsync exit code counts as a successful backup.
func Succeeded(code int) bool {
	return successCodes[code]
}

// Request describes one transfer.
type Request struct {
	Host        string // host name, used to pick the source
	Address     string // address ssh connects to; defaults to Host
	Dest        string // destination directory, normally <workdir>/data
	LogPath     string // combined rsync output is appended here
	Rules       []string
	Compress    bool
	Inplace     bool
	IgnoreTimes bool
	RemoteShell string // value for rsync -e; empty keeps rsync's default
}

// Source returns the rsync source for the request.
func (r Request) Source() string {
	if r.Host == LocalHost {
		return "/"
	}
	addr := r.Address
	if addr == "" {
		addr = r.Host
	}
	return "root@" + addr + ":/"
}

// Result is the outcome of an rsync run. ExitCode is -1 when rsync did not
// exit on its own.
type Result struct {
	ExitCode int
	Start    time.Time
	End      time.Time
}

func (r Result) Duration() time.Duration { return r.End.Sub(r.Start) }

// Failure is a transfer that did not produce a usable backup.
type Failure struct {
	Host     string
	ExitCode int
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("transfer of %s failed (exit %d): %v", f.Host, f.ExitCode, f.Err)
	}
	return fmt.Sprintf("transfer of %s failed with exit code %d", f.Host, f.ExitCode)
}

func (f *Failure) Unwrap() error { return f.Err }

// Rsync runs the rsync binary.
type Rsync struct {
	Path      string        // rsync binary, "rsync" when empty
	IOTimeout time.Duration // rsync --timeout
	Timeout   time.Duration // hard limit for the whole run, 0 for none
}

// Args returns the rsync command line for req, without the binary.
func (r *Rsync) Args(req Request) []string {
	args := []string{"-a", "--delete", "--numeric-ids"}
	if r.IOTimeout > 0 {
		args = append(args, "--timeout="+strconv.Itoa(int(r.IOTimeout.Seconds())))
	}
	args = append(args, "--filter=. -")
	if req.Compress {
		args = append(args, "-z")
	}
	if req.Inplace {
		args = append(args, "--inplace")
	}
	if req.IgnoreTimes {
		args = append(args, "--ignore-times")
	}
	if req.RemoteShell != "" && req.Host != LocalHost {
		args = append(args, "-e", req.RemoteShell)
	}
	dest := req.Dest
	if !strings.HasSuffix(dest, "/") {
		dest += "/"
	}
	return append(args, req.Source(), dest)
}

// Run executes rsync for req. Filter rules are fed on standard input. An
// error is returned, as a *Failure, when rsync could not be run, was stopped
// by the timeout, or exited with a code that is not a success.
func (r *Rsync) Run(ctx context.Context, req Request) (Result, error) {
	path := r.Path
	if path == "" {
		path = "rsync"
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	res := Result{ExitCode: -1}
	logFile, err := openLog(req.LogPath)
	if err != nil {
		return res, &Failure{Host: req.Host, ExitCode: -1, Err: err}
	}
	defer logFile.Close()

	args := r.Args(req)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(rules(req.Rules))
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.WaitDelay = 10 * time.Second

	slog.Debug("starting rsync", "host", req.Host, "args", args)
	res.Start = time.Now()
	err = cmd.Run()
	res.End = time.Now()

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return res, &Failure{Host: req.Host, ExitCode: -1, Err: ctx.Err()}
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		return res, &Failure{Host: req.Host, ExitCode: -1, Err: err}
	default:
		res.ExitCode = 0
	}

	if !Succeeded(res.ExitCode) {
		return res, &Failure{Host: req.Host, ExitCode: res.ExitCode}
	}
	if res.ExitCode != 0 {
		slog.Warn("rsync finished with a partial transfer", "host", req.Host, "exit_code", res.ExitCode)
	}
	return res, nil
}

func rules(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening rsync log: %w", err)
	}
	return f, nil
}

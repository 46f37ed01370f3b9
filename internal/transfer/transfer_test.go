package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRsync writes a shell script standing in for rsync. It records its
// arguments and standard input next to itself and exits with $FAKE_RSYNC_EXIT.
func fakeRsync(t *testing.T) (bin, dir string) {
	t.Helper()
	dir = t.TempDir()
	bin = filepath.Join(dir, "rsync")
	script := `#!/bin/sh
printf '%s\n' "$@" > "` + dir + `/args"
cat > "` + dir + `/stdin"
echo "sent 42 bytes"
if [ -n "$FAKE_RSYNC_SLEEP" ]; then exec sleep "$FAKE_RSYNC_SLEEP"; fi
exit "${FAKE_RSYNC_EXIT:-0}"
`
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, dir
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

func TestSucceeded(t *testing.T) {
	for code, want := range map[int]bool{0: true, 23: true, 24: true, 1: false, 12: false, 30: false, -1: false} {
		assert.Equal(t, want, Succeeded(code), "code %d", code)
	}
}

func TestRequestSource(t *testing.T) {
	assert.Equal(t, "/", Request{Host: "localhost"}.Source())
	assert.Equal(t, "root@web1:/", Request{Host: "web1"}.Source())
	assert.Equal(t, "root@10.0.0.5:/", Request{Host: "web1", Address: "10.0.0.5"}.Source())
}

func TestArgs(t *testing.T) {
	r := &Rsync{IOTimeout: 5 * time.Minute}

	args := r.Args(Request{Host: "web1", Dest: "/srv/backups/web1/data"})
	assert.Equal(t, []string{
		"-a", "--delete", "--numeric-ids", "--timeout=300", "--filter=. -",
		"root@web1:/", "/srv/backups/web1/data/",
	}, args)

	args = r.Args(Request{
		Host: "web1", Dest: "/d/", Compress: true, Inplace: true, IgnoreTimes: true, RemoteShell: "ssh -y",
	})
	assert.Equal(t, []string{
		"-a", "--delete", "--numeric-ids", "--timeout=300", "--filter=. -",
		"-z", "--inplace", "--ignore-times", "-e", "ssh -y",
		"root@web1:/", "/d/",
	}, args)

	args = (&Rsync{}).Args(Request{Host: "localhost", Dest: "/d", RemoteShell: "ssh -y"})
	assert.Equal(t, []string{"-a", "--delete", "--numeric-ids", "--filter=. -", "/", "/d/"}, args)
}

func TestRun_Success(t *testing.T) {
	bin, dir := fakeRsync(t)
	logPath := filepath.Join(t.TempDir(), "logs", "rsync.log")

	r := &Rsync{Path: bin, IOTimeout: time.Minute}
	res, err := r.Run(context.Background(), Request{
		Host:    "localhost",
		Dest:    "/tmp/dest",
		LogPath: logPath,
		Rules:   []string{"+ /etc/", "- /**"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.End.Before(res.Start))

	assert.Equal(t, []string{"+ /etc/", "- /**"}, lines(t, filepath.Join(dir, "stdin")))
	assert.Equal(t, r.Args(Request{Host: "localhost", Dest: "/tmp/dest"}), lines(t, filepath.Join(dir, "args")))

	out, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "sent 42 bytes")
}

func TestRun_PartialTransferIsSuccess(t *testing.T) {
	bin, _ := fakeRsync(t)
	for _, code := range []int{23, 24} {
		t.Setenv("FAKE_RSYNC_EXIT", strconv.Itoa(code))
		res, err := (&Rsync{Path: bin}).Run(context.Background(), Request{Host: "localhost", Dest: "/d"})
		require.NoError(t, err, code)
		assert.Equal(t, code, res.ExitCode)
	}
}

func TestRun_FailureCode(t *testing.T) {
	bin, _ := fakeRsync(t)
	t.Setenv("FAKE_RSYNC_EXIT", "12")

	res, err := (&Rsync{Path: bin}).Run(context.Background(), Request{Host: "web1", Dest: "/d"})
	require.Error(t, err)
	assert.Equal(t, 12, res.ExitCode)

	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, 12, f.ExitCode)
	assert.Equal(t, "web1", f.Host)
	assert.Contains(t, err.Error(), "exit code 12")
}

func TestRun_Timeout(t *testing.T) {
	bin, _ := fakeRsync(t)
	t.Setenv("FAKE_RSYNC_SLEEP", "5")

	res, err := (&Rsync{Path: bin, Timeout: 200 * time.Millisecond}).Run(context.Background(),
		Request{Host: "localhost", Dest: "/d"})
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_MissingBinary(t *testing.T) {
	_, err := (&Rsync{Path: filepath.Join(t.TempDir(), "nope")}).Run(context.Background(),
		Request{Host: "localhost", Dest: "/d"})
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, -1, f.ExitCode)
}

func TestRun_LogAppends(t *testing.T) {
	bin, _ := fakeRsync(t)
	logPath := filepath.Join(t.TempDir(), "rsync.log")
	r := &Rsync{Path: bin}

	for range 2 {
		_, err := r.Run(context.Background(), Request{Host: "localhost", Dest: "/d", LogPath: logPath})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"sent 42 bytes", "sent 42 bytes"}, lines(t, logPath))
}

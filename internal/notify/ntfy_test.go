package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNtfyName(t *testing.T) {
	p := NewNtfy("http://localhost", "alerts", "")
	assert.Equal(t, "ntfy", p.Name())
}

func TestNtfySendCritical(t *testing.T) {
	var gotReq *http.Request
	var gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewNtfy(srv.URL, "nab-alerts", "")
	notif := model.Notification{
		AlertType: "backup_failed",
		Severity:  "critical",
		Title:     "Backup failed: web1",
		Message:   "rsync exited with code 12",
		Host:      "web1",
		Timestamp: time.Now(),
	}

	err := p.Send(context.Background(), notif)
	require.NoError(t, err)

	assert.Equal(t, "/nab-alerts", gotReq.URL.Path)
	assert.Equal(t, "Backup failed: web1", gotReq.Header.Get("Title"))
	assert.Equal(t, "5", gotReq.Header.Get("Priority"))
	assert.Equal(t, "rotating_light,backup_failed,web1", gotReq.Header.Get("Tags"))
	assert.Empty(t, gotReq.Header.Get("Email"))
	assert.Empty(t, gotReq.Header.Get("Authorization"))
	assert.Equal(t, "rsync exited with code 12", gotBody)
}

func TestNtfySendWarningWithMail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4", r.Header.Get("Priority"))
		assert.Contains(t, r.Header.Get("Tags"), "warning")
		assert.Equal(t, "ops@example.com", r.Header.Get("Email"))
		assert.Equal(t, "Bearer tk_secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewNtfy(srv.URL, "alerts", "tk_secret")
	err := p.Send(context.Background(), model.Notification{
		AlertType: "backup_overdue",
		Severity:  "warning",
		Title:     "Backup overdue: db1",
		Message:   "No successful backup for 80h",
		Metadata:  map[string]string{MailMetadataKey: "ops@example.com"},
	})
	require.NoError(t, err)
}

func TestNtfySendInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.Header.Get("Priority"))
		assert.Contains(t, r.Header.Get("Tags"), "floppy_disk")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewNtfy(srv.URL, "alerts", "")
	err := p.Send(context.Background(), model.Notification{
		Severity: "info",
		Title:    "Backup complete",
		Message:  "Daily backup finished",
	})
	require.NoError(t, err)
}

func TestNtfySendResolved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Tags"), "white_check_mark")
		assert.NotContains(t, r.Header.Get("Tags"), "warning")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewNtfy(srv.URL, "alerts", "")
	err := p.Send(context.Background(), model.Notification{
		Severity: "warning",
		Title:    "Resolved",
		Message:  "Backups are current again",
		Resolved: true,
	})
	require.NoError(t, err)
}

func TestSeverityToNtfyPriority(t *testing.T) {
	assert.Equal(t, "5", severityToNtfyPriority("critical"))
	assert.Equal(t, "4", severityToNtfyPriority("warning"))
	assert.Equal(t, "2", severityToNtfyPriority("info"))
	assert.Equal(t, "3", severityToNtfyPriority("unknown-severity"))
}

func TestNtfySendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewNtfy(srv.URL, "alerts", "")
	err := p.Send(context.Background(), model.Notification{
		Severity: "info",
		Title:    "Test",
		Message:  "Test",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestNtfySendCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewNtfy(srv.URL, "alerts", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Send(ctx, model.Notification{
		Severity: "info",
		Title:    "Test",
		Message:  "Test cancelled",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ntfy: send:")
}

func TestNtfySendBadURL(t *testing.T) {
	p := NewNtfy("://invalid", "alerts", "")
	err := p.Send(context.Background(), model.Notification{
		Severity: "info",
		Title:    "Test",
		Message:  "bad url",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ntfy:")
}

func TestNtfyTrailingSlash(t *testing.T) {
	p := NewNtfy("http://example.com/", "alerts", "")
	assert.Equal(t, "http://example.com", p.url)
}

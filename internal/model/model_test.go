package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGeneration(t *testing.T) {
	for _, g := range Generations {
		got, err := ParseGeneration(string(g))
		require.NoError(t, err)
		assert.Equal(t, g, got)
	}
	_, err := ParseGeneration("hourly")
	assert.Error(t, err)
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("22:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(22*3600+30*60), tod)
	assert.Equal(t, "22:30:00", tod.String())

	tod, err = ParseTimeOfDay("06:05:09")
	require.NoError(t, err)
	assert.Equal(t, "06:05:09", tod.String())

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
}

func TestStorageArg(t *testing.T) {
	s := Storage{Args: [5]*string{Ptr("/srv"), nil, Ptr("x")}}
	assert.Equal(t, "/srv", s.Arg(1))
	assert.Equal(t, "", s.Arg(2))
	assert.Equal(t, "x", s.Arg(3))
	assert.Equal(t, "", s.Arg(0))
	assert.Equal(t, "", s.Arg(6))
}

func TestHostAddress(t *testing.T) {
	assert.Equal(t, "web1", Host{Hostname: "web1"}.Address())
	assert.Equal(t, "web1", Host{Hostname: "web1", IPAddress: Ptr("")}.Address())
	assert.Equal(t, "10.0.0.5", Host{Hostname: "web1", IPAddress: Ptr("10.0.0.5")}.Address())
}

func TestHostInWindow(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 11, h, m, 0, 0, time.UTC) }
	tod := func(h, m int) *TimeOfDay { v := TimeOfDay(h*3600 + m*60); return &v }

	tests := []struct {
		name       string
		start, end *TimeOfDay
		now        time.Time
		want       bool
	}{
		{"no window", nil, nil, at(12, 0), true},
		{"only start", tod(22, 0), nil, at(12, 0), true},
		{"inside", tod(1, 0), tod(5, 0), at(3, 0), true},
		{"before", tod(1, 0), tod(5, 0), at(0, 30), false},
		{"end inclusive", tod(1, 0), tod(5, 0), at(5, 0), true},
		{"wraps, late evening", tod(22, 0), tod(4, 0), at(23, 15), true},
		{"wraps, early morning", tod(22, 0), tod(4, 0), at(2, 0), true},
		{"wraps, midday", tod(22, 0), tod(4, 0), at(12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Host{WindowStart: tt.start, WindowEnd: tt.end}
			assert.Equal(t, tt.want, h.InWindow(tt.now))
		})
	}
}

func TestRunStateTerminal(t *testing.T) {
	for _, s := range []RunState{StateFinalized, StateRefused, StateFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []RunState{StateIdle, StateGating, StatePreparing, StateTransferring, StateSnapshotting} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestBackupRunning(t *testing.T) {
	assert.False(t, Backup{}.Running())
	assert.True(t, Backup{BackupPID: Ptr(1)}.Running())
}

func FuzzParseTimeOfDay(f *testing.F) {
	f.Add("00:00")
	f.Add("23:59:59")
	f.Add("7:5")
	f.Add("24:00")
	f.Add("")
	f.Fuzz(func(t *testing.T, s string) {
		tod, err := ParseTimeOfDay(s)
		if err != nil {
			return
		}
		assert.GreaterOrEqual(t, int(tod), 0)
		assert.Less(t, int(tod), 24*3600)

		again, err := ParseTimeOfDay(tod.String())
		require.NoError(t, err)
		assert.Equal(t, tod, again)
	})
}

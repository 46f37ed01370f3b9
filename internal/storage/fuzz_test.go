package storage

import (
	"testing"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/stretchr/testify/assert"
)

func FuzzParseSnapshotName(f *testing.F) {
	f.Add("2026-03-11_140000daily")
	f.Add("2026-01-01_000000monthly")
	f.Add("2026-13-01_000000weekly")
	f.Add("daily")
	f.Add("")
	f.Fuzz(func(t *testing.T, name string) {
		ts, gen, err := ParseSnapshotName(name)
		if err != nil {
			return
		}
		_, perr := model.ParseGeneration(string(gen))
		assert.NoError(t, perr)
		assert.NoError(t, validName(name))

		_, gen2, err := ParseSnapshotName(SnapshotName(gen, ts))
		assert.NoError(t, err)
		assert.Equal(t, gen, gen2)
	})
}

func BenchmarkParseSnapshotName(b *testing.B) {
	name := SnapshotName(model.Weekly, time.Date(2026, 3, 11, 14, 0, 0, 0, time.Local))
	for b.Loop() {
		if _, _, err := ParseSnapshotName(name); err != nil {
			b.Fatal(err)
		}
	}
}

package timers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLivenessMarkAndSnapshot(t *testing.T) {
	l := NewLiveness()
	now := time.Now()
	l.Mark(0, now)
	l.Mark(1, now.Add(time.Second))

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, now, snap[0])
}

func TestLivenessSnapshotIsACopy(t *testing.T) {
	l := NewLiveness()
	l.Mark(0, time.Now())

	snap := l.Snapshot()
	snap[0] = time.Time{}

	snap2 := l.Snapshot()
	require.NotEqual(t, time.Time{}, snap2[0])
}

func TestLivenessMarkOverwritesPriorTimestamp(t *testing.T) {
	l := NewLiveness()
	first := time.Now()
	second := first.Add(time.Minute)
	l.Mark(0, first)
	l.Mark(0, second)

	require.Equal(t, second, l.Snapshot()[0])
}

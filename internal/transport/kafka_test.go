package transport

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgAt(partition int, offset int64) kafka.Message {
	return kafka.Message{Partition: partition, Offset: offset}
}

func TestOffsetTrackerHoldsCommitWhileEarlierOffsetInFlight(t *testing.T) {
	tr := newOffsetTracker()
	tr.track(msgAt(0, 7))
	tr.track(msgAt(0, 10))

	// The later offset finishing first must not advance the watermark;
	// committing 10 here would skip 7 after a crash.
	_, ok := tr.complete(msgAt(0, 10))
	assert.False(t, ok)

	wm, ok := tr.complete(msgAt(0, 7))
	require.True(t, ok)
	assert.Equal(t, int64(10), wm.Offset)
}

func TestOffsetTrackerAdvancesContiguously(t *testing.T) {
	tr := newOffsetTracker()
	for _, off := range []int64{1, 2, 3} {
		tr.track(msgAt(0, off))
	}

	wm, ok := tr.complete(msgAt(0, 1))
	require.True(t, ok)
	assert.Equal(t, int64(1), wm.Offset)

	_, ok = tr.complete(msgAt(0, 3))
	assert.False(t, ok)

	wm, ok = tr.complete(msgAt(0, 2))
	require.True(t, ok)
	assert.Equal(t, int64(3), wm.Offset)
}

func TestOffsetTrackerKeepsPartitionsIndependent(t *testing.T) {
	tr := newOffsetTracker()
	tr.track(msgAt(0, 5))
	tr.track(msgAt(1, 9))

	wm, ok := tr.complete(msgAt(1, 9))
	require.True(t, ok)
	assert.Equal(t, 1, wm.Partition)
	assert.Equal(t, int64(9), wm.Offset)

	wm, ok = tr.complete(msgAt(0, 5))
	require.True(t, ok)
	assert.Equal(t, 0, wm.Partition)
	assert.Equal(t, int64(5), wm.Offset)
}

package feed

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/abdoElHodaky/treasurymm/internal/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func buildTickFrame(seq uint64, instrumentID uint32, bid, ask float64, bidSz, askSz uint64) []byte {
	frame := make([]byte, FrameSize)
	binary.LittleEndian.PutUint64(frame[0:8], seq)
	binary.LittleEndian.PutUint64(frame[8:16], 1234)
	binary.LittleEndian.PutUint32(frame[16:20], uint32(MessageTick))
	binary.LittleEndian.PutUint32(frame[20:24], instrumentID)
	binary.LittleEndian.PutUint64(frame[24:32], math.Float64bits(bid))
	binary.LittleEndian.PutUint64(frame[32:40], math.Float64bits(ask))
	binary.LittleEndian.PutUint64(frame[40:48], bidSz)
	binary.LittleEndian.PutUint64(frame[48:56], askSz)
	binary.LittleEndian.PutUint16(frame[56:58], checksum(frame))
	return frame
}

func TestHandlerDecodesTick(t *testing.T) {
	tickRing := ring.New[Tick](16)
	h := NewHandler(zap.NewNop(), tickRing, nil)

	frame := buildTickFrame(1, 3, 100.5, 100.53125, 5_000_000, 4_000_000)
	n := h.ProcessBatch(frame)
	require.Equal(t, 1, n)

	tick, ok := tickRing.TryPop()
	require.True(t, ok)
	assert.Equal(t, 5_000_000, int(tick.BidSize))
	assert.InDelta(t, 100.5, tick.BidPrice, 1e-9)
}

func TestHandlerBadChecksum(t *testing.T) {
	tickRing := ring.New[Tick](16)
	h := NewHandler(zap.NewNop(), tickRing, nil)

	frame := buildTickFrame(1, 1, 100, 100.1, 1, 1)
	frame[56] ^= 0xFF // corrupt checksum
	n := h.ProcessBatch(frame)
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(1), h.Stats().Invalid)
}

func TestHandlerDedup(t *testing.T) {
	// Scenario 6: push frames with sequence numbers 1,2,2,3. Expect parsed
	// count = 3, duplicate_messages = 1.
	tickRing := ring.New[Tick](16)
	h := NewHandler(zap.NewNop(), tickRing, nil)

	var frames []byte
	for _, seq := range []uint64{1, 2, 2, 3} {
		frames = append(frames, buildTickFrame(seq, 1, 100, 100.1, 1, 1)...)
	}

	n := h.ProcessBatch(frames)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(1), h.Stats().Duplicate)
	assert.Equal(t, uint64(3), h.Stats().Processed)
}

func TestHandlerSequenceGap(t *testing.T) {
	tickRing := ring.New[Tick](16)
	h := NewHandler(zap.NewNop(), tickRing, nil)

	var frames []byte
	frames = append(frames, buildTickFrame(1, 1, 100, 100.1, 1, 1)...)
	frames = append(frames, buildTickFrame(5, 1, 100, 100.1, 1, 1)...)

	h.ProcessBatch(frames)
	assert.Equal(t, uint64(1), h.Stats().SequenceGaps)
}

func TestHandlerRingFullDropsAndCounts(t *testing.T) {
	tickRing := ring.New[Tick](2)
	h := NewHandler(zap.NewNop(), tickRing, nil)

	var frames []byte
	for i := uint64(1); i <= 4; i++ {
		frames = append(frames, buildTickFrame(i, 1, 100, 100.1, 1, 1)...)
	}
	h.ProcessBatch(frames)
	assert.Equal(t, uint64(2), h.Stats().DroppedTicks)
}

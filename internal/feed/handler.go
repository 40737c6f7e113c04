package feed

import (
	"github.com/abdoElHodaky/treasurymm/internal/ring"
	"go.uber.org/zap"
)

// dedupWindow is the size of the recent-sequence ring used to detect
// duplicate messages (spec §8 P8 / scenario 6). A fixed array, not a
// patrickmn/go-cache TTL cache, because the hot path must not allocate and a
// short recency window is all spec §4.8 step 2 requires.
const dedupWindow = 64

// Stats are the observability counters spec §4.8/§7 require: invalid
// (checksum failures), sequenceGaps, duplicate, dropped (ring full).
type Stats struct {
	Processed     uint64
	Invalid       uint64
	SequenceGaps  uint64
	Duplicate     uint64
	DroppedTicks  uint64
	DroppedTrades uint64
}

// Handler decodes batches of raw 64-byte venue frames into normalized
// Tick/Trade records, pushing them onto caller-supplied SPSC rings.
// Grounded on spec §4.8's four-step contract; no direct teacher analogue
// (the teacher ingests JSON over HTTP/WebSocket), so the per-frame loop
// structure follows the pack's NimbleMarkets-dbn-go decode-then-dispatch
// convention instead.
type Handler struct {
	logger *zap.Logger

	expectedSeq  uint64
	haveExpected bool
	recentSeqs   [dedupWindow]uint64
	recentValid  [dedupWindow]bool
	recentNext   int

	tickRing  *ring.SPSC[Tick]
	tradeRing *ring.SPSC[Trade]

	stats Stats
}

// NewHandler constructs a Handler that feeds decoded ticks/trades into the
// given rings.
func NewHandler(logger *zap.Logger, tickRing *ring.SPSC[Tick], tradeRing *ring.SPSC[Trade]) *Handler {
	return &Handler{
		logger:    logger,
		tickRing:  tickRing,
		tradeRing: tradeRing,
	}
}

// ProcessBatch consumes a contiguous batch of fixed-size raw frames (spec
// §4.8). Each frame is exactly FrameSize bytes; frames is a flat byte slice
// whose length must be a multiple of FrameSize (extra trailing bytes are
// ignored). Returns the number of frames that passed validation and decoded
// to a known message type, heartbeats included; a decoded record dropped
// because its output ring was full still counts.
func (h *Handler) ProcessBatch(frames []byte) int {
	decoded := 0
	for off := 0; off+FrameSize <= len(frames); off += FrameSize {
		if h.processOne(frames[off : off+FrameSize]) {
			decoded++
		}
	}
	return decoded
}

func (h *Handler) processOne(frame []byte) bool {
	// Step 1: checksum.
	if checksum(frame) != wireChecksum(frame) {
		h.stats.Invalid++
		return false
	}

	hdr := parseHeader(frame)

	// Step 2: sequence gap / duplicate detection.
	if h.seen(hdr.SequenceNumber) {
		h.stats.Duplicate++
		return false
	}
	h.observe(hdr.SequenceNumber)

	if !h.haveExpected {
		h.expectedSeq = hdr.SequenceNumber + 1
		h.haveExpected = true
	} else if hdr.SequenceNumber != h.expectedSeq {
		if hdr.SequenceNumber > h.expectedSeq {
			h.stats.SequenceGaps++
		}
		h.expectedSeq = hdr.SequenceNumber + 1
	} else {
		h.expectedSeq = hdr.SequenceNumber + 1
	}

	payload := frame[24:56]

	// Step 3 & 4: dispatch, decode, enqueue.
	switch hdr.MessageType {
	case MessageTick:
		tick, err := decodeTickPayload(hdr, payload)
		if err != nil {
			h.stats.Invalid++
			return false
		}
		h.stats.Processed++
		if h.tickRing != nil && !h.tickRing.TryPush(tick) {
			h.stats.DroppedTicks++
		}
		return true
	case MessageTrade:
		trade, err := decodeTradePayload(hdr, payload)
		if err != nil {
			h.stats.Invalid++
			return false
		}
		h.stats.Processed++
		if h.tradeRing != nil && !h.tradeRing.TryPush(trade) {
			h.stats.DroppedTrades++
		}
		return true
	case MessageHeartbeat:
		h.stats.Processed++
		return true
	default:
		h.stats.Invalid++
		return false
	}
}

// seen reports whether sequenceNumber is present in the recent window.
func (h *Handler) seen(seq uint64) bool {
	for i, s := range h.recentSeqs {
		if h.recentValid[i] && s == seq {
			return true
		}
	}
	return false
}

// observe records sequenceNumber into the recent window, evicting the
// oldest entry.
func (h *Handler) observe(seq uint64) {
	h.recentSeqs[h.recentNext] = seq
	h.recentValid[h.recentNext] = true
	h.recentNext = (h.recentNext + 1) % dedupWindow
}

// Stats returns a snapshot of the handler's observability counters.
func (h *Handler) Stats() Stats {
	return h.stats
}

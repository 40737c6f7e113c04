package lifecycle

import "sync"

// VenueID identifies a configured execution venue.
type VenueID uint32

// VenueInfo is one venue's routing configuration and running statistics
// (spec §4.5). Grounded on internal/exchange/connectors/exchange.go's
// per-venue connector registry, generalized to the scored-routing table
// spec §4.5 requires.
type VenueInfo struct {
	ID               VenueID
	Enabled          bool
	Priority         int32
	FillRateEMA      float64
	AvgLatencyNsEMA  float64
	ErrorCount       uint64
	LastActivityTsNs int64
}

func (v *VenueInfo) score() (float64, bool) {
	if !v.Enabled || v.AvgLatencyNsEMA <= 0 {
		return 0, false
	}
	return (v.FillRateEMA / v.AvgLatencyNsEMA) * (1 + 0.1*float64(v.Priority)), true
}

// Router selects the best-scoring enabled venue for each order (spec
// §4.5).
type Router struct {
	mu     sync.RWMutex
	venues map[VenueID]*VenueInfo
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{venues: make(map[VenueID]*VenueInfo)}
}

// AddVenue registers or replaces a venue's configuration.
func (r *Router) AddVenue(v VenueInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := v
	r.venues[v.ID] = &cp
}

// Route returns the best-scoring enabled venue (spec §4.5: "Score =
// (fill_rate / avg_latency) * (1 + 0.1 * priority); the best-scoring
// enabled venue wins. Ties broken by lower numeric VenueId."). ok is false
// if no venue is enabled/scorable.
func (r *Router) Route() (VenueID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *VenueInfo
	var bestScore float64
	for _, v := range r.venues {
		s, ok := v.score()
		if !ok {
			continue
		}
		if best == nil || s > bestScore || (s == bestScore && v.ID < best.ID) {
			best = v
			bestScore = s
		}
	}
	if best == nil {
		return 0, false
	}
	return best.ID, true
}

// RecordFill updates a venue's running EMAs after an execution (spec §4.5:
// "Post-fill: EMAs are updated with α=0.1; last_activity_ts is bumped.").
func (r *Router) RecordFill(id VenueID, filled bool, latencyNs float64, nowNs int64) {
	const alpha = 0.1
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.venues[id]
	if !ok {
		return
	}
	obs := 0.0
	if filled {
		obs = 1.0
	} else {
		v.ErrorCount++
	}
	v.FillRateEMA = alpha*obs + (1-alpha)*v.FillRateEMA
	v.AvgLatencyNsEMA = alpha*latencyNs + (1-alpha)*v.AvgLatencyNsEMA
	v.LastActivityTsNs = nowNs
}

// Venue returns a copy of a venue's current info, or ok=false if unknown.
func (r *Router) Venue(id VenueID) (VenueInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[id]
	if !ok {
		return VenueInfo{}, false
	}
	return *v, true
}

// SetEnabled toggles a venue's availability for routing.
func (r *Router) SetEnabled(id VenueID, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.venues[id]; ok {
		v.Enabled = enabled
	}
}

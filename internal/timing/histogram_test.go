package timing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistogramBasic(t *testing.T) {
	h := &Histogram{}
	for _, v := range []int64{100, 200, 300, 400, 500} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Greater(t, s.Mean, 0.0)
	assert.GreaterOrEqual(t, s.Max, s.Min)
}

func TestHistogramConcurrentRecord(t *testing.T) {
	h := &Histogram{}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				h.Record(int64(j + 1))
			}
		}()
	}
	wg.Wait()
	s := h.Stats()
	assert.Greater(t, s.Mean, 0.0)
}

func TestHistogramReset(t *testing.T) {
	h := &Histogram{}
	h.Record(100)
	h.Reset()
	s := h.Stats()
	assert.Equal(t, Stats{}, s)
}

func TestClockCalibrate(t *testing.T) {
	c := NewClock()
	err := c.Calibrate(1_000_000) // nanoseconds window arg is time.Duration; tiny window
	assert.NoError(t, err)
	assert.True(t, c.Calibrated())
	defer c.Stop()
}

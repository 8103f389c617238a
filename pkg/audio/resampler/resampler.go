package resampler

import (
	"errors"
	"fmt"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// ErrClosed is returned by Process after Close.
var ErrClosed = errors.New("resampler: closed")

// Converter converts chunks of mono 16-bit samples from one sample rate to
// another. It is safe for concurrent use, but chunks must be submitted in
// stream order.
type Converter struct {
	srcRate int
	dstRate int

	mu        sync.Mutex
	resampler resampling.Resampler
	closed    bool
}

// New creates a Converter from srcRate to dstRate (Hz).
func New(srcRate, dstRate int) (*Converter, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", srcRate, dstRate)
	}
	c := &Converter{srcRate: srcRate, dstRate: dstRate}
	if srcRate == dstRate {
		return c, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: create %d -> %d: %w", srcRate, dstRate, err)
	}
	c.resampler = rs
	return c, nil
}

// SrcRate returns the input sample rate.
func (c *Converter) SrcRate() int { return c.srcRate }

// DstRate returns the output sample rate.
func (c *Converter) DstRate() int { return c.dstRate }

// Process converts one chunk. The filter delays output, so the first chunks
// of a stream may produce fewer samples than the rate ratio suggests.
func (c *Converter) Process(samples []int16) ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.resampler == nil {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}
	if len(samples) == 0 {
		return []int16{}, nil
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s) / 32768.0
	}
	res, err := c.resampler.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resampler: process: %w", err)
	}

	out := make([]int16, len(res))
	for i, s := range res {
		switch {
		case s >= 1.0:
			out[i] = 32767
		case s < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(s * 32767.0)
		}
	}
	return out, nil
}

// Close releases the filter state. Subsequent Process calls fail.
func (c *Converter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.resampler = nil
	return nil
}

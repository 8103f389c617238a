// Package transcode converts audio chunks between the call-leg format and
// the reasoning-engine format.
package transcode

import (
	"fmt"

	"github.com/haivivi/voicebridge/pkg/audio/mulaw"
	"github.com/haivivi/voicebridge/pkg/audio/pcm"
	"github.com/haivivi/voicebridge/pkg/audio/resampler"
)

// Mode selects the sample-rate conversion algorithm.
type Mode string

const (
	// Linear uses pcm.Upsample and pcm.Downsample. Rates must be integer
	// multiples of each other. Adds no latency.
	Linear Mode = "linear"
	// Soxr uses a filtering resampler. Any rate pair works, at the cost of a
	// few milliseconds of filter delay.
	Soxr Mode = "soxr"
)

// Plan converts chunks from Src to Dst for one audio stream. A Plan built
// with Soxr carries filter state and must not be shared between streams.
type Plan struct {
	Src  pcm.Format
	Dst  pcm.Format
	Mode Mode

	up, down int
	conv     *resampler.Converter
}

// NewPlan validates the conversion and prepares its state. Converting into
// μ-law from linear audio fails with mulaw.ErrNotImplemented.
func NewPlan(src, dst pcm.Format, mode Mode) (*Plan, error) {
	if mode == "" {
		mode = Linear
	}
	p := &Plan{Src: src, Dst: dst, Mode: mode}
	if src == dst {
		return p, nil
	}
	if dst.Companded() {
		return nil, fmt.Errorf("transcode: %v -> %v: %w", src, dst, mulaw.ErrNotImplemented)
	}

	sr, dr := src.SampleRate(), dst.SampleRate()
	switch mode {
	case Linear:
		switch {
		case sr == dr:
		case dr > sr && dr%sr == 0:
			p.up = dr / sr
		case sr > dr && sr%dr == 0:
			p.down = sr / dr
		default:
			return nil, fmt.Errorf("transcode: linear mode cannot convert %d Hz to %d Hz", sr, dr)
		}
	case Soxr:
		if sr != dr {
			conv, err := resampler.New(sr, dr)
			if err != nil {
				return nil, fmt.Errorf("transcode: %w", err)
			}
			p.conv = conv
		}
	default:
		return nil, fmt.Errorf("transcode: unknown mode %q", mode)
	}
	return p, nil
}

// Passthrough reports whether Convert returns its input unchanged.
func (p *Plan) Passthrough() bool {
	return p.Src == p.Dst
}

// Convert transcodes one chunk.
func (p *Plan) Convert(chunk []byte) ([]byte, error) {
	if p.Passthrough() {
		return chunk, nil
	}

	var samples []int16
	if p.Src.Companded() {
		samples = mulaw.Decode(chunk)
	} else {
		samples = pcm.Samples(chunk)
	}

	switch {
	case p.conv != nil:
		out, err := p.conv.Process(samples)
		if err != nil {
			return nil, fmt.Errorf("transcode: %w", err)
		}
		samples = out
	case p.up > 1:
		samples = pcm.Upsample(samples, p.up)
	case p.down > 1:
		samples = pcm.Downsample(samples, p.down)
	}
	return pcm.Bytes(samples), nil
}

// Close releases resampler state, if any.
func (p *Plan) Close() error {
	if p.conv != nil {
		return p.conv.Close()
	}
	return nil
}

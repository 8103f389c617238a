package pcm

import (
	"fmt"
	"time"
)

const (
	// Mulaw8K represents audio/x-mulaw; rate=8000; channels=1
	Mulaw8K Format = iota
	// L16Mono8K represents audio/L16; rate=8000; channels=1
	L16Mono8K
	// L16Mono16K represents audio/L16; rate=16000; channels=1
	L16Mono16K
	// L16Mono24K represents audio/L16; rate=24000; channels=1
	L16Mono24K
)

// Format represents an audio format configuration.
type Format int

// ParseFormat maps a configuration name to a Format. Accepted names are the
// realtime protocol names ("g711_ulaw", "pcm16") and the explicit L16 names
// ("pcm16_8k", "pcm16_16k", "pcm16_24k").
func ParseFormat(name string) (Format, error) {
	switch name {
	case "g711_ulaw", "mulaw", "ulaw":
		return Mulaw8K, nil
	case "pcm16_8k":
		return L16Mono8K, nil
	case "pcm16_16k":
		return L16Mono16K, nil
	case "pcm16", "pcm16_24k":
		return L16Mono24K, nil
	}
	return 0, fmt.Errorf("pcm: unknown format %q", name)
}

// SampleRate returns the sample rate in Hz for this format.
func (f Format) SampleRate() int {
	switch f {
	case Mulaw8K, L16Mono8K:
		return 8000
	case L16Mono16K:
		return 16000
	case L16Mono24K:
		return 24000
	}
	panic("pcm: invalid audio type")
}

// Depth returns the bit depth of one encoded sample.
func (f Format) Depth() int {
	switch f {
	case Mulaw8K:
		return 8
	case L16Mono8K, L16Mono16K, L16Mono24K:
		return 16
	}
	panic("pcm: invalid audio type")
}

// Companded reports whether samples are μ-law code words rather than linear
// 16-bit values.
func (f Format) Companded() bool {
	return f == Mulaw8K
}

// Samples returns the number of samples in the given number of bytes.
func (f Format) Samples(bytes int64) int64 {
	return bytes * 8 / int64(f.Depth())
}

// Duration returns the duration of the given number of bytes.
func (f Format) Duration(bytes int64) time.Duration {
	return time.Duration(f.Samples(bytes)) * time.Second / time.Duration(f.SampleRate())
}

// BytesInDuration returns the number of bytes in the given duration.
func (f Format) BytesInDuration(d time.Duration) int64 {
	return int64(time.Duration(f.SampleRate())*d/time.Second) * int64(f.Depth()) / 8
}

// WireName returns the realtime protocol name of the format, or "" when the
// engine protocol has no name for it.
func (f Format) WireName() string {
	switch f {
	case Mulaw8K:
		return "g711_ulaw"
	case L16Mono24K:
		return "pcm16"
	}
	return ""
}

// String returns a human-readable string representation of the format.
func (f Format) String() string {
	switch f {
	case Mulaw8K:
		return "audio/x-mulaw; rate=8000; channels=1"
	case L16Mono8K:
		return "audio/L16; rate=8000; channels=1"
	case L16Mono16K:
		return "audio/L16; rate=16000; channels=1"
	case L16Mono24K:
		return "audio/L16; rate=24000; channels=1"
	}
	return fmt.Sprintf("pcm.Format(%d)", int(f))
}

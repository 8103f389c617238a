// Package pcm describes the audio formats spoken on either side of the
// bridge and provides the sample-level helpers used to move between them.
//
// Key types and functions:
//   - Format: wire format of a leg (encoding, sample rate, bit depth)
//   - Upsample: linear interpolation by an integer factor
//   - Downsample: decimation by an integer factor
//   - Bytes / Samples: little-endian 16-bit conversion
//
// Downsample keeps every Nth sample and has no anti-aliasing filter. Use the
// resampler package when output quality matters more than latency.
//
// Example usage:
//
//	samples := mulaw.Decode(payload)            // 8 kHz
//	wide := pcm.Upsample(samples, 2)            // 16 kHz
//	frame := pcm.Bytes(wide)
package pcm

// Package resampler provides streaming sample-rate conversion for mono
// 16-bit audio using a pure Go polyphase resampler.
//
// Unlike pcm.Upsample and pcm.Downsample, the converter filters the signal,
// so it is suitable for rates that are not integer multiples of each other.
// A Converter keeps filter state between chunks; use one per audio stream.
//
// Example usage:
//
//	c, err := resampler.New(8000, 24000)
//	if err != nil {
//	    return err
//	}
//	out, err := c.Process(samples)
package resampler

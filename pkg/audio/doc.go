// Package audio groups the audio packages used on the call path:
//
//   - pcm: format descriptors and 16-bit sample helpers
//   - mulaw: G.711 μ-law decoding
//   - resampler: band-limited sample rate conversion
//   - transcode: per-session conversion plans between a call leg format
//     and an engine format
//
// Example:
//
//	plan, err := transcode.NewPlan(pcm.Mulaw8K, pcm.L16Mono24K, transcode.Linear)
//	if err != nil {
//	    return err
//	}
//	defer plan.Close()
//	out, err := plan.Convert(chunk)
package audio

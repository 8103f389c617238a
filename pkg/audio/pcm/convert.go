package pcm

// Upsample raises the sample rate by an integer factor using linear
// interpolation between neighboring samples. The first output sample equals
// the first input sample; past the last input sample the interpolation
// target is clamped to that sample. The result has len(samples)*factor
// samples.
func Upsample(samples []int16, factor int) []int16 {
	if factor < 1 {
		panic("pcm: invalid resample factor")
	}
	out := make([]int16, len(samples)*factor)
	if factor == 1 {
		copy(out, samples)
		return out
	}
	last := len(samples) - 1
	for i, a := range samples {
		b := a
		if i < last {
			b = samples[i+1]
		}
		base := i * factor
		diff := int32(b) - int32(a)
		for k := range factor {
			out[base+k] = int16(int32(a) + diff*int32(k)/int32(factor))
		}
	}
	return out
}

// Downsample lowers the sample rate by an integer factor by keeping every
// factor-th sample. There is no anti-aliasing filter, so content above the
// new Nyquist frequency folds back into the output. The result has
// len(samples)/factor samples.
func Downsample(samples []int16, factor int) []int16 {
	if factor < 1 {
		panic("pcm: invalid resample factor")
	}
	out := make([]int16, len(samples)/factor)
	for i := range out {
		out[i] = samples[i*factor]
	}
	return out
}

// Bytes encodes samples as little-endian 16-bit PCM.
func Bytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// Samples decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func Samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}

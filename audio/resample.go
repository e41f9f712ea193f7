package audio

// DestinationCapacity returns the number of destination frames to allocate
// when converting frames frames from srcRate to dstRate:
// ceil(frames * dstRate / srcRate).
func DestinationCapacity(frames, srcRate, dstRate int) int {
	if frames <= 0 || srcRate <= 0 || dstRate <= 0 {
		return 0
	}
	n := int64(frames) * int64(dstRate)
	return int((n + int64(srcRate) - 1) / int64(srcRate))
}

// destinationFrames returns the number of frames actually produced: the
// nearest integer to frames * dstRate / srcRate. Rounding to nearest keeps a
// round trip through another rate within one frame of the original length.
func destinationFrames(frames, srcRate, dstRate int) int {
	if frames <= 0 || srcRate <= 0 || dstRate <= 0 {
		return 0
	}
	n := int64(frames) * int64(dstRate)
	return int((n + int64(srcRate)/2) / int64(srcRate))
}

// resampleLinear resamples interleaved samples with the given channel count
// from srcRate to dstRate using linear interpolation, writing outFrames
// frames into dst. dst must hold outFrames*channels samples.
func resampleLinear(dst, src []float64, channels, srcRate, dstRate, outFrames int) {
	inFrames := len(src) / channels
	if inFrames == 0 {
		return
	}
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < outFrames; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		for ch := 0; ch < channels; ch++ {
			if idx >= inFrames-1 {
				dst[i*channels+ch] = src[(inFrames-1)*channels+ch]
				continue
			}
			s0 := src[idx*channels+ch]
			s1 := src[(idx+1)*channels+ch]
			dst[i*channels+ch] = s0 + frac*(s1-s0)
		}
	}
}

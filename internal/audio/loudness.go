package audio

import (
	"encoding/binary"
	"math"
)

// MinDB is the floor of every reading (silence).
const MinDB = -60.0

// Full-scale magnitudes per bit depth.
const (
	FullScale16 = 32767.0
	FullScale24 = 8388607.0
	FullScale32 = 2147483647.0
)

type sampleDecoder func(b []byte) float64

func decode16(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) }

func decode24(b []byte) float64 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v >= 1<<23 {
		v -= 1 << 24
	}
	return float64(v)
}

func decode32(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) }

// decoderFor returns the sample width, decoder and full scale for a bit depth.
// Unknown depths are read as 16-bit.
func decoderFor(bitDepth int) (int, sampleDecoder, float64) {
	switch bitDepth {
	case 24:
		return 3, decode24, FullScale24
	case 32:
		return 4, decode32, FullScale32
	default:
		return 2, decode16, FullScale16
	}
}

// Decibels returns the RMS level of a chunk relative to full scale, floored at MinDB.
// Stereo chunks report the louder of the two channels.
func Decibels(chunk []byte, f Format) float64 {
	width, dec, fullScale := decoderFor(f.BitDepth)
	n := len(chunk) / width
	if n == 0 {
		return MinDB
	}

	var rms float64
	if f.Channels == 2 && n > 1 {
		rms = max(channelRMS(chunk, n, width, 0, 2, dec), channelRMS(chunk, n, width, 1, 2, dec))
	} else {
		rms = channelRMS(chunk, n, width, 0, 1, dec)
	}
	if rms == 0 || math.IsNaN(rms) {
		return MinDB
	}

	return max(20*math.Log10(rms/fullScale), MinDB)
}

// channelRMS computes the RMS of every stride-th sample starting at offset.
func channelRMS(chunk []byte, n, width, offset, stride int, dec sampleDecoder) float64 {
	var sum float64
	count := 0
	for i := offset; i < n; i += stride {
		v := dec(chunk[i*width : i*width+width])
		sum += v * v
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}

// MeterPercent maps a reading onto a 0-100 level meter where MinDB is empty and 0 dB is full.
func MeterPercent(db float64) float64 {
	return min(max((db-MinDB)*100/-MinDB, 0), 100)
}

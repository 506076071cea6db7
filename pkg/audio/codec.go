// Package audio converts between raw samples and the service wire format,
// and schedules decoded clips for gapless, interruptible playback.
package audio

import (
	"math"
	"time"
)

// Clip is one decoded fragment of inbound service audio, ready to schedule.
type Clip struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the clip's playback length.
func (c Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// Seconds returns the clip's playback length in seconds.
func (c Clip) Seconds() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// EncodeFrame converts one capture buffer of float samples in [-1, 1] to
// little-endian PCM16 wire bytes. Pure and allocation-only: it runs inside
// the capture callback and must never block.
func EncodeFrame(samples []float32) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		data[i*2] = byte(v)
		data[i*2+1] = byte(v >> 8)
	}
	return data
}

// DecodeClip converts inbound PCM16 wire bytes into a Clip at the given
// sample rate. A trailing odd byte is ignored.
func DecodeClip(data []byte, sampleRate int) Clip {
	return Clip{
		Samples:    BytesToSamples(data),
		SampleRate: sampleRate,
	}
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Resample converts audio from one sample rate to another using linear
// interpolation. Adequate for speech audio.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)
	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			s1 := float64(samples[srcIdx])
			s2 := float64(samples[srcIdx+1])
			result[i] = int16(s1 + frac*(s2-s1))
		}
	}
	return result
}

// CalculateRMS returns the root mean square of samples, normalized to 0..1.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return rms / 32767
}

// Energy reduces a set of frequency bins (each 0..1) to a single normalized
// level for the host UI's visualizer. The core exposes only this numeric
// signal; rendering belongs to the host.
func Energy(bins []float32) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		v := float64(b)
		if v < 0 {
			v = -v
		}
		if v > 1 {
			v = 1
		}
		sum += v
	}
	return sum / float64(len(bins))
}

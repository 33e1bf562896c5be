package codec

import (
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/juju/errors"
)

// PCM is mono audio normalised to [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
}

func (p *PCM) Duration() time.Duration {
	if p.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(len(p.Samples)) / float64(p.SampleRate) * float64(time.Second))
}

/**
 * DecodeMono reads a PCM WAV file, averages its channels and resamples it
 * linearly to targetRate. A targetRate of 0 keeps the source rate.
 */
func DecodeMono(path string, targetRate int) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, errors.NotValidf("wav file %s", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, errors.Annotatef(err, "decode %s", path)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, errors.NotValidf("wav format of %s", path)
	}

	samples := downmix(buf)
	rate := buf.Format.SampleRate
	if targetRate > 0 && targetRate != rate {
		samples = resample(samples, rate, targetRate)
		rate = targetRate
	}
	return &PCM{Samples: samples, SampleRate: rate}, nil
}

func downmix(buf *audio.IntBuffer) []float32 {
	channels := buf.Format.NumChannels
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := math.Pow(2, float64(bitDepth-1))
	// 8 bit wav samples are unsigned
	offset := 0.0
	if bitDepth == 8 {
		offset = scale
	}

	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += (float64(buf.Data[i*channels+c]) - offset) / scale
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resample(in []float32, from, to int) []float32 {
	if len(in) == 0 {
		return in
	}
	n := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

package codec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/warriorguo/stemflow/types"
)

func writeWAV(t *testing.T, path string, rate, channels int, data []int) {
	f, err := os.Create(path)
	require.Nil(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.Nil(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.Nil(t, enc.Close())
}

func TestDecodeMono(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	// left and right cancel on odd frames
	data := []int{16384, 16384, 16384, -16384, -16384, -16384, 0, 0}
	writeWAV(t, path, 44100, 2, data)

	pcm, err := DecodeMono(path, 0)
	require.Nil(t, err)
	assert.Equal(t, 44100, pcm.SampleRate)
	require.Len(t, pcm.Samples, 4)
	assert.InDelta(t, 0.5, pcm.Samples[0], 1e-6)
	assert.InDelta(t, 0, pcm.Samples[1], 1e-6)
	assert.InDelta(t, -0.5, pcm.Samples[2], 1e-6)
	assert.InDelta(t, 0, pcm.Samples[3], 1e-6)
}

func TestDecodeMonoResample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	data := make([]int, 44100)
	for i := range data {
		data[i] = 8192
	}
	writeWAV(t, path, 44100, 1, data)

	pcm, err := DecodeMono(path, 22050)
	require.Nil(t, err)
	assert.Equal(t, 22050, pcm.SampleRate)
	assert.Len(t, pcm.Samples, 22050)
	assert.InDelta(t, 0.25, pcm.Samples[100], 1e-6)
	assert.InDelta(t, 1.0, pcm.Duration().Seconds(), 1e-6)
}

func TestDecodeInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.Nil(t, os.WriteFile(path, []byte("not a wav file at all"), 0600))

	_, err := DecodeMono(path, 22050)
	assert.NotNil(t, err)

	_, err = DecodeMono(filepath.Join(t.TempDir(), "missing.wav"), 22050)
	assert.NotNil(t, err)
}

func TestResample(t *testing.T) {
	assert.Equal(t, []float32{0, 0.5, 1, 1}, resample([]float32{0, 1}, 1, 2))
	assert.Empty(t, resample(nil, 1, 2))
}

func TestWriteMIDI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session", "piano.mid")
	err := WriteMIDI(path, []Track{
		{
			Name: "piano",
			Notes: []types.Note{
				{StartTime: 0, Duration: 0.5, Pitch: 60, Amplitude: 1, PitchBends: []float64{0, 1}},
				{StartTime: 0.5, Duration: 0.5, Pitch: 64, Amplitude: 0.5},
			},
		},
		{
			Name:  "drums",
			Drums: true,
			Notes: []types.Note{{StartTime: 0.25, Duration: 0.1, Pitch: 36, Amplitude: 0.8}},
		},
	}, 120)
	require.Nil(t, err)

	s, err := smf.ReadFile(path)
	require.Nil(t, err)
	require.Len(t, s.Tracks, 3)

	var bpm float64
	found := false
	for _, ev := range s.Tracks[0] {
		if ev.Message.GetMetaTempo(&bpm) {
			found = true
		}
	}
	assert.True(t, found)
	assert.InDelta(t, 120, bpm, 0.01)

	type noteOn struct{ ch, key, vel uint8 }
	collect := func(tr smf.Track) ([]noteOn, int) {
		ons := []noteOn{}
		bends := 0
		for _, ev := range tr {
			var ch, key, vel uint8
			var rel int16
			var abs uint16
			msg := midi.Message(ev.Message)
			if msg.GetNoteOn(&ch, &key, &vel) {
				ons = append(ons, noteOn{ch, key, vel})
			}
			if msg.GetPitchBend(&ch, &rel, &abs) {
				bends++
			}
		}
		return ons, bends
	}

	ons, bends := collect(s.Tracks[1])
	assert.Equal(t, []noteOn{{0, 60, 127}, {0, 64, 64}}, ons)
	assert.Equal(t, 3, bends)

	ons, bends = collect(s.Tracks[2])
	assert.Equal(t, []noteOn{{drumChannel, 36, 102}}, ons)
	assert.Equal(t, 0, bends)

	assert.NotNil(t, WriteMIDI(path, nil, 120))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, uint8(1), velocity(0))
	assert.Equal(t, uint8(127), velocity(2))
	assert.Equal(t, int16(8191), bendValue(PitchBendRange))
	assert.Equal(t, int16(-8192), bendValue(-10))
	assert.True(t, overlapping([]types.Note{{StartTime: 0, Duration: 1}, {StartTime: 0.5, Duration: 1}}))
	assert.False(t, overlapping([]types.Note{{StartTime: 1, Duration: 1}, {StartTime: 0, Duration: 1}}))
}

package notes

import (
	"context"
	"strings"

	"github.com/juju/errors"

	"github.com/warriorguo/stemflow/types"
)

const (
	// SampleRate is the mono input rate the model is evaluated at.
	SampleRate = 22050
	// FrameRate is the number of model frames per second of audio.
	FrameRate = 22050.0 / 256.0

	// MidiOffset is the midi pitch of the first frame bin (A0).
	MidiOffset = 21
	NumPitches = 88
	// ContourBinsPerSemitone is the resolution of the pitch contour output.
	ContourBinsPerSemitone = 3

	// frames below threshold tolerated inside one sustained note
	energyTolerance = 11
)

// Batch is one chunk of streamed model output, indexed [frame][bin].
type Batch struct {
	Frames   [][]float32 `json:"frames"`
	Onsets   [][]float32 `json:"onsets"`
	Contours [][]float32 `json:"contours"`
}

/**
 * Model is the note extraction collaborator. Output batches arrive in frame
 * order through onFrames, onProgress receives values in [0, 1].
 */
type Model interface {
	EvaluateModel(ctx context.Context, audio []float32, onFrames func(Batch), onProgress func(float64)) error
}

// Thresholds tune note decoding for one stem.
type Thresholds struct {
	Onset float64
	Frame float64
	// MinNoteLength in model frames.
	MinNoteLength int
}

var DefaultThresholds = Thresholds{
	Onset:         0.5,
	Frame:         0.3,
	MinNoteLength: 11,
}

// ThresholdsFor returns the decoding thresholds for a stem name.
func ThresholdsFor(stemName string) Thresholds {
	th := DefaultThresholds
	switch strings.ToLower(stemName) {
	case "piano", "bass", "synth":
		th.Frame = 0.25
	case "drums":
		th.Onset = 0.7
	}
	return th
}

// Output is the full model output of one evaluation.
type Output struct {
	Frames   [][]float32
	Onsets   [][]float32
	Contours [][]float32
}

func (o *Output) append(b Batch) {
	o.Frames = append(o.Frames, b.Frames...)
	o.Onsets = append(o.Onsets, b.Onsets...)
	o.Contours = append(o.Contours, b.Contours...)
}

// Evaluate runs the model to completion and collects every batch.
func Evaluate(ctx context.Context, m Model, audio []float32, onProgress func(float64)) (*Output, error) {
	if len(audio) == 0 {
		return nil, errors.BadRequestf("empty audio")
	}
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	out := &Output{}
	if err := m.EvaluateModel(ctx, audio, out.append, onProgress); err != nil {
		return nil, errors.Annotate(err, "evaluate model")
	}
	return out, nil
}

// Extract evaluates the model and decodes the notes with th.
func Extract(ctx context.Context, m Model, audio []float32, th Thresholds, onProgress func(float64)) ([]types.Note, error) {
	out, err := Evaluate(ctx, m, audio, onProgress)
	if err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return DecodeNotes(out.Frames, out.Onsets, out.Contours, th), nil
}

// Validate rejects ragged output, every frame and onset row carries NumPitches bins.
func (o *Output) Validate() error {
	if len(o.Frames) != len(o.Onsets) {
		return errors.NotValidf("model output with %d frame rows and %d onset rows", len(o.Frames), len(o.Onsets))
	}
	for t := range o.Frames {
		if len(o.Frames[t]) != NumPitches || len(o.Onsets[t]) != NumPitches {
			return errors.NotValidf("model output row %d with %d frame and %d onset bins", t, len(o.Frames[t]), len(o.Onsets[t]))
		}
	}
	if len(o.Contours) != 0 && len(o.Contours) != len(o.Frames) {
		return errors.NotValidf("model output with %d contour rows for %d frames", len(o.Contours), len(o.Frames))
	}
	return nil
}

package pipelines

import (
	"path/filepath"

	"github.com/juju/errors"

	"github.com/warriorguo/stemflow/codec"
	"github.com/warriorguo/stemflow/runtime"
	"github.com/warriorguo/stemflow/services/notes"
	"github.com/warriorguo/stemflow/types"
)

const drumsStem = "drums"

// MidiInput asks for the MIDI rendering of one stem of a session.
type MidiInput struct {
	SessionID string
	StemName  string
}

type StemFile struct {
	SessionID string
	StemName  string
	Path      string
	// BPM of the session analysis, zero when the analysis is missing.
	BPM float64
}

type StemAudio struct {
	StemFile
	PCM *codec.PCM
}

type StemNotes struct {
	StemFile
	Notes []types.Note
}

type MidiResult struct {
	SessionID string
	StemName  string
	Path      string
	Notes     int
}

type midiNodes struct {
	deps *Deps
}

func (m *midiNodes) fetchStemFilePath(ctx types.Context, in *MidiInput) (*StemFile, error) {
	if in == nil || in.SessionID == "" || in.StemName == "" {
		return nil, errors.BadRequestf("session id and stem name are required")
	}
	sess, err := m.deps.Sessions.FindOne(ctx, in.SessionID, types.FieldStems, types.FieldEssentia)
	if err != nil {
		return nil, errors.Annotatef(err, "stem %s", in.StemName)
	}
	if sess == nil {
		return nil, errors.Annotatef(errors.NotFoundf("session %s", in.SessionID), "stem %s", in.StemName)
	}
	path, exists := sess.Stems[in.StemName]
	if !exists || path == "" {
		return nil, errors.NotFoundf("stem %s in session %s", in.StemName, in.SessionID)
	}

	stem := &StemFile{SessionID: in.SessionID, StemName: in.StemName, Path: path}
	if sess.EssentiaAnalysis != nil {
		stem.BPM = sess.EssentiaAnalysis.BPM
	}
	return stem, nil
}

func (m *midiNodes) decodeStemAudio(ctx types.Context, stem *StemFile) (*StemAudio, error) {
	pcm, err := codec.DecodeMono(stem.Path, notes.SampleRate)
	if err != nil {
		return nil, errors.Annotatef(err, "decode stem %s", stem.StemName)
	}
	return &StemAudio{StemFile: *stem, PCM: pcm}, nil
}

func (m *midiNodes) extractNotes(ctx types.Context, audio *StemAudio) (*StemNotes, error) {
	entry := nodeLogger(m.deps.logger(), ctx, NodeExtractNotes, audio.SessionID).WithField("stem", audio.StemName)

	last := -1
	found, err := notes.Extract(ctx, m.deps.Notes, audio.PCM.Samples, notes.ThresholdsFor(audio.StemName), func(p float64) {
		if pct := int(p * 10); pct != last {
			last = pct
			entry.Debugf("note extraction %d%%", pct*10)
		}
	})
	if err != nil {
		return nil, errors.Annotatef(err, "extract notes of stem %s", audio.StemName)
	}
	entry.Infof("extracted %d notes", len(found))
	return &StemNotes{StemFile: audio.StemFile, Notes: found}, nil
}

func (m *midiNodes) synthesizeMidi(ctx types.Context, stem *StemNotes) (*MidiResult, error) {
	entry := nodeLogger(m.deps.logger(), ctx, NodeSynthesizeMidi, stem.SessionID).WithField("stem", stem.StemName)

	path := filepath.Join(m.deps.MidiDir, stem.SessionID, stem.StemName+".mid")
	err := codec.WriteMIDI(path, []codec.Track{{
		Name:  stem.StemName,
		Drums: stem.StemName == drumsStem,
		Notes: stem.Notes,
	}}, stem.BPM)
	if err != nil {
		return nil, errors.Annotatef(err, "synthesize midi of stem %s", stem.StemName)
	}

	bestEffort(entry, "recording midi path", func() error {
		return m.deps.Sessions.UpdateOne(ctx, stem.SessionID, types.Data{types.FieldMidi + "." + stem.StemName: path})
	})
	entry.Infof("midi written to %s", path)
	return &MidiResult{SessionID: stem.SessionID, StemName: stem.StemName, Path: path, Notes: len(stem.Notes)}, nil
}

// NewMidiPipeline assembles fetchStemFilePath -> decodeStemAudio -> extractNotes -> synthesizeMidi.
func NewMidiPipeline(deps *Deps) (*runtime.Pipeline, error) {
	if deps == nil {
		return nil, errors.NotValidf("nil deps")
	}
	if err := deps.validate(map[string]any{
		"session store": deps.Sessions,
		"note model":    deps.Notes,
	}); err != nil {
		return nil, err
	}

	m := &midiNodes{deps: deps}
	p := runtime.NewPipeline(MidiPipelineName, deps.pipelineOptions()...)
	err := p.AddNodes(
		runtime.NewNode(NodeFetchStemFilePath).Process(runtime.Unary(m.fetchStemFilePath)).MustBuild(),
		runtime.NewNode(NodeDecodeStemAudio).DependsOn(NodeFetchStemFilePath).
			Process(runtime.Unary(m.decodeStemAudio)).MustBuild(),
		runtime.NewNode(NodeExtractNotes).DependsOn(NodeDecodeStemAudio).
			Process(runtime.Unary(m.extractNotes)).MustBuild(),
		runtime.NewNode(NodeSynthesizeMidi).DependsOn(NodeExtractNotes).
			Process(runtime.Unary(m.synthesizeMidi)).MustBuild(),
	)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := p.SetEntryNode(NodeFetchStemFilePath); err != nil {
		return nil, errors.Trace(err)
	}
	return p, errors.Trace(p.Validate())
}

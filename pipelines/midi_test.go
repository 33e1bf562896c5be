package pipelines

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/stemflow/types"
)

func createStemSession(t *testing.T, deps *Deps, sessions SessionStore, sessionID string) string {
	stemPath := filepath.Join(deps.TempDir, sessionID, "stems", "piano.wav")
	writeTestWAV(t, stemPath, 44100, 0.5)

	_, err := sessions.CreateSession(context.Background(), &types.Session{
		SessionID:        sessionID,
		Status:           types.SessionCompleted,
		EssentiaAnalysis: &types.EssentiaAnalysis{BPM: 96, Key: "D", Scale: "major"},
		Stems:            map[string]string{"piano": stemPath},
	})
	require.Nil(t, err)
	return stemPath
}

func TestMidiPipeline(t *testing.T) {
	deps, sessions, _ := newTestDeps(t)
	createStemSession(t, deps, sessions, "s-midi")
	p, err := NewMidiPipeline(deps)
	require.Nil(t, err)

	ctx := context.Background()
	out, err := p.Execute(ctx, &MidiInput{SessionID: "s-midi", StemName: "piano"})
	require.Nil(t, err)

	result := out.(*MidiResult)
	assert.Equal(t, filepath.Join(deps.MidiDir, "s-midi", "piano.mid"), result.Path)
	assert.Equal(t, 1, result.Notes)
	info, err := os.Stat(result.Path)
	require.Nil(t, err)
	assert.True(t, info.Size() > 0)

	sess, err := sessions.FindOne(ctx, "s-midi")
	require.Nil(t, err)
	assert.Equal(t, result.Path, sess.Midi["piano"])
}

func TestMidiUnknownSession(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	p, err := NewMidiPipeline(deps)
	require.Nil(t, err)

	result, err := p.Run(context.Background(), &MidiInput{SessionID: "no-such-session", StemName: "vocals"})
	require.NotNil(t, err)
	assert.ErrorContains(t, err, "no-such-session")
	assert.ErrorContains(t, err, "vocals")
	assert.True(t, errors.Is(err, errors.NotFound))
	node, _ := types.FailedNode(err)
	assert.Equal(t, NodeFetchStemFilePath, node)
	assert.Empty(t, result.Processed)
}

func TestMidiUnknownStem(t *testing.T) {
	deps, sessions, _ := newTestDeps(t)
	createStemSession(t, deps, sessions, "s-stem")
	p, err := NewMidiPipeline(deps)
	require.Nil(t, err)

	_, err = p.Execute(context.Background(), &MidiInput{SessionID: "s-stem", StemName: "guitar"})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.ErrorContains(t, err, "guitar")
}

func TestMidiStageErrorsNameTheStem(t *testing.T) {
	deps, sessions, _ := newTestDeps(t)
	stemPath := createStemSession(t, deps, sessions, "s-broken")

	deps.Notes = &fakeModel{err: errors.New("model crashed")}
	p, err := NewMidiPipeline(deps)
	require.Nil(t, err)
	result, err := p.Run(context.Background(), &MidiInput{SessionID: "s-broken", StemName: "piano"})
	require.NotNil(t, err)
	assert.ErrorContains(t, err, "stem piano")
	node, _ := types.FailedNode(err)
	assert.Equal(t, NodeExtractNotes, node)
	assert.Equal(t, []string{NodeFetchStemFilePath, NodeDecodeStemAudio}, result.Processed)

	require.Nil(t, os.WriteFile(stemPath, []byte("garbage"), 0640))
	_, err = p.Execute(context.Background(), &MidiInput{SessionID: "s-broken", StemName: "piano"})
	assert.ErrorContains(t, err, "decode stem piano")
}

func TestRegistry(t *testing.T) {
	deps, _, _ := newTestDeps(t)

	r := NewRegistry(deps, false)
	a1, err := r.Audio()
	require.Nil(t, err)
	a2, _ := r.Audio()
	assert.Same(t, a1, a2)
	m1, err := r.Midi()
	require.Nil(t, err)
	m2, _ := r.Midi()
	assert.Same(t, m1, m2)

	dev := NewRegistry(deps, true)
	d1, err := dev.Audio()
	require.Nil(t, err)
	d2, _ := dev.Audio()
	assert.NotSame(t, d1, d2)

	broken := NewRegistry(&Deps{}, false)
	_, err = broken.Midi()
	assert.NotNil(t, err)
	_, err = broken.Midi()
	assert.NotNil(t, err)
}

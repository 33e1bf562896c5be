package pipelines

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/stemflow/services/stems"
	"github.com/warriorguo/stemflow/types"
)

func TestAudioPipeline(t *testing.T) {
	deps, sessions, stemsService := newTestDeps(t)
	p, err := NewAudioPipeline(deps)
	require.Nil(t, err)

	ctx := context.Background()
	result, err := p.Run(ctx, &AudioInput{File: testWAVBytes(t), FileName: "song.wav", SessionID: "s-ok"})
	require.Nil(t, err)

	report, ok := result.Output.(*CompletionReport)
	require.True(t, ok)
	assert.True(t, report.Completed(), report.Mismatches)
	assert.Empty(t, report.Mismatches)
	assert.Len(t, result.Processed, 10)

	sess, err := sessions.FindOne(ctx, "s-ok")
	require.Nil(t, err)
	assert.Equal(t, types.SessionCompleted, sess.Status)
	assert.Equal(t, types.ProgressCompleted, sess.Progress.AudioAnalysis)
	assert.Equal(t, types.ProgressCompleted, sess.Progress.Stems)
	assert.Equal(t, "A", sess.EssentiaAnalysis.Key)
	assert.Equal(t, filepath.Join(deps.TempDir, "s-ok", "song.wav"), sess.FilePath)
	assert.Len(t, sess.Stems, 3)
	assert.Equal(t, filepath.Join(deps.TempDir, "s-ok", "stems", "vocals.wav"), sess.Stems["vocals"])
	assert.Equal(t, []string{"job-s-ok"}, stemsService.deleted)

	staged, ok := result.Results[NodeProcessInputAudio].(*StagedAudio)
	require.True(t, ok)
	_, err = os.Stat(staged.FilePath)
	assert.Nil(t, err)
}

func TestAudioPipelineGeneratesSessionID(t *testing.T) {
	deps, sessions, _ := newTestDeps(t)
	p, err := NewAudioPipeline(deps)
	require.Nil(t, err)

	out, err := p.Execute(context.Background(), &AudioInput{File: testWAVBytes(t)})
	require.Nil(t, err)
	report := out.(*CompletionReport)
	assert.True(t, ValidSessionID(report.SessionID))

	sess, err := sessions.FindOne(context.Background(), report.SessionID)
	require.Nil(t, err)
	assert.Equal(t, filepath.Join(deps.TempDir, report.SessionID, defaultInputName), sess.FilePath)
}

func TestFailedStemsJob(t *testing.T) {
	deps, sessions, stemsService := newTestDeps(t)
	stemsService.status = stems.JobFailed
	p, err := NewAudioPipeline(deps)
	require.Nil(t, err)

	ctx := context.Background()
	result, err := p.Run(ctx, &AudioInput{File: testWAVBytes(t), SessionID: "s-failed"})
	require.NotNil(t, err)
	node, ok := types.FailedNode(err)
	assert.True(t, ok)
	assert.Equal(t, NodeRunStemsJob, node)
	assert.True(t, types.IsFatal(err))
	assert.ErrorContains(t, err, "FAILED")

	// the analysis branch ran to completion
	assert.Contains(t, result.Processed, NodeUpdateSessionEssentia)
	assert.NotContains(t, result.Processed, NodeRunStemsJob)
	assert.NotContains(t, result.Processed, NodeUpdateCompletionStatus)

	sess, err := sessions.FindOne(ctx, "s-failed")
	require.Nil(t, err)
	assert.Equal(t, types.ProgressFailed, sess.Progress.Stems)
	assert.Equal(t, types.ProgressCompleted, sess.Progress.AudioAnalysis)
	assert.Equal(t, types.SessionProcessing, sess.Status)
	assert.Empty(t, stemsService.deleted)
}

func TestFailedAnalysis(t *testing.T) {
	deps, sessions, _ := newTestDeps(t)
	deps.Analysis = &fakeAnalysis{err: errors.New("engine down")}
	p, err := NewAudioPipeline(deps)
	require.Nil(t, err)

	ctx := context.Background()
	result, err := p.Run(ctx, &AudioInput{File: testWAVBytes(t), SessionID: "s-analysis"})
	require.NotNil(t, err)
	node, _ := types.FailedNode(err)
	assert.Equal(t, NodeEssentiaAnalysis, node)
	assert.Contains(t, result.Processed, NodeUpdateSessionStems)

	sess, err := sessions.FindOne(ctx, "s-analysis")
	require.Nil(t, err)
	assert.Equal(t, types.ProgressFailed, sess.Progress.AudioAnalysis)
	assert.Equal(t, types.ProgressCompleted, sess.Progress.Stems)
	assert.Len(t, sess.Stems, 3)
}

func TestSessionDocumentFailureIsSwallowed(t *testing.T) {
	deps, sessions, _ := newTestDeps(t)
	deps.Sessions = &failingCreate{Store: sessions}
	p, err := NewAudioPipeline(deps)
	require.Nil(t, err)

	result, err := p.Run(context.Background(), &AudioInput{File: testWAVBytes(t), SessionID: "s-nodoc"})
	// the later session updates fail because the document is missing
	require.NotNil(t, err)
	assert.Contains(t, result.Processed, NodeCreateSessionDocument)
	assert.Contains(t, result.Processed, NodeEssentiaAnalysis)
	assert.Contains(t, result.Processed, NodeDownloadStemsJobResults)
	assert.NotContains(t, result.Processed, NodeUpdateCompletionStatus)
}

func TestInvalidUpload(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	p, err := NewAudioPipeline(deps)
	require.Nil(t, err)

	result, err := p.Run(context.Background(), &AudioInput{})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, errors.BadRequest))
	assert.Empty(t, result.Processed)

	_, err = p.Run(context.Background(), &AudioInput{File: []byte("x"), SessionID: "../escape"})
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestAudioPipelineDeps(t *testing.T) {
	_, err := NewAudioPipeline(&Deps{})
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = NewAudioPipeline(nil)
	assert.NotNil(t, err)
}

func TestAudioPipelineDOT(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	p, err := NewAudioPipeline(deps)
	require.Nil(t, err)

	dot := p.RenderDOT(nil)
	for _, id := range []string{NodeProcessInputAudio, NodeDownloadStemsJobResults, NodeUpdateCompletionStatus} {
		assert.Contains(t, dot, id)
	}
}

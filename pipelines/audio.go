package pipelines

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/warriorguo/stemflow/codec"
	"github.com/warriorguo/stemflow/runtime"
	"github.com/warriorguo/stemflow/services/analysis"
	"github.com/warriorguo/stemflow/services/stems"
	"github.com/warriorguo/stemflow/types"
)

const (
	defaultInputName = "input.wav"
	stemsDirName     = "stems"
)

// AudioInput is the upload handed to the audio pipeline, SessionID is generated when empty.
type AudioInput struct {
	File      []byte
	FileName  string
	SessionID string
}

// StagedAudio is the upload written to its session directory.
type StagedAudio struct {
	SessionID  string
	SessionDir string
	FilePath   string
	FileBuffer []byte
}

type PreparedAudio struct {
	SessionID string
	PCM       *codec.PCM
}

type AnalysisResult struct {
	SessionID string
	Analysis  types.EssentiaAnalysis
}

type UploadResult struct {
	SessionID string
	InputURL  string
}

type StemsResult struct {
	SessionID string
	Stems     map[string]string
}

type audioNodes struct {
	deps *Deps
}

// ValidSessionID reports whether id can name a session directory.
func ValidSessionID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func (a *audioNodes) processInputAudio(ctx types.Context, in *AudioInput) (*StagedAudio, error) {
	if in == nil || len(in.File) == 0 {
		return nil, errors.BadRequestf("empty audio upload")
	}
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !ValidSessionID(sessionID) {
		return nil, errors.NotValidf("session id %q", sessionID)
	}
	name := defaultInputName
	if in.FileName != "" {
		name = filepath.Base(in.FileName)
	}

	sessionDir := filepath.Join(a.deps.TempDir, sessionID)
	if err := os.MkdirAll(sessionDir, 0750); err != nil {
		return nil, errors.Annotatef(err, "create session directory %s", sessionDir)
	}
	filePath := filepath.Join(sessionDir, name)
	if err := os.WriteFile(filePath, in.File, 0640); err != nil {
		return nil, errors.Annotatef(err, "stage upload %s", filePath)
	}

	nodeLogger(a.deps.logger(), ctx, NodeProcessInputAudio, sessionID).Infof("staged %d bytes at %s", len(in.File), filePath)
	return &StagedAudio{
		SessionID:  sessionID,
		SessionDir: sessionDir,
		FilePath:   filePath,
		FileBuffer: in.File,
	}, nil
}

// createSessionDocument never fails, the staged files are enough to continue.
func (a *audioNodes) createSessionDocument(ctx types.Context, staged *StagedAudio) (*StagedAudio, error) {
	entry := nodeLogger(a.deps.logger(), ctx, NodeCreateSessionDocument, staged.SessionID)
	bestEffort(entry, "creating session document", func() error {
		_, err := a.deps.Sessions.CreateSession(ctx, &types.Session{
			SessionID:  staged.SessionID,
			FilePath:   staged.FilePath,
			SessionDir: staged.SessionDir,
			Status:     types.SessionProcessing,
			Progress: types.Progress{
				AudioAnalysis: types.ProgressPending,
				Stems:         types.ProgressPending,
			},
		})
		return err
	})
	return staged, nil
}

func (a *audioNodes) prepareAudio(ctx types.Context, staged *StagedAudio) (*PreparedAudio, error) {
	entry := nodeLogger(a.deps.logger(), ctx, NodePrepareAudio, staged.SessionID)
	bestEffort(entry, "marking audio analysis processing", func() error {
		return a.deps.Sessions.UpdateOne(ctx, staged.SessionID, types.Data{types.FieldProgressAnalysis: types.ProgressProcessing})
	})

	pcm, err := codec.DecodeMono(staged.FilePath, a.deps.analysisSampleRate())
	if err != nil {
		return nil, markFailed(ctx, entry, a.deps.Sessions, staged.SessionID, types.FieldProgressAnalysis,
			errors.Annotatef(err, "prepare audio of session %s", staged.SessionID))
	}
	return &PreparedAudio{SessionID: staged.SessionID, PCM: pcm}, nil
}

func (a *audioNodes) essentiaAnalysis(ctx types.Context, prepared *PreparedAudio) (*AnalysisResult, error) {
	entry := nodeLogger(a.deps.logger(), ctx, NodeEssentiaAnalysis, prepared.SessionID)

	var (
		bpm float64
		key *types.KeyResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bpm, err = a.deps.Analysis.DetectBPM(gctx, prepared.PCM.Samples, analysis.AlgorithmMultiFeature, prepared.PCM.SampleRate, nil)
		return errors.Trace(err)
	})
	g.Go(func() error {
		var err error
		key, err = a.deps.Analysis.DetectKey(gctx, prepared.PCM.Samples, prepared.PCM.SampleRate, nil)
		return errors.Trace(err)
	})
	if err := g.Wait(); err != nil {
		return nil, markFailed(ctx, entry, a.deps.Sessions, prepared.SessionID, types.FieldProgressAnalysis,
			errors.Annotatef(err, "analyse session %s", prepared.SessionID))
	}

	entry.Infof("bpm %.4f key %s %s", bpm, key.Key, key.Scale)
	return &AnalysisResult{
		SessionID: prepared.SessionID,
		Analysis:  types.EssentiaAnalysis{BPM: bpm, Key: key.Key, Scale: key.Scale},
	}, nil
}

func (a *audioNodes) updateSessionWithEssentia(ctx types.Context, result *AnalysisResult) (*AnalysisResult, error) {
	entry := nodeLogger(a.deps.logger(), ctx, NodeUpdateSessionEssentia, result.SessionID)
	err := a.deps.Sessions.UpdateOne(ctx, result.SessionID, types.Data{
		types.FieldEssentia:         result.Analysis,
		types.FieldProgressAnalysis: types.ProgressCompleted,
	})
	if err != nil {
		return nil, markFailed(ctx, entry, a.deps.Sessions, result.SessionID, types.FieldProgressAnalysis,
			errors.Annotatef(err, "store analysis of session %s", result.SessionID))
	}
	return result, nil
}

func (a *audioNodes) uploadFile(ctx types.Context, staged *StagedAudio) (*UploadResult, error) {
	entry := nodeLogger(a.deps.logger(), ctx, NodeUploadFile, staged.SessionID)
	bestEffort(entry, "marking stems processing", func() error {
		return a.deps.Sessions.UpdateOne(ctx, staged.SessionID, types.Data{types.FieldProgressStems: types.ProgressProcessing})
	})

	inputURL, err := a.deps.Uploader.Upload(ctx, staged.FilePath)
	if err != nil {
		return nil, markFailed(ctx, entry, a.deps.Sessions, staged.SessionID, types.FieldProgressStems,
			errors.Annotatef(err, "upload input of session %s", staged.SessionID))
	}
	return &UploadResult{SessionID: staged.SessionID, InputURL: inputURL}, nil
}

func (a *audioNodes) runStemsJob(ctx types.Context, upload *UploadResult) (*stems.Job, error) {
	entry := nodeLogger(a.deps.logger(), ctx, NodeRunStemsJob, upload.SessionID)
	fail := func(err error) (*stems.Job, error) {
		return nil, markFailed(ctx, entry, a.deps.Sessions, upload.SessionID, types.FieldProgressStems, err)
	}

	jobID, err := a.deps.Stems.AddJob(ctx, upload.SessionID, a.deps.jobType(), types.Data{stems.ParamInputURL: upload.InputURL})
	if err != nil {
		return fail(errors.Annotatef(err, "add stems job of session %s", upload.SessionID))
	}
	entry = entry.WithField("job_id", jobID)
	entry.Infof("stems job added")

	job, err := a.deps.Stems.WaitForJobCompletion(ctx, jobID)
	if err != nil {
		return fail(errors.Annotatef(err, "wait for stems job %s", jobID))
	}
	if !job.Succeeded() {
		return fail(types.NewFatalErrorf("stems job %s finished with status %s %s", jobID, job.Status, job.Error))
	}
	return job, nil
}

func (a *audioNodes) downloadStemsJobResults(ctx types.Context, inputs []any) (any, error) {
	job, err := runtime.InputAs[*stems.Job](inputs, 0)
	if err != nil {
		return nil, errors.Trace(err)
	}
	staged, err := runtime.InputAs[*StagedAudio](inputs, 1)
	if err != nil {
		return nil, errors.Trace(err)
	}
	entry := nodeLogger(a.deps.logger(), ctx, NodeDownloadStemsJobResults, staged.SessionID).WithField("job_id", job.ID)

	paths, err := a.deps.Stems.DownloadJobResults(ctx, job, filepath.Join(staged.SessionDir, stemsDirName))
	if err != nil {
		return nil, markFailed(ctx, entry, a.deps.Sessions, staged.SessionID, types.FieldProgressStems,
			errors.Annotatef(err, "download stems job %s", job.ID))
	}
	bestEffort(entry, "deleting stems job", func() error {
		return a.deps.Stems.DeleteJob(ctx, job.ID)
	})

	entry.Infof("downloaded %d stems", len(paths))
	return &StemsResult{SessionID: staged.SessionID, Stems: paths}, nil
}

func (a *audioNodes) updateSessionWithStems(ctx types.Context, result *StemsResult) (*StemsResult, error) {
	entry := nodeLogger(a.deps.logger(), ctx, NodeUpdateSessionStems, result.SessionID)
	err := a.deps.Sessions.UpdateOne(ctx, result.SessionID, types.Data{
		types.FieldStems:         result.Stems,
		types.FieldProgressStems: types.ProgressCompleted,
	})
	if err != nil {
		return nil, markFailed(ctx, entry, a.deps.Sessions, result.SessionID, types.FieldProgressStems,
			errors.Annotatef(err, "store stems of session %s", result.SessionID))
	}
	return result, nil
}

/**
 * NewAudioPipeline assembles the upload pipeline:
 *
 *	processInputAudio -> createSessionDocument -> prepareAudio -> essentiaAnalysis -> updateSessionWithEssentia
 *	                                           -> moisesUploadFile -> moisesRunStemsJob -> moisesDownloadStemsJobResults -> updateSessionWithStems
 *	{updateSessionWithEssentia, updateSessionWithStems, createSessionDocument} -> updateCompletionStatus
 */
func NewAudioPipeline(deps *Deps) (*runtime.Pipeline, error) {
	if deps == nil {
		return nil, errors.NotValidf("nil deps")
	}
	if err := deps.validate(map[string]any{
		"session store":   deps.Sessions,
		"analysis engine": deps.Analysis,
		"stems service":   deps.Stems,
		"stems uploader":  deps.Uploader,
	}); err != nil {
		return nil, err
	}

	a := &audioNodes{deps: deps}
	c := &completion{deps: deps}

	download, err := runtime.MergeNode(NodeDownloadStemsJobResults, a.downloadStemsJobResults,
		NodeRunStemsJob, NodeCreateSessionDocument)
	if err != nil {
		return nil, errors.Trace(err)
	}
	complete, err := runtime.MergeNode(NodeUpdateCompletionStatus, c.updateCompletionStatus,
		NodeUpdateSessionEssentia, NodeUpdateSessionStems, NodeCreateSessionDocument)
	if err != nil {
		return nil, errors.Trace(err)
	}

	p := runtime.NewPipeline(AudioPipelineName, deps.pipelineOptions()...)
	err = p.AddNodes(
		runtime.NewNode(NodeProcessInputAudio).Process(runtime.Unary(a.processInputAudio)).MustBuild(),
		runtime.NewNode(NodeCreateSessionDocument).DependsOn(NodeProcessInputAudio).
			Process(runtime.Unary(a.createSessionDocument)).MustBuild(),

		runtime.NewNode(NodePrepareAudio).DependsOn(NodeCreateSessionDocument).
			Process(runtime.Unary(a.prepareAudio)).MustBuild(),
		runtime.NewNode(NodeEssentiaAnalysis).DependsOn(NodePrepareAudio).
			Process(runtime.Unary(a.essentiaAnalysis)).MustBuild(),
		runtime.NewNode(NodeUpdateSessionEssentia).DependsOn(NodeEssentiaAnalysis).
			Process(runtime.Unary(a.updateSessionWithEssentia)).MustBuild(),

		runtime.NewNode(NodeUploadFile).DependsOn(NodeCreateSessionDocument).
			Process(runtime.Unary(a.uploadFile)).MustBuild(),
		runtime.NewNode(NodeRunStemsJob).DependsOn(NodeUploadFile).
			Process(runtime.Unary(a.runStemsJob)).MustBuild(),
		download,
		runtime.NewNode(NodeUpdateSessionStems).DependsOn(NodeDownloadStemsJobResults).
			Process(runtime.Unary(a.updateSessionWithStems)).MustBuild(),

		complete,
	)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := p.SetEntryNode(NodeProcessInputAudio); err != nil {
		return nil, errors.Trace(err)
	}
	return p, errors.Trace(p.Validate())
}

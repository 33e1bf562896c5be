package pipelines

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/stemflow/services/analysis"
	"github.com/warriorguo/stemflow/services/notes"
	"github.com/warriorguo/stemflow/services/stems"
	"github.com/warriorguo/stemflow/types"
)

const (
	AudioPipelineName = "audio"
	MidiPipelineName  = "midi"

	// audio pipeline
	NodeProcessInputAudio       = "processInputAudio"
	NodeCreateSessionDocument   = "createSessionDocument"
	NodePrepareAudio            = "prepareAudio"
	NodeEssentiaAnalysis        = "essentiaAnalysis"
	NodeUpdateSessionEssentia   = "updateSessionWithEssentia"
	NodeUploadFile              = "moisesUploadFile"
	NodeRunStemsJob             = "moisesRunStemsJob"
	NodeDownloadStemsJobResults = "moisesDownloadStemsJobResults"
	NodeUpdateSessionStems      = "updateSessionWithStems"
	NodeUpdateCompletionStatus  = "updateCompletionStatus"

	// midi pipeline
	NodeFetchStemFilePath = "fetchStemFilePath"
	NodeDecodeStemAudio   = "decodeStemAudio"
	NodeExtractNotes      = "extractNotes"
	NodeSynthesizeMidi    = "synthesizeMidi"
)

const (
	defaultAnalysisSampleRate = 44100
	defaultStemsJobType       = "stems-separation"
)

// SessionStore is the part of session.Store the pipelines write progress to.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *types.Session) (*types.Session, error)
	FindOne(ctx context.Context, sessionID string, projection ...string) (*types.Session, error)
	UpdateOne(ctx context.Context, sessionID string, set types.Data) error
}

// Deps are the collaborators the domain nodes call.
type Deps struct {
	Sessions SessionStore
	Analysis analysis.Engine
	Stems    stems.Service
	Uploader stems.Uploader
	Notes    notes.Model

	// TempDir holds one directory per session with the staged upload and its stems.
	TempDir string
	MidiDir string

	StemsJobType       string
	AnalysisSampleRate int

	Logger          *log.Entry
	PipelineOptions []types.PipelineOption
}

func (d *Deps) validate(required map[string]any) error {
	for name, dep := range required {
		if dep == nil {
			return errors.NotValidf("missing %s", name)
		}
	}
	return nil
}

func (d *Deps) logger() *log.Entry {
	if d.Logger != nil {
		return d.Logger
	}
	return log.NewEntry(log.StandardLogger())
}

func (d *Deps) pipelineOptions() []types.PipelineOption {
	opts := []types.PipelineOption{types.WithLogger(d.logger())}
	return append(opts, d.PipelineOptions...)
}

func (d *Deps) jobType() string {
	if d.StemsJobType == "" {
		return defaultStemsJobType
	}
	return d.StemsJobType
}

func (d *Deps) analysisSampleRate() int {
	if d.AnalysisSampleRate <= 0 {
		return defaultAnalysisSampleRate
	}
	return d.AnalysisSampleRate
}

func nodeLogger(base *log.Entry, ctx types.Context, node, sessionID string) *log.Entry {
	return base.WithFields(log.Fields{
		"run_id":     ctx.RunID(),
		"node":       node,
		"session_id": sessionID,
	})
}

// bestEffort runs a secondary side effect whose failure is logged and discarded.
func bestEffort(entry *log.Entry, what string, fn func() error) {
	if err := fn(); err != nil {
		entry.Warnf("%s failed: %v", what, err)
	}
}

// markFailed records a branch failure in the session and returns err unchanged.
func markFailed(ctx context.Context, entry *log.Entry, sessions SessionStore, sessionID, field string, err error) error {
	entry.Errorf("branch failed: %v", err)
	bestEffort(entry, "marking "+field+" failed", func() error {
		return sessions.UpdateOne(ctx, sessionID, types.Data{field: types.ProgressFailed})
	})
	return err
}

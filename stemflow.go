package stemflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/stemflow/pipelines"
	"github.com/warriorguo/stemflow/services/analysis"
	"github.com/warriorguo/stemflow/services/notes"
	"github.com/warriorguo/stemflow/services/stems"
	"github.com/warriorguo/stemflow/session"
	"github.com/warriorguo/stemflow/store"
	"github.com/warriorguo/stemflow/store/badger"
	"github.com/warriorguo/stemflow/store/mem"
	"github.com/warriorguo/stemflow/store/postgres"
	"github.com/warriorguo/stemflow/types"
)

// Collaborators replace the services otherwise built from the options.
type Collaborators struct {
	Analysis analysis.Engine
	Stems    stems.Service
	Uploader stems.Uploader
	Notes    notes.Model
}

// Engine owns the store, the pipelines and the background runs.
type Engine struct {
	opts     *types.Options
	store    store.Store
	sessions *session.Store
	registry *pipelines.Registry
	runner   *batchRunner
	logger   *log.Entry

	closers []func() error
}

// NewEngine creates an engine with the collaborators described by opts.
func NewEngine(opts ...types.Option) (*Engine, error) {
	return NewEngineWithCollaborators(Collaborators{}, opts...)
}

func NewEngineWithCollaborators(c Collaborators, opts ...types.Option) (*Engine, error) {
	options := types.NewOptions()
	for _, opt := range opts {
		opt(options)
	}

	s, err := newStore(options)
	if err != nil {
		return nil, errors.Trace(err)
	}

	e := &Engine{
		opts:     options,
		store:    s,
		sessions: session.NewStore(s),
		runner:   newBatchRunner(options.MaxConcurrentRuns, options.RetainedRuns, s),
		logger:   log.WithField("component", "engine"),
	}
	e.closers = append(e.closers, s.Close)

	if err := e.buildCollaborators(&c); err != nil {
		e.runner.stopWait()
		_ = e.closeAll()
		return nil, errors.Trace(err)
	}

	deps := &pipelines.Deps{
		Sessions: e.sessions,
		Analysis: c.Analysis,
		Stems:    c.Stems,
		Uploader: c.Uploader,
		Notes:    c.Notes,
		TempDir:  options.TempDir,
		MidiDir:  options.MidiDir,
		Logger:   log.NewEntry(log.StandardLogger()),
	}
	if options.StemsConfig != nil {
		deps.StemsJobType = options.StemsConfig.JobType
	}
	e.registry = pipelines.NewRegistry(deps, options.DevMode)
	return e, nil
}

// newStore picks the backend, PostgresConfig takes precedence over BadgerConfig and MemStore.
func newStore(options *types.Options) (store.Store, error) {
	switch {
	case options.PostgresConfig != nil:
		s, err := postgres.NewPostgresStore(postgres.FromOptions(options.PostgresConfig))
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
		return s, nil

	case options.BadgerConfig != nil && !options.MemStore:
		config := badger.FromOptions(options.BadgerConfig)
		config.Logger = log.WithField("component", "badger")
		s, err := badger.NewBadgerStore(config)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create badger store")
		}
		return s, nil

	default:
		return mem.NewMemStore(), nil
	}
}

func (e *Engine) buildCollaborators(c *Collaborators) error {
	o := e.opts
	if c.Analysis == nil && o.AnalysisConfig != nil {
		client, err := analysis.NewHTTPClient(o.AnalysisConfig)
		if err != nil {
			return errors.Trace(err)
		}
		c.Analysis = client
	}
	if c.Notes == nil && o.NotesConfig != nil {
		model, err := notes.NewHTTPModel(o.NotesConfig)
		if err != nil {
			return errors.Trace(err)
		}
		c.Notes = model
	}
	if o.StemsConfig == nil {
		return nil
	}

	var client *stems.HTTPClient
	if c.Stems == nil || (c.Uploader == nil && o.StemsConfig.GCSBucket == "") {
		var err error
		if client, err = stems.NewHTTPClient(o.StemsConfig); err != nil {
			return errors.Trace(err)
		}
	}
	if c.Stems == nil {
		c.Stems = client
	}
	if c.Uploader != nil {
		return nil
	}
	if o.StemsConfig.GCSBucket == "" {
		c.Uploader = client
		return nil
	}
	uploader, err := stems.NewGCSUploader(o.Ctx, o.StemsConfig.GCSBucket, o.StemsConfig.GCSCredentialsFile)
	if err != nil {
		return errors.Trace(err)
	}
	e.closers = append(e.closers, uploader.Close)
	c.Uploader = uploader
	return nil
}

func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

func (e *Engine) Registry() *pipelines.Registry {
	return e.registry
}

func audioRunKey(sessionID string) string {
	return "audio/" + sessionID
}

func midiRunKey(sessionID, stemName string) string {
	return "midi/" + sessionID + "/" + stemName
}

/**
 * SubmitAudio queues the audio pipeline and returns at once with the session
 * id the caller polls. The run outlives ctx, it is bound to the engine context.
 */
func (e *Engine) SubmitAudio(ctx context.Context, in pipelines.AudioInput) (string, error) {
	if len(in.File) == 0 {
		return "", errors.BadRequestf("empty audio upload")
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}
	if !pipelines.ValidSessionID(in.SessionID) {
		return "", errors.NotValidf("session id %q", in.SessionID)
	}
	// session ids are single-use
	existing, err := e.sessions.FindOne(ctx, in.SessionID, types.FieldStatus)
	if err != nil {
		return "", errors.Trace(err)
	}
	if existing != nil {
		return "", errors.AlreadyExistsf("session %s", in.SessionID)
	}
	p, err := e.registry.Audio()
	if err != nil {
		return "", errors.Trace(err)
	}

	sessionID := in.SessionID
	entry := e.logger.WithField("session_id", sessionID)
	status := &types.RunStatus{SessionID: sessionID}
	err = e.runner.submit(e.opts.Ctx, audioRunKey(sessionID), p, &in, status, func(result *types.RunResult, err error) {
		if err == nil {
			return
		}
		entry.Errorf("audio run failed: %v", err)
		e.markSessionFailed(entry, sessionID)
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	entry.Infof("audio run submitted")
	return sessionID, nil
}

// markSessionFailed closes a session left processing by a run which never reached its completion check.
func (e *Engine) markSessionFailed(entry *log.Entry, sessionID string) {
	ctx := e.opts.Ctx
	sess, err := e.sessions.FindOne(ctx, sessionID, types.FieldStatus)
	if err != nil || sess == nil || sess.Status != types.SessionProcessing {
		return
	}
	if err := e.sessions.UpdateOne(ctx, sessionID, types.Data{types.FieldStatus: types.SessionFailed}); err != nil {
		entry.Warnf("marking session failed failed: %v", err)
	}
}

func (e *Engine) SubmitMidi(ctx context.Context, in pipelines.MidiInput) error {
	if in.SessionID == "" || in.StemName == "" {
		return errors.BadRequestf("session id and stem name are required")
	}
	p, err := e.registry.Midi()
	if err != nil {
		return errors.Trace(err)
	}
	status := &types.RunStatus{SessionID: in.SessionID, StemName: in.StemName}
	return errors.Trace(e.runner.submit(e.opts.Ctx, midiRunKey(in.SessionID, in.StemName), p, &in, status, nil))
}

// RunMidi renders one stem and returns the MIDI file path.
func (e *Engine) RunMidi(ctx context.Context, in pipelines.MidiInput) (string, error) {
	p, err := e.registry.Midi()
	if err != nil {
		return "", errors.Trace(err)
	}
	out, err := p.Execute(ctx, &in)
	if err != nil {
		return "", errors.Trace(err)
	}
	result, ok := out.(*pipelines.MidiResult)
	if !ok {
		return "", errors.Errorf("unexpected midi pipeline output %T", out)
	}
	return result.Path, nil
}

// SessionStatus reads the session document, a missing session is NotFound.
func (e *Engine) SessionStatus(ctx context.Context, sessionID string) (*types.Session, error) {
	sess, err := e.sessions.FindOne(ctx, sessionID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if sess == nil {
		return nil, errors.NotFoundf("session %s", sessionID)
	}
	return sess, nil
}

// RunStatus returns the status of the audio run of a session.
func (e *Engine) RunStatus(ctx context.Context, sessionID string) (*types.RunStatus, bool) {
	return e.runner.get(ctx, audioRunKey(sessionID))
}

func (e *Engine) MidiRunStatus(ctx context.Context, sessionID, stemName string) (*types.RunStatus, bool) {
	return e.runner.get(ctx, midiRunKey(sessionID, stemName))
}

// Close waits for the submitted runs, then releases the store and clients.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.runner.stopWait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Annotate(ctx.Err(), "waiting for background runs")
	}
	return e.closeAll()
}

func (e *Engine) closeAll() error {
	var retErr error
	for _, c := range e.closers {
		if err := c(); err != nil {
			retErr = errors.Wrap(retErr, err)
		}
	}
	return retErr
}

package stemflow

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/stemflow/runtime"
	"github.com/warriorguo/stemflow/store"
	"github.com/warriorguo/stemflow/types"
	"github.com/warriorguo/stemflow/utils"
)

const (
	RunStatusPath = "/run_status/"

	defaultRetainedRuns = 256
)

/**
 * batchRunner runs pipelines in the background on a bounded pool. Every
 * status is saved to the store without its result. In memory it keeps the
 * active runs and the last retain finished ones, whose result is cut down
 * to the output and the trace.
 */
type batchRunner struct {
	mu sync.Mutex

	wp     *workerpool.WorkerPool
	store  store.Store
	closed bool
	runs   map[string]*types.RunStatus

	retain   int
	finished []finishedRun
}

type finishedRun struct {
	key    string
	status *types.RunStatus
}

func newBatchRunner(concurrency, retain int, s store.Store) *batchRunner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if retain <= 0 {
		retain = defaultRetainedRuns
	}
	return &batchRunner{
		wp:     workerpool.New(concurrency),
		store:  s,
		runs:   make(map[string]*types.RunStatus),
		retain: retain,
	}
}

func (b *batchRunner) add(key string, status *types.RunStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.NotValidf("submit on a closed engine")
	}
	if r, exists := b.runs[key]; exists && (r.Status == types.Pending || r.Status == types.Running) {
		return errors.AlreadyExistsf("run %s", key)
	}
	b.runs[key] = status
	return nil
}

func (b *batchRunner) update(ctx context.Context, key string, fn func(status *types.RunStatus)) {
	b.mu.Lock()
	status, exists := b.runs[key]
	if !exists {
		b.mu.Unlock()
		return
	}
	fn(status)
	snapshot := *status
	b.mu.Unlock()

	b.saveStatus(ctx, key, &snapshot)
}

func (b *batchRunner) saveStatus(ctx context.Context, key string, status *types.RunStatus) {
	data, err := utils.Serialize(status)
	if err == nil {
		err = b.store.Set(ctx, RunStatusPath, key, data)
	}
	if err != nil {
		log.Warnf("%s failed to save run status: %v", key, err)
	}
}

/**
 * submit queues a run of p. onDone is called on the pool goroutine once the
 * run finished, after the status has been updated.
 */
func (b *batchRunner) submit(ctx context.Context, key string, p *runtime.Pipeline, input any, status *types.RunStatus,
	onDone func(result *types.RunResult, err error)) error {
	status.Status = types.Pending
	status.Pipeline = p.Name()
	status.CreatedAt = time.Now()
	if err := b.add(key, status); err != nil {
		return errors.Trace(err)
	}
	snapshot := *status
	b.saveStatus(ctx, key, &snapshot)

	b.wp.Submit(func() {
		b.update(ctx, key, func(s *types.RunStatus) {
			s.Status = types.Running
		})

		result, err := p.Run(ctx, input)
		b.update(ctx, key, func(s *types.RunStatus) {
			s.Result = trimResult(result, err)
			s.FinishedAt = time.Now()
			if err != nil {
				s.Status = types.Failed
				s.LastError = err.Error()
				s.FailedNode, _ = types.FailedNode(err)
				return
			}
			s.Status = types.Finished
		})
		b.retire(key)
		if onDone != nil {
			onDone(result, err)
		}
	})
	return nil
}

// trimResult drops the per-node outputs, they hold the upload and its decoded audio.
func trimResult(result *types.RunResult, err error) *types.RunResult {
	if result == nil {
		return nil
	}
	trimmed := &types.RunResult{
		RunID:     result.RunID,
		Processed: result.Processed,
		Records:   result.Records,
	}
	if err == nil {
		trimmed.Output = result.Output
	}
	return trimmed
}

// retire marks key finished and evicts the oldest finished runs beyond retain.
func (b *batchRunner) retire(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	status, exists := b.runs[key]
	if !exists {
		return
	}
	b.finished = append(b.finished, finishedRun{key: key, status: status})
	for len(b.finished) > b.retain {
		oldest := b.finished[0]
		b.finished[0] = finishedRun{}
		b.finished = b.finished[1:]
		// the key may have been resubmitted since
		if b.runs[oldest.key] == oldest.status {
			delete(b.runs, oldest.key)
		}
	}
}

// get returns a copy of the run status, falling back to the saved one.
func (b *batchRunner) get(ctx context.Context, key string) (*types.RunStatus, bool) {
	b.mu.Lock()
	if status, exists := b.runs[key]; exists {
		snapshot := *status
		b.mu.Unlock()
		return &snapshot, true
	}
	b.mu.Unlock()

	data, err := b.store.Get(ctx, RunStatusPath, key)
	if err != nil {
		log.Warnf("%s failed to load run status: %v", key, err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	status, err := utils.Unserialize[types.RunStatus](data)
	if err != nil {
		log.Warnf("%s failed to decode run status: %v", key, err)
		return nil, false
	}
	return status, true
}

// stopWait rejects new runs and waits for the queued ones.
func (b *batchRunner) stopWait() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wp.StopWait()
}

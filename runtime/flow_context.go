package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/warriorguo/stemflow/types"
	"github.com/warriorguo/stemflow/utils"
)

var (
	_ types.Context = &nodeContext{}
)

/**
 * runState is the mutable state of one pipeline run.
 * results and processed are written together under mu, so a node ID is in
 * results iff it is in processed at every observation.
 */
type runState struct {
	mu sync.Mutex

	runID     string
	results   map[string]any
	processed map[string]struct{}
	order     []string
	claimed   map[string]struct{}
	records   map[string]*types.NodeTraceRecord
}

func newRunState(runID string) *runState {
	return &runState{
		runID:     runID,
		results:   make(map[string]any),
		processed: make(map[string]struct{}),
		claimed:   make(map[string]struct{}),
		records:   make(map[string]*types.NodeTraceRecord),
	}
}

func (s *runState) RunID() string {
	return s.runID
}

func (s *runState) Result(nodeID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exists := s.results[nodeID]
	return v, exists
}

func (s *runState) Processed(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.processed[nodeID]
	return exists
}

func (s *runState) ProcessedOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.order...)
}

func (s *runState) Results() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return utils.CloneMap(s.results)
}

// claim marks nodeID as dispatched. Only the first caller gets true.
func (s *runState) claim(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.claimed[nodeID]; exists {
		return false
	}
	s.claimed[nodeID] = struct{}{}
	return true
}

func (s *runState) record(nodeID string, output any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[nodeID] = output
	s.processed[nodeID] = struct{}{}
	s.order = append(s.order, nodeID)
}

/**
 * gather returns the input for node once every dependency is processed:
 * the raw upstream output for a single dependency, []any in declaration
 * order otherwise.
 */
func (s *runState) gather(node *types.Node) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dep := range node.DependsOn {
		if _, exists := s.processed[dep]; !exists {
			return nil, false
		}
	}
	if len(node.DependsOn) == 1 {
		return s.results[node.DependsOn[0]], true
	}
	inputs := make([]any, len(node.DependsOn))
	for i, dep := range node.DependsOn {
		inputs[i] = s.results[dep]
	}
	return inputs, true
}

func (s *runState) startRecord(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[nodeID] = &types.NodeTraceRecord{NodeID: nodeID, StartTime: time.Now()}
}

func (s *runState) endRecord(nodeID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.records[nodeID]
	if !exists {
		return
	}
	r.EndTime = time.Now()
	if err != nil {
		r.Error = err.Error()
	}
}

func (s *runState) snapshot() *types.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make(map[string]*types.NodeTraceRecord, len(s.records))
	for id, r := range s.records {
		cr := *r
		records[id] = &cr
	}
	return &types.RunResult{
		RunID:     s.runID,
		Results:   utils.CloneMap(s.results),
		Processed: append([]string(nil), s.order...),
		Records:   records,
	}
}

// nodeContext binds the shared run state to the context of one node execution.
type nodeContext struct {
	context.Context
	*runState
}

func newNodeContext(ctx context.Context, state *runState) *nodeContext {
	return &nodeContext{Context: ctx, runState: state}
}

package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/stemflow/types"
	"github.com/warriorguo/stemflow/utils"
)

var (
	_ types.Pipeline = &Pipeline{}

	errNoResult = errors.New("pipeline execution did not produce a result")
)

// Pipeline holds a node registry and its entry point. It is safe to Run
// concurrently, each Run owns its own execution state.
type Pipeline struct {
	mu sync.RWMutex

	name   string
	nodes  map[string]*types.Node
	order  []string
	entry  string
	opts   *types.PipelineOptions
	logger *log.Entry
}

func NewPipeline(name string, options ...types.PipelineOption) *Pipeline {
	opts := types.NewPipelineOptions()
	for _, opt := range options {
		opt(opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Pipeline{
		name:   name,
		nodes:  make(map[string]*types.Node),
		opts:   opts,
		logger: logger.WithField("pipeline", name),
	}
}

func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) AddNode(node *types.Node) error {
	if node == nil {
		return errors.BadRequestf("node is nil")
	}
	if node.Process == nil {
		return errors.BadRequestf("node:%s process is nil", node.ID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.nodes[node.ID]; exists {
		return errors.AlreadyExistsf("node %s", node.ID)
	}
	p.nodes[node.ID] = node
	p.order = append(p.order, node.ID)
	return nil
}

// AddNodes registers nodes in order and stops at the first error.
func (p *Pipeline) AddNodes(nodes ...*types.Node) error {
	for _, node := range nodes {
		if err := p.AddNode(node); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (p *Pipeline) SetEntryNode(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.nodes[id]; !exists {
		return errors.NotFoundf("entry node %s", id)
	}
	p.entry = id
	return nil
}

func (p *Pipeline) EntryNode() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.entry
}

// Validate checks that every dependency exists and that there is no cycle.
func (p *Pipeline) Validate() error {
	_, _, _, err := p.prepare()
	return errors.Trace(err)
}

func (p *Pipeline) prepare() (string, map[string]*types.Node, *dependencyGraph, error) {
	p.mu.RLock()
	entry := p.entry
	nodes := utils.CloneMap(p.nodes)
	order := append([]string(nil), p.order...)
	p.mu.RUnlock()

	graph, err := buildGraph(order, nodes)
	if err != nil {
		return "", nil, nil, errors.Trace(err)
	}
	return entry, nodes, graph, nil
}

func (p *Pipeline) Execute(ctx context.Context, input any) (any, error) {
	result, err := p.Run(ctx, input)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return result.Output, nil
}

/**
 * Run executes the pipeline from the entry node. The returned RunResult
 * describes the partial state of the run even when an error is returned,
 * unless the run could not start at all.
 */
func (p *Pipeline) Run(ctx context.Context, input any) (*types.RunResult, error) {
	if p.EntryNode() == "" {
		return nil, errors.NewNotValid(nil, "pipeline "+p.name+" has no entry node")
	}
	entry, nodes, graph, err := p.prepare()
	if err != nil {
		return nil, errors.Trace(err)
	}

	state := newRunState(uuid.NewString())
	logger := p.logger.WithField("run_id", state.runID)
	ex := &executor{
		pipeline: p.name,
		nodes:    nodes,
		graph:    graph,
		state:    state,
		logger:   logger,
		metrics:  p.opts.Metrics,
	}

	start := time.Now()
	logger.Debugf("run started from %s", entry)
	runErr := ex.executeNode(ctx, entry, input)

	result := state.snapshot()
	output, selErr := selectOutput(graph, state)
	if selErr == nil {
		result.Output = output
	}
	if runErr == nil {
		runErr = selErr
	}

	if p.opts.Metrics {
		pipelineRunDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
		pipelineRunTotal.WithLabelValues(p.name, resultLabel(runErr)).Inc()
	}
	if runErr != nil {
		logger.Warnf("run finished with error after %v: %v", time.Since(start), runErr)
		return result, errors.Trace(runErr)
	}
	logger.Debugf("run finished after %v, %d nodes processed", time.Since(start), len(result.Processed))
	return result, nil
}

/**
 * selectOutput prefers the first processed terminal node in registration
 * order, then the last processed node of the run.
 */
func selectOutput(graph *dependencyGraph, state *runState) (any, error) {
	for _, id := range graph.terminals {
		if v, exists := state.Result(id); exists {
			return v, nil
		}
	}
	order := state.ProcessedOrder()
	if len(order) == 0 {
		return nil, errNoResult
	}
	v, _ := state.Result(order[len(order)-1])
	return v, nil
}

func (p *Pipeline) RenderDOT(result *types.RunResult) string {
	_, nodes, graph, err := p.prepare()
	if err != nil {
		p.logger.Warnf("render on invalid graph: %v", err)
		p.mu.RLock()
		nodes = utils.CloneMap(p.nodes)
		graph = &dependencyGraph{order: append([]string(nil), p.order...)}
		p.mu.RUnlock()
	}
	return newDAGRenderer().generateDOT(p.name, graph.order, nodes, result)
}

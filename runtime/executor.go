package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/warriorguo/stemflow/types"
)

// executor runs one pipeline invocation over a fixed node snapshot.
type executor struct {
	pipeline string
	nodes    map[string]*types.Node
	graph    *dependencyGraph
	state    *runState
	logger   *log.Entry
	metrics  bool
}

/**
 * executeNode runs nodeID with input, then concurrently dispatches every
 * dependent whose whole dependency set is processed. It returns once all
 * dispatched dependents have returned. The first error from the fan-out is
 * returned, sibling branches still run to completion.
 */
func (e *executor) executeNode(ctx context.Context, nodeID string, input any) error {
	node, exists := e.nodes[nodeID]
	if !exists {
		return errors.NotFoundf("node %s", nodeID)
	}
	logger := e.logger.WithField("node", nodeID)

	if node.Condition != nil && !node.Condition(newNodeContext(ctx, e.state)) {
		logger.Debugf("condition is false, skip")
		if e.metrics {
			nodeRunTotal.WithLabelValues(e.pipeline, nodeID, resultSkipped).Inc()
		}
		return nil
	}
	if !e.state.claim(nodeID) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return types.NewNodeError(nodeID, errors.Trace(err))
	}

	output, err := e.runProcess(ctx, node, input, logger)
	if err != nil {
		logger.Errorf("process failed: %v", err)
		return types.NewNodeError(nodeID, err)
	}
	e.state.record(nodeID, output)
	logger.Debugf("processed")

	return e.fanOut(ctx, nodeID)
}

func (e *executor) runProcess(ctx context.Context, node *types.Node, input any, logger *log.Entry) (output any, retErr error) {
	ctx, span := tracer.Start(ctx, node.ID,
		trace.WithAttributes(
			attribute.String("stemflow.pipeline", e.pipeline),
			attribute.String("stemflow.run_id", e.state.runID),
			attribute.StringSlice("stemflow.depends_on", node.DependsOn),
		),
	)
	defer span.End()

	if e.metrics {
		nodeActive.WithLabelValues(e.pipeline).Inc()
		defer nodeActive.WithLabelValues(e.pipeline).Dec()
	}

	e.state.startRecord(node.ID)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			retErr = types.NewFatalError(fmt.Errorf("panic on %s: %v", node.ID, r))
		}
		e.state.endRecord(node.ID, retErr)
		if e.metrics {
			nodeRunDuration.WithLabelValues(e.pipeline, node.ID).Observe(time.Since(start).Seconds())
			nodeRunTotal.WithLabelValues(e.pipeline, node.ID, resultLabel(retErr)).Inc()
		}
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
	}()

	logger.Debugf("running")
	return node.Process(newNodeContext(ctx, e.state), input)
}

func (e *executor) fanOut(ctx context.Context, nodeID string) error {
	dependents := e.graph.dependents[nodeID]
	if len(dependents) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, dependentID := range dependents {
		dependent := e.nodes[dependentID]
		g.Go(func() error {
			input, ready := e.state.gather(dependent)
			if !ready {
				// the last dependency to complete dispatches it
				return nil
			}
			return e.executeNode(ctx, dependentID, input)
		})
	}
	return g.Wait()
}

package types

import (
	"context"
)

type StatusType int32

const (
	None     StatusType = 0
	Pending  StatusType = 1
	Running  StatusType = 2
	Failed   StatusType = 5
	Finished StatusType = 10
)

func (s StatusType) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Failed:
		return "failed"
	case Finished:
		return "finished"
	}
	return "none"
}

/**
 * Context is the run-scoped execution context shared by every node of
 * one pipeline run. It is never shared across runs.
 */
type Context interface {
	context.Context

	RunID() string
	Result(nodeID string) (any, bool)
	Processed(nodeID string) bool
	ProcessedOrder() []string
	Results() map[string]any
}

package types

import (
	"context"
	"time"
)

type RunResult struct {
	RunID  string
	Output any
	// Results and Processed are snapshots of the execution context after the run.
	Results   map[string]any
	Processed []string
	Records   map[string]*NodeTraceRecord
}

type Pipeline interface {
	Name() string
	AddNode(node *Node) error
	SetEntryNode(id string) error
	Validate() error
	Run(ctx context.Context, input any) (*RunResult, error)
	Execute(ctx context.Context, input any) (any, error)
	RenderDOT(result *RunResult) string
}

// RunStatus describes one background pipeline run, Result is only kept in memory.
type RunStatus struct {
	Status     StatusType `json:"status"`
	Pipeline   string     `json:"pipeline"`
	SessionID  string     `json:"sessionId,omitempty"`
	StemName   string     `json:"stemName,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
	FailedNode string     `json:"failedNode,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
	Result     *RunResult `json:"-"`
}

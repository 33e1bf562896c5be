package types

import (
	"fmt"
	"time"

	"github.com/juju/errors"
)

var (
	_ error = &RetryError{}
	_ error = &FatalError{}
	_ error = &NodeError{}
)

func NewRetryError(otherErr error, backoff time.Duration) error {
	return &RetryError{baseError: newBaseErr(otherErr), Backoff: backoff}
}

func NewRetryErrorf(backoff time.Duration, format string, args ...interface{}) error {
	return NewRetryError(errors.Errorf(format, args...), backoff)
}

func NewFatalError(otherErr error) error {
	return &FatalError{baseError: newBaseErr(otherErr)}
}

func NewFatalErrorf(format string, args ...interface{}) error {
	return NewFatalError(errors.Errorf(format, args...))
}

func NewNodeError(nodeID string, err error) error {
	return &NodeError{NodeID: nodeID, Err: err}
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{unwrapErr(otherErr)}
}

func unwrapErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(wrappedErr); ok {
		return unwrapErr(ue.UnwrapLocal())
	}
	return err
}

type wrappedErr interface {
	UnwrapLocal() error
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	return e.BaseErr.Error()
}

func (e *baseError) UnwrapLocal() error {
	return e.BaseErr
}

func (e *baseError) Unwrap() error {
	return e.BaseErr
}

// RetryError asks the caller to try again after Backoff.
type RetryError struct {
	*baseError
	Backoff time.Duration
}

// FatalError aborts the branch it is raised in, it is never retried.
type FatalError struct {
	*baseError
}

// NodeError names the node whose process failed.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// FailedNode returns the ID of the node that raised err, if any.
func FailedNode(err error) (string, bool) {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.NodeID, true
	}
	if ne, ok := errors.Cause(err).(*NodeError); ok {
		return ne.NodeID, true
	}
	return "", false
}

func IsFatal(err error) bool {
	var fe *FatalError
	if errors.As(err, &fe) {
		return true
	}
	_, ok := errors.Cause(err).(*FatalError)
	return ok
}

func IsRetry(err error) (*RetryError, bool) {
	var re *RetryError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

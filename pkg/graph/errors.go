package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEdge is returned by Connect when the requested edge would break a graph invariant.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrInvalidGraph is returned by Validate for structurally broken graphs.
	ErrInvalidGraph = errors.New("invalid workflow graph")

	// ErrMultipleEntryTriggers is returned by Validate when more than one trigger has no incoming edge.
	ErrMultipleEntryTriggers = errors.New("workflow has more than one entry trigger")

	// ErrNoEntryTrigger is returned by ExecutionOrder when no trigger can start the workflow.
	ErrNoEntryTrigger = errors.New("workflow has no entry trigger")
)

// EdgeError describes why an edge was rejected.
type EdgeError struct {
	Source string
	Target string
	Port   string
	Reason string
}

func (e *EdgeError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("invalid edge %s[%s] -> %s: %s", e.Source, e.Port, e.Target, e.Reason)
	}

	return fmt.Sprintf("invalid edge %s -> %s: %s", e.Source, e.Target, e.Reason)
}

func (e *EdgeError) Unwrap() error {
	return ErrInvalidEdge
}

func invalidEdge(source, target, port, reason string) *EdgeError {
	return &EdgeError{Source: source, Target: target, Port: port, Reason: reason}
}

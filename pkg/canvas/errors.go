package canvas

import (
	"errors"
	"fmt"
)

var (
	// ErrSaveFailed is matched by every error returned from Session.Save.
	ErrSaveFailed = errors.New("save failed")

	ErrNotLoaded       = errors.New("no workflow loaded")
	ErrSessionNotFound = errors.New("editing session not found")
)

// SaveError wraps the reason a save was rejected. The session keeps its state so the save can be
// retried.
type SaveError struct {
	WorkflowID string
	Err        error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("failed to save workflow %s: %v", e.WorkflowID, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

func (e *SaveError) Is(target error) bool {
	return target == ErrSaveFailed
}

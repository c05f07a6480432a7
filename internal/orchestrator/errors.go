package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBlocked rejects a request from a blocked user before any other check.
var ErrBlocked = errors.New("user is blocked")

// ErrEnsembleAllFailed means no participant produced a usable response,
// so there was nothing to arbitrate and no arbiter call was made.
var ErrEnsembleAllFailed = errors.New("all ensemble participants failed")

// UnavailableError is the pre-flight rejection: the target models are
// known-bad and no backend call was attempted.
type UnavailableError struct {
	Models []string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("model(s) unavailable: %s", strings.Join(e.Models, ", "))
}

// ArbiterError distinguishes a synthesis failure from participant
// failures: the arbiter is a single point of synthesis with no fallback.
type ArbiterError struct {
	Model string
	Err   error
}

func (e *ArbiterError) Error() string {
	return fmt.Sprintf("arbiter model %s failed: %v", e.Model, e.Err)
}

func (e *ArbiterError) Unwrap() error {
	return e.Err
}

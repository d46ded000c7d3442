package workflow

import (
	"context"
	"time"

	"github.com/comfygate/comfygate/internal/comfy"
)

// submitFunc sends the prepared graph to the engine and returns the
// prompt id. Waiters that subscribe to a status channel call it only
// after the channel is open, so no event can slip past them.
type submitFunc func(ctx context.Context) (string, error)

// outcome is what a waiter observed: a terminal status with either the
// raw node outputs or a failure message.
type outcome struct {
	status   Status
	promptID string
	outputs  map[string]comfy.NodeOutput
	msg      string
}

// waiter submits a job and blocks until it reaches a terminal state or
// the context deadline passes. A non-nil error means the host canceled
// or the engine could not be reached at all; engine-side failures come
// back as an error outcome instead.
type waiter interface {
	Wait(ctx context.Context, clientID string, submit submitFunc) (*outcome, error)
}

// deadlinePassed reports whether ctx carries a deadline that is
// already behind us.
func deadlinePassed(ctx context.Context) bool {
	dl, ok := ctx.Deadline()
	return ok && time.Now().After(dl)
}

func timeoutOutcome(promptID string) *outcome {
	return &outcome{
		status:   StatusTimeout,
		promptID: promptID,
		msg:      "timed out waiting for the engine; the job may still be running",
	}
}

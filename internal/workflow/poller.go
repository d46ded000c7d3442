package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/comfygate/comfygate/internal/comfy"
)

// historyPoller waits on a job by polling the engine's history
// endpoint until the entry reports outputs or an error status.
type historyPoller struct {
	client   *comfy.Client
	interval time.Duration
	logger   *slog.Logger
}

func newHistoryPoller(client *comfy.Client, logger *slog.Logger) *historyPoller {
	return &historyPoller{client: client, interval: time.Second, logger: logger}
}

func (p *historyPoller) Wait(ctx context.Context, clientID string, submit submitFunc) (*outcome, error) {
	promptID, err := submit(ctx)
	if err != nil {
		return &outcome{status: StatusError, msg: fmt.Sprintf("submit failed: %v", err)}, nil
	}
	p.logger.Debug("polling history", "prompt_id", promptID, "interval", p.interval)

	for {
		if deadlinePassed(ctx) {
			return timeoutOutcome(promptID), nil
		}

		entry, ok, err := p.client.History(ctx, promptID)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return p.ctxOutcome(ctxErr, promptID)
			}
			// Transient fetch failures just delay the next poll.
			p.logger.Warn("history fetch failed, retrying", "prompt_id", promptID, "error", err)
		case ok && entry.Status != nil && entry.Status.StatusStr == "error":
			return &outcome{status: StatusError, promptID: promptID, msg: entry.Status.ErrorMessages()}, nil
		case ok && entry.Outputs != nil:
			// Presence of the outputs record marks completion; a graph
			// without writer nodes finishes with an empty map.
			return &outcome{status: StatusCompleted, promptID: promptID, outputs: entry.Outputs}, nil
		}

		select {
		case <-time.After(p.interval):
		case <-ctx.Done():
			return p.ctxOutcome(ctx.Err(), promptID)
		}
	}
}

func (p *historyPoller) ctxOutcome(ctxErr error, promptID string) (*outcome, error) {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return timeoutOutcome(promptID), nil
	}
	return nil, ctxErr
}

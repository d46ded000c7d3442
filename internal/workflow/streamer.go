package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/comfygate/comfygate/internal/comfy"
)

// statusStreamer waits on a job over the engine's status channel,
// collecting per-node outputs as they are announced. The channel is
// opened before the job is submitted so the first events cannot be
// missed.
type statusStreamer struct {
	client      *comfy.Client
	recvTimeout time.Duration
	logger      *slog.Logger
}

func newStatusStreamer(client *comfy.Client, logger *slog.Logger) *statusStreamer {
	return &statusStreamer{client: client, recvTimeout: 3 * time.Second, logger: logger}
}

func (s *statusStreamer) Wait(ctx context.Context, clientID string, submit submitFunc) (*outcome, error) {
	stream, err := s.client.OpenStream(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("opening status stream: %w", err)
	}
	defer stream.Close()

	promptID, err := submit(ctx)
	if err != nil {
		return &outcome{status: StatusError, msg: fmt.Sprintf("submit failed: %v", err)}, nil
	}
	s.logger.Debug("streaming status", "prompt_id", promptID)

	collected := map[string]comfy.NodeOutput{}
	for {
		if deadlinePassed(ctx) {
			return timeoutOutcome(promptID), nil
		}

		msg, err := stream.Next(ctx, s.recvTimeout)
		if errors.Is(err, comfy.ErrRecvTimeout) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				if errors.Is(ctxErr, context.DeadlineExceeded) {
					return timeoutOutcome(promptID), nil
				}
				return nil, ctxErr
			}
			return &outcome{
				status:   StatusError,
				promptID: promptID,
				msg:      fmt.Sprintf("status stream closed before completion: %v", err),
			}, nil
		}

		switch msg.Type {
		case "executing":
			var data comfy.ExecutingData
			if err := msg.Decode(&data); err != nil || data.PromptID != promptID {
				continue
			}
			if data.Node == nil {
				// Null node is the engine's completion sentinel.
				if len(collected) == 0 {
					return &outcome{status: StatusError, promptID: promptID, msg: "no outputs collected"}, nil
				}
				return &outcome{status: StatusCompleted, promptID: promptID, outputs: collected}, nil
			}
		case "executed":
			var data comfy.ExecutedData
			if err := msg.Decode(&data); err != nil || data.PromptID != promptID {
				continue
			}
			if data.Node != "" && len(data.Output) > 0 {
				collected[data.Node] = data.Output
			}
		case "execution_error":
			var data comfy.ExecutionErrorData
			if err := msg.Decode(&data); err != nil || data.PromptID != promptID {
				continue
			}
			message := data.ExceptionMessage
			if message == "" {
				message = "unknown error"
			}
			return &outcome{status: StatusError, promptID: promptID, msg: message}, nil
		default:
			// Progress and queue chatter is informational only.
		}
	}
}

var _ waiter = (*statusStreamer)(nil)
var _ waiter = (*historyPoller)(nil)

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/comfygate/comfygate/internal/blob"
	"github.com/comfygate/comfygate/internal/comfy"
)

// WaitMode selects how the executor waits on a submitted job.
type WaitMode string

const (
	WaitHistory WaitMode = "http"
	WaitStream  WaitMode = "ws"
)

// Executor runs a workflow graph end to end: apply parameters, submit,
// wait for a terminal state, and re-host output files on the blob
// store. One Executor serves all tools; each invocation works on its
// own graph copy.
type Executor struct {
	engine  *comfy.Client
	blob    *blob.Client
	waiter  waiter
	timeout time.Duration
	logger  *slog.Logger
}

// ExecOption configures an Executor.
type ExecOption func(*Executor)

// WithWaitMode selects the history-polling or status-stream waiter.
func WithWaitMode(mode WaitMode) ExecOption {
	return func(e *Executor) {
		switch mode {
		case WaitStream:
			e.waiter = newStatusStreamer(e.engine, e.logger)
		default:
			e.waiter = newHistoryPoller(e.engine, e.logger)
		}
	}
}

// WithTimeout caps how long one invocation may wait on the engine.
func WithTimeout(d time.Duration) ExecOption {
	return func(e *Executor) { e.timeout = d }
}

// WithExecLogger sets the logger.
func WithExecLogger(l *slog.Logger) ExecOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor over the given engine and blob
// clients. The default waiter polls history with a 30 minute cap.
func NewExecutor(engine *comfy.Client, blobClient *blob.Client, opts ...ExecOption) *Executor {
	e := &Executor{
		engine:  engine,
		blob:    blobClient,
		timeout: 30 * time.Minute,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.waiter == nil {
		e.waiter = newHistoryPoller(e.engine, e.logger)
	}
	return e
}

// Execute runs the graph at path with the given arguments. Caller
// mistakes (missing file, unparsable graph, missing required param)
// come back as errors; engine-side failures and timeouts come back as
// a Result with the matching status.
func (e *Executor) Execute(ctx context.Context, path string, args map[string]any) (*Result, error) {
	graph, meta, err := ParseFile(path, "")
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, graph, meta, args)
}

func (e *Executor) execute(ctx context.Context, graph *Graph, meta *Metadata, args map[string]any) (*Result, error) {
	work := graph.DeepCopy()
	if err := e.applyParams(ctx, work, meta, args); err != nil {
		return nil, err
	}

	clientID := uuid.New().String()
	var extra map[string]any
	if key := e.engine.APIKey(); key != "" {
		extra = map[string]any{"extra_data": map[string]any{"api_key_comfy_org": key}}
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	out, err := e.waiter.Wait(waitCtx, clientID, func(ctx context.Context) (string, error) {
		return e.engine.Submit(ctx, work.Nodes(), clientID, extra)
	})
	if err != nil {
		return nil, err
	}

	var result *Result
	if out.status == StatusCompleted {
		result = buildResult(out.outputs, meta, e.engine.ViewURL)
		e.rehost(ctx, result)
	} else {
		result = &Result{Status: out.status, Msg: out.msg}
	}
	result.PromptID = out.promptID
	result.Duration = time.Since(start).Seconds()

	e.logger.Info("workflow finished",
		"tool", meta.Name,
		"status", result.Status,
		"prompt_id", result.PromptID,
		"duration", result.Duration)
	return result, nil
}

// applyParams writes caller arguments (or declared defaults) into the
// graph copy. Media-loader string inputs given as URLs are fetched and
// pushed to the engine's media store first.
func (e *Executor) applyParams(ctx context.Context, work *Graph, meta *Metadata, args map[string]any) error {
	for _, m := range meta.Mappings {
		param, ok := meta.Param(m.ParamName)
		if !ok {
			continue
		}
		value, provided := args[param.Name]
		if !provided || value == nil {
			if param.Required {
				return fmt.Errorf("%w: required parameter %q is missing", ErrBadInput, param.Name)
			}
			if param.Default == nil {
				continue
			}
			value = param.Default
		}

		value, err := coerce(value, param.Type)
		if err != nil {
			return fmt.Errorf("%w: parameter %q: %v", ErrBadInput, param.Name, err)
		}

		if s, ok := value.(string); ok && mediaUploadTypes[m.ClassType] && isHTTPURL(s) {
			handle, err := e.stageMedia(ctx, s)
			if err != nil {
				return fmt.Errorf("staging media for parameter %q: %w", param.Name, err)
			}
			value = handle
		}

		if err := work.SetInput(m.NodeID, m.Field, value); err != nil {
			return err
		}
	}
	return nil
}

// stageMedia downloads a caller-supplied URL and uploads the bytes to
// the engine, returning the engine-side filename handle.
func (e *Executor) stageMedia(ctx context.Context, srcURL string) (string, error) {
	data, err := e.engine.Download(ctx, srcURL)
	if err != nil {
		return "", err
	}
	name := mediaName(srcURL)
	handle, err := e.engine.UploadMedia(ctx, name, data)
	if err != nil {
		return "", err
	}
	e.logger.Debug("staged input media", "src", srcURL, "handle", handle)
	return handle, nil
}

// rehost replaces engine URLs in the result with blob store URLs. Each
// unique engine URL is transferred once; a failed transfer leaves the
// engine URL in place.
func (e *Executor) rehost(ctx context.Context, r *Result) {
	cache := map[string]string{}
	transfer := func(engineURL string) string {
		if hosted, ok := cache[engineURL]; ok {
			return hosted
		}
		hosted, err := e.rehostOne(ctx, engineURL)
		if err != nil {
			e.logger.Warn("re-hosting output failed, keeping engine URL",
				"url", engineURL, "error", err)
			hosted = engineURL
		}
		cache[engineURL] = hosted
		return hosted
	}

	for _, list := range []([]string){r.Images, r.Videos, r.Audios} {
		for i, u := range list {
			list[i] = transfer(u)
		}
	}
	for _, byVar := range []map[string][]string{r.ImagesByVar, r.VideosByVar, r.AudiosByVar} {
		for _, list := range byVar {
			for i, u := range list {
				list[i] = transfer(u)
			}
		}
	}
}

func (e *Executor) rehostOne(ctx context.Context, engineURL string) (string, error) {
	data, err := e.engine.Download(ctx, engineURL)
	if err != nil {
		return "", err
	}
	return e.blob.Upload(ctx, data, mediaName(engineURL))
}

// mediaName derives a filename from a URL, preferring the engine's
// filename query parameter over the path base.
func mediaName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if name := parsed.Query().Get("filename"); name != "" {
		return name
	}
	base := path.Base(parsed.Path)
	if base != "" && base != "/" && base != "." && strings.Contains(base, ".") {
		return base
	}
	return ""
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// coerce aligns a caller-supplied value with the declared schema type.
// JSON transports hand integers over as float64; integral floats are
// folded back.
func coerce(value any, t ParamType) (any, error) {
	switch t {
	case TypeInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected an integer, got %v", v)
			}
			return int64(v), nil
		case json.Number:
			return v.Int64()
		}
	case TypeFloat:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case json.Number:
			return v.Float64()
		}
	case TypeBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case TypeString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", t, value)
}

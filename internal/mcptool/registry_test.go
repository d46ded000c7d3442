package mcptool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comfygate/comfygate/internal/workflow"
)

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content[0] is %T", res.Content[0])
	return text.Text
}

func TestWrapWorkflow_Success(t *testing.T) {
	handler := func(ctx context.Context, args map[string]any) (*workflow.Result, error) {
		assert.Equal(t, "a fox", args["prompt"])
		return &workflow.Result{
			Status: workflow.StatusCompleted,
			Images: []string{"http://blob/a.png"},
		}, nil
	}

	fn := wrapWorkflow("t2i", handler, nil)
	res, err := fn(context.Background(), callRequest(map[string]any{"prompt": "a fox"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Generated successfully")
}

func TestWrapWorkflow_NilArguments(t *testing.T) {
	handler := func(ctx context.Context, args map[string]any) (*workflow.Result, error) {
		require.NotNil(t, args)
		return &workflow.Result{Status: workflow.StatusCompleted}, nil
	}

	fn := wrapWorkflow("t", handler, nil)
	_, err := fn(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
}

func TestWrapWorkflow_HandlerError(t *testing.T) {
	handler := func(ctx context.Context, args map[string]any) (*workflow.Result, error) {
		return nil, errors.New("required parameter \"prompt\" is missing")
	}

	fn := wrapWorkflow("t2i", handler, nil)
	res, err := fn(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "prompt")
}

func TestWrapWorkflow_EngineFailureIsPlainText(t *testing.T) {
	handler := func(ctx context.Context, args map[string]any) (*workflow.Result, error) {
		return &workflow.Result{Status: workflow.StatusError, Msg: "CUDA OOM"}, nil
	}

	fn := wrapWorkflow("t2i", handler, nil)
	res, err := fn(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Generated failed, status: error, message: CUDA OOM", resultText(t, res))
}

const registryGraph = `{
	"1": {"class_type": "CLIPTextEncode", "inputs": {"text": "x"}, "_meta": {"title": "$prompt.text!"}},
	"9": {"class_type": "SaveImage", "inputs": {}, "_meta": {"title": "$output.main"}}
}`

func newServerWithManager(t *testing.T) (*Server, *workflow.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	srv := NewServer("comfygate-test", "0.0.0")
	manager := workflow.NewManager(dir, srv.Registry(), nil, nil)
	srv.AttachManager(manager)
	return srv, manager, dir
}

func TestManagementTools(t *testing.T) {
	srv, manager, dir := newServerWithManager(t)
	_ = srv

	path := filepath.Join(t.TempDir(), "t2i.json")
	require.NoError(t, os.WriteFile(path, []byte(registryGraph), 0o644))

	// Load through the manager the same way the tool handler does.
	lw, err := manager.Load(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, "t2i", lw.Name)
	assert.FileExists(t, filepath.Join(dir, "t2i.json"))

	status := manager.Status()
	require.Len(t, status, 1)
	require.NotNil(t, status[0].Meta)
	assert.Equal(t, "t2i", status[0].Meta.Name)
	require.Len(t, status[0].Meta.Params, 1)
	assert.Equal(t, "prompt", status[0].Meta.Params[0].Name)

	// The status tool reports the full metadata, not just a count.
	text, err := marshalText(status)
	require.NoError(t, err)
	assert.True(t, strings.Contains(text, `"prompt"`), "text = %s", text)
	assert.True(t, strings.Contains(text, `"loaded_at"`), "text = %s", text)

	require.NoError(t, manager.Unload(context.Background(), "t2i"))
	assert.Empty(t, manager.Status())
}

func TestManagementTools_ReloadAll(t *testing.T) {
	_, manager, dir := newServerWithManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(registryGraph), 0o644))

	report, err := manager.ReloadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Loaded)

	text, err := marshalText(report)
	require.NoError(t, err)
	assert.True(t, strings.Contains(text, `"a"`), "text = %s", text)
}

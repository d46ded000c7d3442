package mcptool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comfygate/comfygate/internal/workflow"
)

// Server hosts the MCP protocol over SSE and carries the workflow
// management tools.
type Server struct {
	mcp      *server.MCPServer
	registry *Registry
	addr     string
	baseURL  string
	logger   *slog.Logger
	http     *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.addr = addr }
}

// WithBaseURL sets the externally visible base URL advertised to SSE
// clients.
func WithBaseURL(u string) ServerOption {
	return func(s *Server) { s.baseURL = u }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the MCP server and its tool registry.
func NewServer(name, version string, opts ...ServerOption) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		addr:   "127.0.0.1:9002",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.baseURL == "" {
		s.baseURL = "http://" + s.addr
	}
	s.registry = NewRegistry(s.mcp, s.logger)
	return s
}

// Registry returns the tool registrar the workflow manager publishes
// through.
func (s *Server) Registry() *Registry { return s.registry }

// AttachManager registers the workflow management tools.
func (s *Server) AttachManager(m *workflow.Manager) {
	reg := func(name, desc string, params []workflow.Param, fn textFunc) {
		tool := newRawTool(name, desc, params)
		s.mcp.AddTool(tool, wrapText(fn))
	}

	reg("workflow_load",
		"Publish a workflow graph file as a new tool. The tool name defaults to the file stem.",
		[]workflow.Param{
			{Name: "path", Type: workflow.TypeString, Required: true,
				Description: "Path to the workflow graph JSON file"},
			{Name: "name", Type: workflow.TypeString,
				Description: "Tool name to publish under"},
		},
		func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			name, _ := args["name"].(string)
			lw, err := m.Load(ctx, path, name)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("workflow %q loaded with %d parameter(s)", lw.Name, len(lw.Meta.Params)), nil
		})

	reg("workflow_unload",
		"Withdraw a published workflow tool and delete its stored graph.",
		[]workflow.Param{
			{Name: "name", Type: workflow.TypeString, Required: true,
				Description: "Tool name to withdraw"},
		},
		func(ctx context.Context, args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			if err := m.Unload(ctx, name); err != nil {
				return "", err
			}
			return fmt.Sprintf("workflow %q unloaded", name), nil
		})

	reg("workflow_reload_all",
		"Re-scan the workflow directory and republish every graph.",
		nil,
		func(ctx context.Context, args map[string]any) (string, error) {
			report, err := m.ReloadAll(ctx)
			if err != nil {
				return "", err
			}
			return marshalText(report)
		})

	reg("workflow_status",
		"List the published workflows.",
		nil,
		func(ctx context.Context, args map[string]any) (string, error) {
			return marshalText(m.Status())
		})
}

// Start serves the MCP SSE endpoints until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	sse := server.NewSSEServer(s.mcp, server.WithBaseURL(s.baseURL))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	r.Handle("/sse", sse.SSEHandler())
	r.Handle("/message", sse.MessageHandler())

	s.http = &http.Server{Addr: s.addr, Handler: r}
	s.logger.Info("mcp server listening", "addr", s.addr, "base_url", s.baseURL)

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("mcp server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

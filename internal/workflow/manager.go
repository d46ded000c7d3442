package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Registrar is the tool surface the manager publishes workflows to.
// Registering an existing name replaces it.
type Registrar interface {
	RegisterTool(meta *Metadata, handler ToolHandler)
	UnregisterTool(name string)
}

// ToolHandler runs one invocation of a published workflow tool.
type ToolHandler func(ctx context.Context, args map[string]any) (*Result, error)

// Loaded describes one published workflow: its tool name, the stored
// graph path, the derived metadata and the load time.
type Loaded struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Meta     *Metadata `json:"metadata"`
	LoadedAt time.Time `json:"loaded_at"`
}

// LoadFailure records one graph file that could not be published.
type LoadFailure struct {
	File string `json:"file"`
	Err  string `json:"error"`
}

// LoadReport sums up a directory scan.
type LoadReport struct {
	Loaded []string      `json:"loaded"`
	Failed []LoadFailure `json:"failed,omitempty"`
}

// Manager owns the workflow directory: it parses graph files, publishes
// them as tools, and keeps the directory and the registry in step.
type Manager struct {
	dir       string
	registrar Registrar
	exec      *Executor
	logger    *slog.Logger

	mu     sync.Mutex
	loaded map[string]*Loaded
}

// NewManager creates a manager over dir.
func NewManager(dir string, registrar Registrar, exec *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:       dir,
		registrar: registrar,
		exec:      exec,
		logger:    logger,
		loaded:    make(map[string]*Loaded),
	}
}

// LoadAll scans the directory and publishes every *.json graph. Files
// that fail to parse are reported and skipped; they never block the
// rest of the scan.
func (m *Manager) LoadAll(ctx context.Context) (*LoadReport, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workflow dir: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(m.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scanning workflow dir: %w", err)
	}
	sort.Strings(files)

	report := &LoadReport{}
	var reportMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, file := range files {
		g.Go(func() error {
			lw, err := m.Load(gctx, file, "")
			reportMu.Lock()
			defer reportMu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, LoadFailure{File: filepath.Base(file), Err: err.Error()})
				m.logger.Warn("workflow skipped", "file", filepath.Base(file), "error", err)
				return nil
			}
			report.Loaded = append(report.Loaded, lw.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(report.Loaded)
	m.logger.Info("workflow scan finished", "dir", m.dir,
		"loaded", len(report.Loaded), "failed", len(report.Failed))
	return report, nil
}

// Load publishes one graph file as a tool. toolName defaults to the
// file stem. The file is copied into the managed directory when it
// lives elsewhere, and an existing tool with the same name is replaced.
func (m *Manager) Load(ctx context.Context, path, toolName string) (*Loaded, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	_, meta, err := ParseFile(path, toolName)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(m.dir, meta.Name+".json")
	if !samePath(path, target) {
		if err := copyFile(path, target); err != nil {
			return nil, fmt.Errorf("storing workflow: %w", err)
		}
	}

	handler := func(ctx context.Context, args map[string]any) (*Result, error) {
		return m.exec.Execute(ctx, target, args)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrar.RegisterTool(meta, handler)
	lw := &Loaded{
		Name:     meta.Name,
		Path:     target,
		Meta:     meta,
		LoadedAt: time.Now(),
	}
	m.loaded[meta.Name] = lw
	m.logger.Info("workflow published", "tool", meta.Name,
		"params", len(meta.Params), "outputs", len(meta.Outputs))
	return lw, nil
}

// Unload withdraws a tool and removes its stored graph file.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lw, ok := m.loaded[name]
	if !ok {
		return fmt.Errorf("%w: tool %q", ErrNotFound, name)
	}
	m.registrar.UnregisterTool(name)
	delete(m.loaded, name)
	if err := os.Remove(lw.Path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("removing workflow file failed", "file", lw.Path, "error", err)
	}
	m.logger.Info("workflow withdrawn", "tool", name)
	return nil
}

// ReloadAll withdraws every published tool and republishes from disk,
// so the registry ends up matching the directory exactly.
func (m *Manager) ReloadAll(ctx context.Context) (*LoadReport, error) {
	m.mu.Lock()
	for name := range m.loaded {
		m.registrar.UnregisterTool(name)
		delete(m.loaded, name)
	}
	m.mu.Unlock()
	return m.LoadAll(ctx)
}

// Status lists published workflows sorted by tool name.
func (m *Manager) Status() []Loaded {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Loaded, 0, len(m.loaded))
	for _, lw := range m.loaded {
		out = append(out, *lw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

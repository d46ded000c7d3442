package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	ComfyUI   ComfyUIConfig   `yaml:"comfyui"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	Blob      BlobConfig      `yaml:"blob"`
	Files     FilesConfig     `yaml:"files"`
}

// ServerConfig holds the MCP server bind settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ComfyUIConfig holds the connection settings for the ComfyUI engine.
type ComfyUIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Cookies is either a JSON object, a "k=v; k=v" list, or an http(s)
	// URL whose body yields one of those two.
	Cookies string `yaml:"cookies"`
	// Executor selects the completion waiter: "http" (history polling)
	// or "ws" (status stream).
	Executor       string `yaml:"executor"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// WorkflowsConfig holds the managed workflow directory settings.
type WorkflowsConfig struct {
	Dir string `yaml:"dir"`
	// RescanCron, when set, periodically reloads the directory
	// (standard cron expression).
	RescanCron string `yaml:"rescan_cron"`
}

// BlobConfig points at the blob store used to re-host engine outputs.
type BlobConfig struct {
	BaseURL string `yaml:"base_url"`
}

// FilesConfig controls the embedded file service.
type FilesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// PublicURL is the externally visible base URL of the service;
	// defaults to http://{host}:{port}.
	PublicURL string `yaml:"public_url"`
}

// ExecutorHTTP and ExecutorWS are the recognized waiter kinds.
const (
	ExecutorHTTP = "http"
	ExecutorWS   = "ws"
)

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 9002,
		},
		ComfyUI: ComfyUIConfig{
			Executor:       ExecutorHTTP,
			TimeoutSeconds: 30 * 60,
		},
		Workflows: WorkflowsConfig{
			Dir: "data/workflows",
		},
		Files: FilesConfig{
			Dir:  "data/files",
			Host: "127.0.0.1",
			Port: 9001,
		},
	}
}

// Load reads a YAML configuration file at path, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, defaults plus environment overrides are used.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = defaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables. The variable
// names match the original deployment convention so .env files keep working.
func (c *Config) applyEnv() {
	setString(&c.ComfyUI.BaseURL, "COMFYUI_BASE_URL")
	setString(&c.ComfyUI.APIKey, "COMFYUI_API_KEY")
	setString(&c.ComfyUI.Cookies, "COMFYUI_COOKIES")
	setString(&c.ComfyUI.Executor, "COMFYUI_EXECUTOR_TYPE")
	setString(&c.Blob.BaseURL, "MCP_BASE_URL")
	setString(&c.Server.Host, "MCP_HOST")
	setInt(&c.Server.Port, "MCP_PORT")
	setString(&c.Workflows.Dir, "WORKFLOWS_DIR")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c *Config) validate() error {
	if c.ComfyUI.BaseURL == "" {
		return fmt.Errorf("comfyui.base_url is required (or set COMFYUI_BASE_URL)")
	}
	switch c.ComfyUI.Executor {
	case ExecutorHTTP, ExecutorWS:
	default:
		return fmt.Errorf("comfyui.executor must be %q or %q, got %q",
			ExecutorHTTP, ExecutorWS, c.ComfyUI.Executor)
	}
	if c.ComfyUI.TimeoutSeconds <= 0 {
		return fmt.Errorf("comfyui.timeout_seconds must be positive")
	}
	if c.Workflows.Dir == "" {
		return fmt.Errorf("workflows.dir is required")
	}
	return nil
}

// FilesPublicURL returns the externally visible base URL of the embedded
// file service.
func (c *Config) FilesPublicURL() string {
	if c.Files.PublicURL != "" {
		return c.Files.PublicURL
	}
	return fmt.Sprintf("http://%s:%d", c.Files.Host, c.Files.Port)
}

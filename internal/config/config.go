// Package config loads and validates scrapcore's process configuration:
// browser launch/attach settings, scheduler backpressure limits,
// resource monitor thresholds, and the on-disk locations the snapshot
// manager and selector configuration store read from.
//
// Grounded on the browser automation server's internal/config/config.go:
// the same three-layer merge (defaults <- workspace file <- explicit
// override) and upward workspace-directory discovery, generalized to
// this module's component set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level config.
	WorkspaceDirName = ".scrapcore"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the scrapcore process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Resource  ResourceConfig  `yaml:"resource"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Selectors SelectorsConfig `yaml:"selectors"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how sessions attach to or launch Chrome.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when Launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the session manager launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Directory root for the session persistence store (spec §4.7); the
	// browser session manager keys its active-sessions record off this.
	SessionStore string `yaml:"session_store"`
	// Viewport width/height for new sessions.
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
	// Stealth applies anti-detection JS to every new page (spec §1: "a
	// decorator the session applies").
	Stealth bool `yaml:"stealth"`
	// TestMode causes navigation to resolve {remote_url} templates to
	// local stub file URLs (spec §6.5).
	TestMode    bool   `yaml:"test_mode"`
	StubsDir    string `yaml:"stubs_dir"`
	// AutoPersistState saves each tab context's BrowserState before it is
	// closed during graceful termination.
	AutoPersistState bool `yaml:"auto_persist_state"`
}

// SchedulerConfig tunes the concurrency kernel (spec §4.9).
type SchedulerConfig struct {
	MaxConcurrentSessions int     `yaml:"max_concurrent_sessions"`
	CreateSessionTimeout  string  `yaml:"create_session_timeout"`
	RateLimitPerSecond    float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst        int     `yaml:"rate_limit_burst"`
}

// ResourceConfig tunes the resource monitor (spec §4.5).
type ResourceConfig struct {
	Enabled           bool    `yaml:"enabled"`
	SampleInterval    string  `yaml:"sample_interval"`
	WarningPct        float64 `yaml:"warning_pct"`
	CriticalPct       float64 `yaml:"critical_pct"`
	AllocatedMemoryMB int     `yaml:"allocated_memory_mb"`
}

// SnapshotConfig points at the on-disk snapshot directory (spec §6.2).
type SnapshotConfig struct {
	Dir string `yaml:"dir"`
}

// SelectorsConfig points at the selector descriptor tree (spec §4.2).
type SelectorsConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "scrapcore",
			Version: "0.1.0",
			LogFile: "scrapcore.log",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			SessionStore:             "data/sessions",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
			Stealth:                  true,
			StubsDir:                 "testdata/stubs",
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentSessions: 50,
			CreateSessionTimeout:  "5s",
			RateLimitPerSecond:    10,
			RateLimitBurst:        20,
		},
		Resource: ResourceConfig{
			Enabled:           true,
			SampleInterval:    "30s",
			WarningPct:        0.6,
			CriticalPct:       0.8,
			AllocatedMemoryMB: 1024,
		},
		Snapshot: SnapshotConfig{
			Dir: "data/snapshots",
		},
		Selectors: SelectorsConfig{
			Dir: "selectors",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .scrapcore/config.yaml file.
// Returns the workspace root directory (parent of .scrapcore/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .scrapcore/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .scrapcore/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{wsDir, filepath.Join(wsDir, "selectors"), filepath.Join(wsDir, "data")}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# scrapcore project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720

# resource:
#   warning_pct: 0.6
#   critical_pct: 0.8
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, sessions, snapshots) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Browser.SessionStore = resolve(cfg.Browser.SessionStore)
	cfg.Snapshot.Dir = resolve(cfg.Snapshot.Dir)
	cfg.Selectors.Dir = resolve(cfg.Selectors.Dir)
	return cfg
}

// Validate ensures required fields exist so the process can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Scheduler.MaxConcurrentSessions <= 0 {
		return errors.New("scheduler.max_concurrent_sessions must be positive")
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDurationOr(b.DefaultNavigationTimeout, 15*time.Second)
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDurationOr(b.DefaultAttachTimeout, 10*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// CreateSessionTimeoutDuration returns the scheduler's session-admission timeout.
func (s SchedulerConfig) CreateSessionTimeoutDuration() time.Duration {
	return parseDurationOr(s.CreateSessionTimeout, 5*time.Second)
}

// SampleIntervalDuration returns the resource monitor's sampling period.
func (r ResourceConfig) SampleIntervalDuration() time.Duration {
	return parseDurationOr(r.SampleInterval, 30*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

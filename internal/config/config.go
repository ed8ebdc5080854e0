// Package config loads Burrow server configuration.
//
// Sources, lowest to highest priority: built-in defaults, an optional
// burrow.jsonc / burrow.json file in the workspace, then environment
// variables. A .env file, if present, is loaded into the environment by the
// command entry point before this package runs.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/burrowai/burrow/internal/apierr"
)

// Config holds the full server configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `json:"port"`
	// APIKey is the shared secret every authenticated endpoint checks.
	APIKey string `json:"api_key"`

	// WorkspaceDir is the agent's working directory on the persistent volume.
	WorkspaceDir string `json:"workspace_dir"`
	// SkillsDir holds installed skill bundles. Defaults under WorkspaceDir.
	SkillsDir string `json:"skills_dir"`
	// CommandsDir holds command templates. Defaults under WorkspaceDir.
	CommandsDir string `json:"commands_dir"`
	// ArtifactsDir is served publicly without credentials.
	ArtifactsDir string `json:"artifacts_dir"`
	// StorageDir is the root of the session store backend.
	StorageDir string `json:"storage_dir"`
	// ProjectContextPath points at the project context document appended to
	// the engine system prompt.
	ProjectContextPath string `json:"project_context_path"`
	// MaxProjectContextChars caps the injected project context.
	MaxProjectContextChars int `json:"max_project_context_chars"`

	// Model is the default model identifier passed to the engine.
	Model string `json:"model"`
	// AllowBypassPermissions gates the bypassPermissions mode server-wide.
	AllowBypassPermissions bool `json:"allow_bypass_permissions"`

	// EngineCommand is the external agent engine invocation (argv). Empty
	// means no engine is wired and only a test double can serve runs.
	EngineCommand []string `json:"engine_command"`
	// EngineTimeout bounds one engine invocation.
	EngineTimeout time.Duration `json:"-"`

	// Archive import ceilings.
	MaxArchiveFiles      int   `json:"max_archive_files"`
	MaxArchiveFileBytes  int64 `json:"max_archive_file_bytes"`
	MaxArchiveTotalBytes int64 `json:"max_archive_total_bytes"`

	LogLevel   string `json:"log_level"`
	LogPretty  bool   `json:"log_pretty"`
	EnableCORS bool   `json:"enable_cors"`
}

// Default returns the built-in defaults rooted at the given workspace.
func Default(workspace string) *Config {
	return &Config{
		Port:                   8080,
		APIKey:                 "dev-key",
		WorkspaceDir:           workspace,
		SkillsDir:              filepath.Join(workspace, ".burrow", "skills"),
		CommandsDir:            filepath.Join(workspace, ".burrow", "commands"),
		ArtifactsDir:           filepath.Join(workspace, "artifacts"),
		StorageDir:             filepath.Join(workspace, ".burrow", "storage"),
		ProjectContextPath:     filepath.Join(workspace, ".burrow", "CONTEXT.md"),
		MaxProjectContextChars: 50000,
		EngineTimeout:          10 * time.Minute,
		MaxArchiveFiles:        200,
		MaxArchiveFileBytes:    10 * 1024 * 1024,
		MaxArchiveTotalBytes:   50 * 1024 * 1024,
		LogLevel:               "info",
		EnableCORS:             true,
	}
}

// Load builds the configuration for a workspace directory.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	for _, name := range []string{"burrow.jsonc", "burrow.json"} {
		if err := loadFile(filepath.Join(workspace, name), cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	// Paths given relative to the workspace are anchored there.
	cfg.SkillsDir = anchor(workspace, cfg.SkillsDir)
	cfg.CommandsDir = anchor(workspace, cfg.CommandsDir)
	cfg.ArtifactsDir = anchor(workspace, cfg.ArtifactsDir)
	cfg.StorageDir = anchor(workspace, cfg.StorageDir)
	cfg.ProjectContextPath = anchor(workspace, cfg.ProjectContextPath)

	return cfg, nil
}

// loadFile merges a jsonc config file into cfg. A missing file is fine.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apierr.Wrap(apierr.KindValidation, err, "cannot read config file %s", path)
	}

	data = jsonc.ToJSON(data)

	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return apierr.Wrap(apierr.KindValidation, err, "malformed config file %s", path)
	}
	file.apply(cfg)

	return nil
}

// fileConfig mirrors Config with pointer fields so absent keys merge cleanly.
type fileConfig struct {
	Port                   *int     `json:"port"`
	APIKey                 *string  `json:"api_key"`
	SkillsDir              *string  `json:"skills_dir"`
	CommandsDir            *string  `json:"commands_dir"`
	ArtifactsDir           *string  `json:"artifacts_dir"`
	StorageDir             *string  `json:"storage_dir"`
	ProjectContextPath     *string  `json:"project_context_path"`
	MaxProjectContextChars *int     `json:"max_project_context_chars"`
	Model                  *string  `json:"model"`
	AllowBypassPermissions *bool    `json:"allow_bypass_permissions"`
	EngineCommand          []string `json:"engine_command"`
	EngineTimeoutSeconds   *int     `json:"engine_timeout_seconds"`
	MaxArchiveFiles        *int     `json:"max_archive_files"`
	MaxArchiveFileBytes    *int64   `json:"max_archive_file_bytes"`
	MaxArchiveTotalBytes   *int64   `json:"max_archive_total_bytes"`
	LogLevel               *string  `json:"log_level"`
	LogPretty              *bool    `json:"log_pretty"`
	EnableCORS             *bool    `json:"enable_cors"`
}

func (f *fileConfig) apply(cfg *Config) {
	if f.Port != nil {
		cfg.Port = *f.Port
	}
	if f.APIKey != nil {
		cfg.APIKey = *f.APIKey
	}
	if f.SkillsDir != nil {
		cfg.SkillsDir = *f.SkillsDir
	}
	if f.CommandsDir != nil {
		cfg.CommandsDir = *f.CommandsDir
	}
	if f.ArtifactsDir != nil {
		cfg.ArtifactsDir = *f.ArtifactsDir
	}
	if f.StorageDir != nil {
		cfg.StorageDir = *f.StorageDir
	}
	if f.ProjectContextPath != nil {
		cfg.ProjectContextPath = *f.ProjectContextPath
	}
	if f.MaxProjectContextChars != nil {
		cfg.MaxProjectContextChars = *f.MaxProjectContextChars
	}
	if f.Model != nil {
		cfg.Model = *f.Model
	}
	if f.AllowBypassPermissions != nil {
		cfg.AllowBypassPermissions = *f.AllowBypassPermissions
	}
	if f.EngineCommand != nil {
		cfg.EngineCommand = f.EngineCommand
	}
	if f.EngineTimeoutSeconds != nil {
		cfg.EngineTimeout = time.Duration(*f.EngineTimeoutSeconds) * time.Second
	}
	if f.MaxArchiveFiles != nil {
		cfg.MaxArchiveFiles = *f.MaxArchiveFiles
	}
	if f.MaxArchiveFileBytes != nil {
		cfg.MaxArchiveFileBytes = *f.MaxArchiveFileBytes
	}
	if f.MaxArchiveTotalBytes != nil {
		cfg.MaxArchiveTotalBytes = *f.MaxArchiveTotalBytes
	}
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}
	if f.LogPretty != nil {
		cfg.LogPretty = *f.LogPretty
	}
	if f.EnableCORS != nil {
		cfg.EnableCORS = *f.EnableCORS
	}
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("SKILLS_DIR"); v != "" {
		cfg.SkillsDir = v
	}
	if v := os.Getenv("COMMANDS_DIR"); v != "" {
		cfg.CommandsDir = v
	}
	if v := os.Getenv("ARTIFACTS_DIR"); v != "" {
		cfg.ArtifactsDir = v
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("PROJECT_CONTEXT_PATH"); v != "" {
		cfg.ProjectContextPath = v
	}
	if v := os.Getenv("MAX_PROJECT_CONTEXT_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxProjectContextChars = n
		}
	}
	if v := os.Getenv("BURROW_MODEL"); v != "" {
		cfg.Model = v
	}
	if os.Getenv("ALLOW_BYPASS_PERMISSIONS") == "1" {
		cfg.AllowBypassPermissions = true
	}
	if v := os.Getenv("ENGINE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EngineTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if os.Getenv("LOG_PRETTY") == "1" {
		cfg.LogPretty = true
	}
}

// anchor resolves path under base when it is relative.
func anchor(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// EnsureDirs creates the directories the server needs at startup.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.WorkspaceDir, c.SkillsDir, c.CommandsDir, c.ArtifactsDir, c.StorageDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apierr.Wrap(apierr.KindBackendUnavailable, err, "cannot create directory %s", dir)
		}
	}
	return nil
}

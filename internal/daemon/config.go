package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"memfuse/internal/artifacts"
)

// getConfigDir returns the config directory path.
// Uses MEMFUSE_CONFIG_DIR env var if set, otherwise defaults to ~/.memfuse.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("MEMFUSE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memfuse")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// LogPath returns the log file path.
// Uses MEMFUSE_LOG env var if set, otherwise defaults to config_dir/memfuse.log.
func LogPath() string {
	if envPath := os.Getenv("MEMFUSE_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), "memfuse.log")
}

// LockPath returns the lock file path guarding the given mount point.
// One lock per mount point keeps two daemons from serving the same target.
func LockPath(mountPoint string) string {
	return filepath.Join(getConfigDir(), fmt.Sprintf("mount-%x.lock", fnvHash(mountPoint)))
}

func fnvHash(s string) uint64 {
	// FNV-1a
	h := uint64(14695981039346656037)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// GlobalSettingsPath returns the global settings file path
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir initializes the config directory with default files
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create default global settings file if not exists (using template)
	settingsPath := GlobalSettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}

	return nil
}

// Duration wraps time.Duration with YAML support for values like "5s".
type Duration time.Duration

// UnmarshalYAML parses either a Go duration string or a bare number of
// seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		var secs int
		if serr := value.Decode(&secs); serr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		parsed = time.Duration(secs) * time.Second
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// GlobalSettings represents global daemon settings
type GlobalSettings struct {
	LogLevel      string   `yaml:"log_level"`      // Log level: trace, debug, info, warn, off (default: off)
	AutosyncDelay Duration `yaml:"autosync_delay"` // Quiet period before automatic flush, 0 disables
	VolumeName    string   `yaml:"volume_name"`    // Volume name for new mounts (macOS only)
}

// loadDefaultGlobalSettings parses default settings from embedded artifact.
func loadDefaultGlobalSettings() GlobalSettings {
	var settings GlobalSettings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	return settings
}

// LoadGlobalSettings loads the global settings from ~/.memfuse/settings.yaml.
// Always reads from file to get latest config. Falls back to embedded defaults
// if file doesn't exist.
func LoadGlobalSettings() (*GlobalSettings, error) {
	data, err := os.ReadFile(GlobalSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			settings := loadDefaultGlobalSettings()
			return &settings, nil
		}
		return nil, err
	}

	var settings GlobalSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

// SaveGlobalSettings saves the global settings to ~/.memfuse/settings.yaml
func SaveGlobalSettings(settings *GlobalSettings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	// Add header comment (same as template header)
	header := []byte("# MemFuse global settings\n# See: memfuse settings --help\n\n")
	return os.WriteFile(GlobalSettingsPath(), append(header, data...), 0600)
}

// Package filerepoconfig loads filerepo.Options from a YAML settings file
// with environment-variable overrides, in that priority order:
//
//  1. vaultfs.yaml (if present inside the repository base directory)
//  2. environment variables (override the file)
//  3. built-in defaults (fill anything still unset)
package filerepoconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vaultfs/filerepo/internal/filerepo"
)

// RawSettings mirrors the on-disk YAML shape. Pointer fields distinguish
// "absent" from "explicitly zero" so env overrides and defaults only ever
// fill what the file left unset.
type RawSettings struct {
	BaseDirectory        *string `yaml:"base_directory"`
	DeleteDelay          *string `yaml:"delete_delay"`
	IndeterminateDelay   *string `yaml:"indeterminate_delay"`
	HealthCheckInterval  *string `yaml:"health_check_interval"`
	MaxAccessWaitOrRetry *string `yaml:"max_access_wait_or_retry"`
	MarkerFileLogging    *string `yaml:"marker_file_logging"`
}

// Source records where the effective configuration came from, mirroring
// the provenance tracking the rest of this codebase does for settings.
type Source struct {
	// Origin is "file", "env", or "default" — "env" if any environment
	// variable contributed a value, regardless of whether a file was also
	// read.
	Origin   string
	FilePath string
}

// Load resolves filerepo.Options for baseDir, reading "vaultfs.yaml" from
// baseDir if it exists, then applying DEE_FILEREPO_* environment overrides,
// then filling anything still unset with filerepo's own defaults.
func Load(baseDir string) (filerepo.Options, Source, error) {
	settings := &RawSettings{}
	src := Source{Origin: "default"}

	yamlPath := filepath.Join(baseDir, "vaultfs.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, settings); err != nil {
			return filerepo.Options{}, src, fmt.Errorf("filerepoconfig: parse %s: %w", yamlPath, err)
		}
		src.Origin = "file"
		src.FilePath = yamlPath
	} else if !os.IsNotExist(err) {
		return filerepo.Options{}, src, fmt.Errorf("filerepoconfig: read %s: %w", yamlPath, err)
	}

	overrideFromEnv(settings, &src)

	opts := filerepo.Options{BaseDirectory: baseDir}
	if settings.BaseDirectory != nil && *settings.BaseDirectory != "" {
		opts.BaseDirectory = *settings.BaseDirectory
	}

	var err error
	if opts.DeleteDelay, err = parseDurationField(settings.DeleteDelay, 0); err != nil {
		return filerepo.Options{}, src, err
	}
	if opts.IndeterminateDelay, err = parseDurationField(settings.IndeterminateDelay, 0); err != nil {
		return filerepo.Options{}, src, err
	}
	if opts.HealthCheckInterval, err = parseDurationField(settings.HealthCheckInterval, 0); err != nil {
		return filerepo.Options{}, src, err
	}
	if opts.MaxAccessWaitOrRetry, err = parseDurationField(settings.MaxAccessWaitOrRetry, 0); err != nil {
		return filerepo.Options{}, src, err
	}
	if settings.MarkerFileLogging != nil {
		switch strings.ToLower(strings.TrimSpace(*settings.MarkerFileLogging)) {
		case "human_readable", "human-readable", "verbose":
			opts.MarkerFileLogging = filerepo.MarkerLoggingHumanReadable
		default:
			opts.MarkerFileLogging = filerepo.MarkerLoggingNone
		}
	}

	return opts, src, nil
}

// overrideFromEnv overrides settings with environment variables if set.
func overrideFromEnv(settings *RawSettings, src *Source) {
	if v := os.Getenv("DEE_FILEREPO_BASE_DIRECTORY"); v != "" {
		settings.BaseDirectory = &v
		src.Origin = "env"
	}
	if v := os.Getenv("DEE_FILEREPO_DELETE_DELAY"); v != "" {
		settings.DeleteDelay = &v
		src.Origin = "env"
	}
	if v := os.Getenv("DEE_FILEREPO_INDETERMINATE_DELAY"); v != "" {
		settings.IndeterminateDelay = &v
		src.Origin = "env"
	}
	if v := os.Getenv("DEE_FILEREPO_HEALTH_CHECK_INTERVAL"); v != "" {
		settings.HealthCheckInterval = &v
		src.Origin = "env"
	}
	if v := os.Getenv("DEE_FILEREPO_MAX_ACCESS_WAIT_OR_RETRY"); v != "" {
		settings.MaxAccessWaitOrRetry = &v
		src.Origin = "env"
	}
	if v := os.Getenv("DEE_FILEREPO_MARKER_FILE_LOGGING"); v != "" {
		settings.MarkerFileLogging = &v
		src.Origin = "env"
	}
}

// parseDurationField parses a duration string such as "24h" or "15s".
// A nil or empty field yields def without error.
func parseDurationField(v *string, def time.Duration) (time.Duration, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		// Allow a bare integer to mean seconds, matching DEE_TIMEOUT_SEC's
		// plain-integer convention elsewhere in this codebase.
		if n, convErr := strconv.Atoi(strings.TrimSpace(*v)); convErr == nil {
			return time.Duration(n) * time.Second, nil
		}
		return 0, fmt.Errorf("filerepoconfig: invalid duration %q: %w", *v, err)
	}
	return d, nil
}

// WriteDefaultSettings writes a commented-out template vaultfs.yaml to
// path, for a user who wants to start from the built-in defaults.
func WriteDefaultSettings(path string) error {
	const template = `# vaultfs.yaml — filerepo configuration. Every key may also be set via
# the DEE_FILEREPO_* environment variables, which take precedence over
# this file.
#
# base_directory: /var/lib/vaultfs
# delete_delay: 0s
# indeterminate_delay: 24h
# health_check_interval: 15s
# max_access_wait_or_retry: 10s
# marker_file_logging: none
`
	return os.WriteFile(path, []byte(template), 0o644)
}

// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the supervisor.
//
// Configuration is loaded from a single file: the path given to
// LoadFile, or, through Load, the path in the USBSAS_CONFIG
// environment variable. There are no fallbacks or
// automatic discovery: this ensures deterministic, auditable
// configuration with no hidden overrides, and matches the supervisor's
// own "load once at start" lifecycle.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the supervisor's configuration file, as described in
// Every field is optional except OutDirectory.
type Config struct {
	// OutDirectory is the temporary-file root: tar files, filesystem
	// images, and (optionally) report copies are created under it.
	// Mandatory.
	OutDirectory string `yaml:"out_directory"`

	// WindowTitle, MenuImg, and Lang are UI hints passed through to the
	// frontend unchanged. The supervisor never interprets them.
	WindowTitle string `yaml:"window_title"`
	MenuImg     string `yaml:"menu_img"`
	Lang        string `yaml:"lang"`

	// Networks lists destination networks (HTTP upload targets).
	Networks []NetworkConfig `yaml:"networks"`

	// SourceNetwork is an optional HTTP download source.
	SourceNetwork *NetworkConfig `yaml:"source_network"`

	// Command is an optional destination command.
	Command *CommandConfig `yaml:"command"`

	// Analyzer configures the antivirus analysis hop run against the
	// built tar before it is materialised onto the destination.
	Analyzer *AnalyzerConfig `yaml:"analyzer"`

	// Report configures where the final transfer report is written.
	Report ReportConfig `yaml:"report"`

	// Filters are filename filter records.
	Filters []FilterConfig `yaml:"filters"`

	// USBPortAccesses restricts which USB topology paths may act as
	// source or destination.
	USBPortAccesses USBPortAccessConfig `yaml:"usb_port_accesses"`

	// PostCopy configures the optional command run after materialisation
	// completes.
	PostCopy *PostCopyConfig `yaml:"post_copy"`

	// KeepTmpFiles disables cleanup of the tar/image files under
	// OutDirectory after a transfer completes. Useful for debugging;
	// never enabled by default.
	KeepTmpFiles bool `yaml:"keep_tmp_files"`

	// Timeouts bounds long-running worker operations (analysis
	// upload/poll, network upload/download) and the grace period
	// given to an unresponsive worker before it is killed. Any field
	// left unset falls back to its built-in default; see
	// [TimeoutConfig.orDefaults].
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// Duration wraps time.Duration so configuration files spell timeouts
// as "15m" or "90s" rather than a raw nanosecond count, the way
// command_args and the other YAML-driven fields in this package are
// already written for humans.
type Duration time.Duration

// UnmarshalYAML parses a scalar duration string with
// time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration the way time.ParseDuration expects
// to read it back.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default timeouts applied to any TimeoutConfig field left at zero.
const (
	DefaultAnalyzeUploadTimeout = 10 * time.Minute
	DefaultAnalyzePollTimeout   = 15 * time.Minute
	DefaultUploadTimeout        = 30 * time.Minute
	DefaultDownloadTimeout      = 30 * time.Minute
	DefaultKillGrace            = 5 * time.Second
)

// TimeoutConfig configures the supervisor's configurable per-stage
// timeouts and worker shutdown grace period. A zero field means "use
// the built-in default", so an operator only needs to set the
// timeouts they actually want to change.
type TimeoutConfig struct {
	// AnalyzeUpload bounds the HTTP client used to upload a tar to the
	// antivirus server.
	AnalyzeUpload Duration `yaml:"analyze_upload"`

	// AnalyzePoll bounds how long usbsas-analyzer polls the antivirus
	// server for a verdict before giving up.
	AnalyzePoll Duration `yaml:"analyze_poll"`

	// Upload bounds a network-destination file upload.
	Upload Duration `yaml:"upload"`

	// Download bounds a network-source file download.
	Download Duration `yaml:"download"`

	// KillGrace is how long the supervisor waits for a worker to exit
	// after being asked to end before escalating to SIGTERM, and again
	// before escalating to SIGKILL.
	KillGrace Duration `yaml:"kill_grace"`
}

// orDefaults returns a copy of t with every zero field replaced by its
// built-in default.
func (t TimeoutConfig) orDefaults() TimeoutConfig {
	if t.AnalyzeUpload == 0 {
		t.AnalyzeUpload = Duration(DefaultAnalyzeUploadTimeout)
	}
	if t.AnalyzePoll == 0 {
		t.AnalyzePoll = Duration(DefaultAnalyzePollTimeout)
	}
	if t.Upload == 0 {
		t.Upload = Duration(DefaultUploadTimeout)
	}
	if t.Download == 0 {
		t.Download = Duration(DefaultDownloadTimeout)
	}
	if t.KillGrace == 0 {
		t.KillGrace = Duration(DefaultKillGrace)
	}
	return t
}

// EffectiveTimeouts returns c.Timeouts with every unset field replaced
// by its built-in default.
func (c *Config) EffectiveTimeouts() TimeoutConfig {
	return c.Timeouts.orDefaults()
}

// The EnvTimeout* constants name the environment variables worker
// binaries read to learn their configurable timeouts, mirroring the
// USBSAS_MOCK_IN_DEV/USBSAS_OUT_DIRECTORY convention workers already
// use to receive values the supervisor does not pass as request
// fields.
const (
	EnvTimeoutAnalyzeUpload = "USBSAS_TIMEOUT_ANALYZE_UPLOAD"
	EnvTimeoutAnalyzePoll   = "USBSAS_TIMEOUT_ANALYZE_POLL"
	EnvTimeoutUpload        = "USBSAS_TIMEOUT_UPLOAD"
	EnvTimeoutDownload      = "USBSAS_TIMEOUT_DOWNLOAD"
)

// DurationFromEnv parses the named environment variable as a
// time.Duration, falling back to def when it is unset or
// unparseable. Workers call this to read the timeout values
// [Config.TimeoutEnvVars] sets when the supervisor spawns them, so a
// worker started by hand during development still has a sane default
// to run with.
func DurationFromEnv(name string, def time.Duration) time.Duration {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// TimeoutEnvVars returns the "NAME=value" environment assignments
// that communicate this config's timeouts to the named worker binary,
// for the caller to pass through when spawning it. Binaries that
// don't consult any configurable timeout get nil.
func (c *Config) TimeoutEnvVars(binaryName string) []string {
	t := c.EffectiveTimeouts()
	switch binaryName {
	case "usbsas-analyzer":
		return []string{
			EnvTimeoutAnalyzeUpload + "=" + time.Duration(t.AnalyzeUpload).String(),
			EnvTimeoutAnalyzePoll + "=" + time.Duration(t.AnalyzePoll).String(),
		}
	case "usbsas-uploader":
		return []string{EnvTimeoutUpload + "=" + time.Duration(t.Upload).String()}
	case "usbsas-downloader":
		return []string{EnvTimeoutDownload + "=" + time.Duration(t.Download).String()}
	default:
		return nil
	}
}

// NetworkConfig describes an HTTP destination or source network.
type NetworkConfig struct {
	Description    string `yaml:"description"`
	LongDescr      string `yaml:"longdescr"`
	URL            string `yaml:"url"`
	KrbServiceName string `yaml:"krb_service_name"`
}

// CommandConfig describes a destination command.
type CommandConfig struct {
	Description string   `yaml:"description"`
	LongDescr   string   `yaml:"longdescr"`
	CommandBin  string   `yaml:"command_bin"`
	CommandArgs []string `yaml:"command_args"`
}

// AnalyzerConfig configures the antivirus worker's upstream server and
// which destination kinds trigger an analysis hop.
type AnalyzerConfig struct {
	URL            string `yaml:"url"`
	KrbServiceName string `yaml:"krb_service_name"`
	AnalyzeUsb     bool   `yaml:"analyze_usb"`
	AnalyzeNet     bool   `yaml:"analyze_net"`
	AnalyzeCmd     bool   `yaml:"analyze_cmd"`
}

// ReportConfig configures the two independent report destinations:
// WriteDest embeds the report on the destination device (USB only),
// WriteLocal writes a copy to a local path. Either, both, or neither
// may be set.
type ReportConfig struct {
	WriteDest  bool   `yaml:"write_dest"`
	WriteLocal string `yaml:"write_local"`
}

// FilterConfig is one filename filter record. A file matches this
// filter when all non-empty directives match.
type FilterConfig struct {
	Exact   []string `yaml:"exact"`
	Start   []string `yaml:"start"`
	End     []string `yaml:"end"`
	Contain []string `yaml:"contain"`
}

// USBPortAccessConfig restricts source/destination USB devices by
// physical topology path (bus/port chain), independent of which
// device happens to be plugged in.
type USBPortAccessConfig struct {
	PortsSrc [][]int `yaml:"ports_src"`
	PortsDst [][]int `yaml:"ports_dst"`
}

// PostCopyConfig describes the optional post-copy command, run
// against either the output tar or the output filesystem depending on
// destination kind.
type PostCopyConfig struct {
	Description string   `yaml:"description"`
	CommandBin  string   `yaml:"command_bin"`
	CommandArgs []string `yaml:"command_args"`
}

// Load loads configuration from the USBSAS_CONFIG environment
// variable. This is the only way to load configuration without an
// explicit path: there is no fallback search path, keeping configuration
// loading to a single source of truth.
func Load() (*Config, error) {
	path := os.Getenv("USBSAS_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("USBSAS_CONFIG environment variable not set; " +
			"set it to the path of the supervisor's config file")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path and validates
// the mandatory fields.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that mandatory fields are present and that optional
// sections are internally consistent.
func (c *Config) Validate() error {
	if c.OutDirectory == "" {
		return fmt.Errorf("out_directory is required")
	}
	for i, filter := range c.Filters {
		if len(filter.Exact) == 0 && len(filter.Start) == 0 &&
			len(filter.End) == 0 && len(filter.Contain) == 0 {
			return fmt.Errorf("filters[%d] has no directives (exact/start/end/contain all empty)", i)
		}
	}
	if c.Command != nil && c.Command.CommandBin == "" {
		return fmt.Errorf("command.command_bin is required when [command] is set")
	}
	if c.PostCopy != nil && c.PostCopy.CommandBin == "" {
		return fmt.Errorf("post_copy.command_bin is required when [post_copy] is set")
	}
	return nil
}

// EnsureOutDirectory creates OutDirectory if it does not already exist.
func (c *Config) EnsureOutDirectory() error {
	if err := os.MkdirAll(c.OutDirectory, 0o700); err != nil {
		return fmt.Errorf("creating out_directory %s: %w", c.OutDirectory, err)
	}
	return nil
}

// BinaryPath resolves a worker executable's path. It looks in
// USBSAS_BIN_PATH first, falling back to exec.LookPath so development builds
// that only set PATH still work.
func BinaryPath(name string) (string, error) {
	if binDir := os.Getenv("USBSAS_BIN_PATH"); binDir != "" {
		candidate := filepath.Join(binDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		return "", fmt.Errorf("%s not found in USBSAS_BIN_PATH=%s", name, binDir)
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH (set USBSAS_BIN_PATH): %w", name, err)
	}
	return path, nil
}

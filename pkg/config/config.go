// Package config reads the daemon configuration file, an INI file with a
// [global] section for the clock engine and a [board] section selecting the
// hardware.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bigkevmcd/go-configparser"
	"github.com/golang/glog"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/features"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Defaults
const (
	DefaultConfigPath     = "/etc/clocktree/clocktree.conf"
	DefaultStateFile      = "/var/run/clocktree/states.yaml"
	DefaultTopology       = "st/stm32c0-nucleo"
	DefaultUpdateInterval = 10
	DefaultPollTimeout    = 100 * time.Millisecond
	DefaultPollInterval   = 10 * time.Microsecond
)

// Register backends
const (
	BackendMemory = "memory"
	BackendDevMem = "devmem"
)

const (
	globalSection = "global"
	boardSection  = "board"
)

// Config ...
type Config struct {
	ReadAfterWrite  bool
	StrictAsserts   bool
	RuntimeNotify   bool
	SetRate         bool
	EnforceInactive bool
	PollTimeout     time.Duration
	PollInterval    time.Duration

	// Topology is an embedded board name or the path of a clock tree file.
	Topology        string
	RegisterBackend string
	FlashLatency    bool
	BackupDomain    bool
	// TimerPrescaler allows timer multipliers to read the TIMPRE bit.
	TimerPrescaler bool
	// DefaultState is applied to every output having it at start.
	DefaultState string
}

// Default returns the configuration used for missing options.
func Default() *Config {
	return &Config{
		RuntimeNotify:   true,
		PollTimeout:     DefaultPollTimeout,
		PollInterval:    DefaultPollInterval,
		Topology:        DefaultTopology,
		RegisterBackend: BackendMemory,
		FlashLatency:    true,
		TimerPrescaler:  true,
		DefaultState:    "default",
	}
}

// Load reads the configuration file at path. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		glog.Infof("config file %s not found, using defaults", path)
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads a configuration from r.
func Parse(r io.Reader) (*Config, error) {
	p, err := configparser.ParseReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg := Default()
	o := options{p: p}

	o.boolean(globalSection, "read_after_write", &cfg.ReadAfterWrite)
	o.boolean(globalSection, "strict_asserts", &cfg.StrictAsserts)
	o.boolean(globalSection, "runtime_notify", &cfg.RuntimeNotify)
	o.boolean(globalSection, "set_rate", &cfg.SetRate)
	o.boolean(globalSection, "enforce_inactive_configure", &cfg.EnforceInactive)
	o.duration(globalSection, "poll_timeout", &cfg.PollTimeout)
	o.duration(globalSection, "poll_interval", &cfg.PollInterval)

	o.str(boardSection, "topology", &cfg.Topology)
	o.str(boardSection, "register_backend", &cfg.RegisterBackend)
	o.boolean(boardSection, "flash_latency", &cfg.FlashLatency)
	o.boolean(boardSection, "backup_domain", &cfg.BackupDomain)
	o.boolean(boardSection, "timer_prescaler", &cfg.TimerPrescaler)
	o.str(boardSection, "default_state", &cfg.DefaultState)

	if o.err != nil {
		return nil, o.err
	}
	switch cfg.RegisterBackend {
	case BackendMemory, BackendDevMem:
	default:
		return nil, fmt.Errorf("unknown register_backend %q", cfg.RegisterBackend)
	}
	if cfg.Topology == "" {
		return nil, fmt.Errorf("board topology is empty")
	}
	return cfg, nil
}

// options reads optional values, keeping the first error.
type options struct {
	p   *configparser.ConfigParser
	err error
}

func (o *options) has(section, option string) bool {
	if o.err != nil || !o.p.HasSection(section) {
		return false
	}
	ok, err := o.p.HasOption(section, option)
	return err == nil && ok
}

func (o *options) str(section, option string, v *string) {
	if !o.has(section, option) {
		return
	}
	s, err := o.p.Get(section, option)
	if err != nil {
		o.err = err
		return
	}
	*v = strings.TrimSpace(s)
}

func (o *options) boolean(section, option string, v *bool) {
	if !o.has(section, option) {
		return
	}
	b, err := o.p.GetBool(section, option)
	if err != nil {
		o.err = fmt.Errorf("[%s] %s: %w", section, option, err)
		return
	}
	*v = b
}

func (o *options) duration(section, option string, v *time.Duration) {
	if !o.has(section, option) {
		return
	}
	s, err := o.p.Get(section, option)
	if err != nil {
		o.err = err
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		o.err = fmt.Errorf("[%s] %s: %w", section, option, err)
		return
	}
	*v = d
}

// RegfieldOptions returns the register accessor options.
func (c *Config) RegfieldOptions() regfield.Options {
	return regfield.Options{
		ReadAfterWrite: c.ReadAfterWrite,
		Strict:         c.StrictAsserts,
		PollTimeout:    c.PollTimeout,
		PollInterval:   c.PollInterval,
	}
}

// Features returns the features requested by the configuration.
func (c *Config) Features() features.Features {
	return features.Features{
		Engine: features.EngineFeatures{
			StrictAsserts:   c.StrictAsserts,
			RuntimeNotify:   c.RuntimeNotify,
			SetRate:         c.SetRate,
			EnforceInactive: c.EnforceInactive,
		},
		Board: features.BoardFeatures{
			FlashLatency:   c.FlashLatency,
			BackupDomain:   c.BackupDomain,
			TimerPrescaler: c.TimerPrescaler,
		},
	}
}

// Print logs the configuration.
func (c *Config) Print() {
	glog.Infof("topology: %s, register backend: %s", c.Topology, c.RegisterBackend)
	glog.Infof("poll timeout: %s, poll interval: %s, read after write: %v", c.PollTimeout, c.PollInterval, c.ReadAfterWrite)
}

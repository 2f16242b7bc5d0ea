package opencl

import (
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/clvirt/executive"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Environment variables read by ConfigFromEnv.
const (
	// DevicesEnv is a comma separated list of backend kinds, e.g. "emulated,cpu". A kind may be repeated.
	DevicesEnv = "CLVIRT_DEVICES"

	// WorkerThreadsEnv limits the worker threads of the CPU backends.
	WorkerThreadsEnv = "CLVIRT_WORKER_THREADS"

	// OptimizationLevelEnv sets the optimization level of all devices, from 0 (none) to 8 (full).
	OptimizationLevelEnv = "CLVIRT_OPTIMIZATION_LEVEL"
)

// DefaultPlatformName is used when Config.Platform is empty.
const DefaultPlatformName = "clvirt"

// Config describes the devices to create in a registry. It can be read from a YAML file:
//
//	platform: clvirt
//	optimization_level: 2
//	worker_threads: 4
//	backends:
//	  - kind: emulated
//	    count: 2
//	  - kind: cpu
//	    worker_threads: 8
//	    options:
//	      name: "Host CPU"
type Config struct {
	Platform string `yaml:"platform"`

	// OptimizationLevel, if set, is applied to all devices after creation.
	OptimizationLevel *int `yaml:"optimization_level"`

	// WorkerThreads is the default limit for backends that support it, if > 0.
	WorkerThreads int `yaml:"worker_threads"`

	Backends []BackendConfig `yaml:"backends"`
}

// BackendConfig describes one call to Registry.CreateDevices.
type BackendConfig struct {
	Kind              string `yaml:"kind"`
	Count             *int   `yaml:"count"`
	Flags             uint   `yaml:"flags"`
	ComputeCapability int    `yaml:"compute_capability"`

	// WorkerThreads overrides Config.WorkerThreads for this backend, if > 0.
	WorkerThreads int `yaml:"worker_threads"`

	// Options passed to the factory, on top of the ones given to Registry.RegisterBackend.
	Options map[string]any `yaml:"options"`
}

// LoadConfig reads the YAML configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration %q", path)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration %q", path)
	}
	return cfg, nil
}

// ParseConfig parses a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFromEnv builds a configuration from the CLVIRT_* environment variables.
// It returns nil, with no error, if CLVIRT_DEVICES is not set.
func ConfigFromEnv() (*Config, error) {
	devices, found := os.LookupEnv(DevicesEnv)
	if !found {
		return nil, nil
	}
	cfg := &Config{}
	for _, kind := range strings.Split(devices, ",") {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			continue
		}
		cfg.Backends = append(cfg.Backends, BackendConfig{Kind: kind})
	}
	if v := os.Getenv(WorkerThreadsEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s=%q", WorkerThreadsEnv, v)
		}
		cfg.WorkerThreads = n
	}
	if v := os.Getenv(OptimizationLevelEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s=%q", OptimizationLevelEnv, v)
		}
		cfg.OptimizationLevel = &n
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "configuration from $%s", DevicesEnv)
	}
	return cfg, nil
}

// Validate checks backend kinds, counts and the optimization level.
func (cfg *Config) Validate() error {
	if cfg.OptimizationLevel != nil {
		level := executive.OptimizationLevel(*cfg.OptimizationLevel)
		if level < executive.NoOptimization || level > executive.FullOptimization {
			return errors.Errorf("invalid optimization level %d", *cfg.OptimizationLevel)
		}
	}
	if cfg.WorkerThreads < 0 {
		return errors.Errorf("invalid worker threads %d", cfg.WorkerThreads)
	}
	for ii, b := range cfg.Backends {
		if _, err := executive.ParseKind(b.Kind); err != nil {
			return errors.WithMessagef(err, "backend #%d", ii)
		}
		if b.Count != nil && *b.Count < 0 {
			return errors.Errorf("backend #%d (%s): invalid count %d", ii, b.Kind, *b.Count)
		}
		if _, err := b.options(); err != nil {
			return errors.WithMessagef(err, "backend #%d (%s)", ii, b.Kind)
		}
	}
	return nil
}

// options converts the YAML decoded options to the types accepted by executive.Options.
func (b BackendConfig) options() (executive.Options, error) {
	options := make(executive.Options, len(b.Options)+1)
	for key, value := range b.Options {
		switch v := value.(type) {
		case int:
			options[key] = int64(v)
		case float64:
			options[key] = float32(v)
		case []any:
			list := make([]int64, len(v))
			for ii, e := range v {
				n, ok := e.(int)
				if !ok {
					return nil, errors.Errorf("option %q: only lists of integers are supported, got %T", key, e)
				}
				list[ii] = int64(n)
			}
			options[key] = list
		default:
			options[key] = v
		}
	}
	if b.Count != nil {
		options["count"] = int64(*b.Count)
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return options, nil
}

// Configure creates the devices described by cfg under platform, in order, and then applies the optimization
// level to all devices. It returns the number of devices created.
//
// It stops at the first backend that fails; devices already created stay registered.
func (r *Registry) Configure(platform *Platform, cfg *Config) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	total := 0
	for _, b := range cfg.Backends {
		kind, _ := executive.ParseKind(b.Kind)
		options, _ := b.options()
		limit := b.WorkerThreads
		if limit <= 0 {
			limit = cfg.WorkerThreads
		}
		n, err := r.createDevices(platform, kind, b.Flags, b.ComputeCapability, limit, options)
		if err != nil {
			return total, err
		}
		total += n
	}
	if cfg.OptimizationLevel != nil {
		if err := r.SetOptimizationLevelForAll(executive.OptimizationLevel(*cfg.OptimizationLevel)); err != nil {
			return total, err
		}
	}
	klog.V(1).Infof("Configured %d devices on %s", total, platform)
	return total, nil
}

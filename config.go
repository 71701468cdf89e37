package riptide

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/riptide-org/riptide/configx"
	"github.com/riptide-org/riptide/internal/backpressure"
	"github.com/riptide-org/riptide/internal/cache"
	"github.com/riptide-org/riptide/internal/fetch"
	"github.com/riptide-org/riptide/internal/frontier"
	"github.com/riptide-org/riptide/internal/gate"
	"github.com/riptide-org/riptide/internal/jobs"
	"github.com/riptide-org/riptide/internal/orchestrator"
	"github.com/riptide-org/riptide/internal/outbox"
	"github.com/riptide-org/riptide/internal/pdfpipe"
	"github.com/riptide-org/riptide/internal/pool"
	"github.com/riptide-org/riptide/internal/render"
)

// Config narrows and validates the layered configuration model
// (configx) into the concrete knobs Engine needs to construct its
// subsystems. Operators hand-author this shape as YAML; internal/configx's
// Resolver/Applier/VersionedStore remain the versioned, simulate-before-apply
// path for runtime reconfiguration (see FromSpec), mirroring the teacher's
// split between a flat operator Config and a richer layered model beneath it.
type Config struct {
	Gate         gate.Thresholds     `yaml:"gate"`
	Pool         pool.Config         `yaml:"pool"`
	EnableWasm   bool                `yaml:"enable_wasm"`
	Cache        cache.Config        `yaml:"cache"`
	Frontier     frontier.Config     `yaml:"frontier"`
	Backpressure backpressure.Config `yaml:"backpressure"`
	Render       render.Config       `yaml:"render"`
	EnableRender bool                `yaml:"enable_render"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Jobs         jobs.QueueConfig    `yaml:"jobs"`
	PDF          pdfpipe.Config      `yaml:"pdf"`
	Fetch        fetch.Config        `yaml:"fetch"`
	Outbox       outbox.Config       `yaml:"outbox"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsBackend string `yaml:"metrics_backend"` // "prometheus" | "otel" | "" (noop)

	// ConfigPath, when non-empty, names the file the Config was loaded from;
	// LoadFile sets it, Defaults leaves it empty.
	ConfigPath string `yaml:"-"`
}

// Defaults returns the Config every subsystem's own DefaultConfig()
// produces, composed into one operator-facing struct.
func Defaults() Config {
	return Config{
		Gate:           gate.DefaultThresholds(),
		Pool:           pool.DefaultConfig(),
		EnableWasm:     false,
		Cache:          cache.DefaultConfig(),
		Frontier:       frontier.DefaultConfig(),
		Backpressure:   backpressure.DefaultConfig(),
		Render:         render.DefaultConfig(),
		EnableRender:   true,
		Orchestrator:   orchestrator.DefaultConfig(),
		Jobs:           jobs.DefaultQueueConfig(),
		PDF:            pdfpipe.DefaultConfig(),
		Fetch:          fetch.DefaultConfig(),
		Outbox:         outbox.DefaultConfig(),
		MetricsEnabled: false,
		MetricsBackend: "",
	}
}

// Validate rejects a Config that would leave a subsystem unable to make
// forward progress (zero-sized pools/queues, a WASM tier enabled without a
// binary path to load).
func (c Config) Validate() error {
	if c.EnableWasm && c.Pool.WasmPath == "" {
		return fmt.Errorf("riptide: enable_wasm is set but pool.wasm_path is empty")
	}
	if c.Orchestrator.StreamWorkers <= 0 {
		return fmt.Errorf("riptide: orchestrator.stream_workers must be positive")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("riptide: jobs.workers must be positive")
	}
	if c.Cache.ByteBudget <= 0 {
		return fmt.Errorf("riptide: cache.byte_budget must be positive")
	}
	return nil
}

// LoadFile decodes a YAML file into Config, starting from Defaults so an
// operator only needs to specify overrides.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("riptide: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("riptide: parse config %s: %w", path, err)
	}
	cfg.ConfigPath = path
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromSpec narrows a resolved configx.EngineConfigSpec's Riptide section
// onto a Config, leaving fields Defaults() already set where the spec is
// silent. This is the path a versioned configx.Applier commit takes to
// reach an Engine: Resolver.Resolve merges layers, Applier.Apply simulates
// and records the version, and FromSpec turns the resulting spec into the
// Config that New consumes.
func FromSpec(spec *configx.EngineConfigSpec) Config {
	cfg := Defaults()
	if spec == nil || spec.Riptide == nil {
		return cfg
	}
	r := spec.Riptide
	if g := r.Gate; g != nil && g.MaxScriptRatio > 0 {
		cfg.Gate.HeadlessScriptRatio = g.MaxScriptRatio
	}
	if p := r.Pool; p != nil {
		if p.MaxInstances > 0 {
			cfg.Pool.MaxPoolSize = p.MaxInstances
		}
		if p.EpochTimeout > 0 {
			cfg.Pool.EpochTimeout = p.EpochTimeout
		}
	}
	if c := r.Cache; c != nil {
		if c.MaxEntries > 0 {
			cfg.Cache.ByteBudget = int64(c.MaxEntries) * 64 << 10 // 64KiB/entry budget heuristic
		}
		if c.DefaultTTL > 0 {
			cfg.Cache.DefaultTTL = c.DefaultTTL
		}
	}
	if f := r.Frontier; f != nil {
		if f.BloomExpectedItems > 0 {
			cfg.Frontier.BloomBits = bloomBitsFor(f.BloomExpectedItems, f.BloomFalsePositive)
		}
		for _, pattern := range f.DenyPatterns {
			if re, err := frontier.CompileDenyPattern(pattern); err == nil {
				cfg.Frontier.Exclusion.DeniedPatterns = append(cfg.Frontier.Exclusion.DeniedPatterns, re)
			}
		}
	}
	if b := r.Backpressure; b != nil {
		if b.MaxInFlightBytes > 0 {
			cfg.Backpressure.GlobalByteCapKB = b.MaxInFlightBytes / 1024
		}
		if b.MaxInFlightItems > 0 {
			cfg.Backpressure.GlobalItemCap = b.MaxInFlightItems
		}
	}
	if rc := r.Render; rc != nil {
		cfg.EnableRender = rc.MaxBrowsers > 0
		if rc.MaxBrowsers > 0 {
			cfg.Render.MaxBrowsers = rc.MaxBrowsers
		}
	}
	return cfg
}

// bloomBitsFor sizes a bloom filter's bit count from its expected item count
// and target false-positive rate via the standard m = -n*ln(p)/(ln2)^2
// formula, matching internal/frontier's own bit-sizing intent.
func bloomBitsFor(expectedItems uint64, falsePositive float64) uint {
	if falsePositive <= 0 || falsePositive >= 1 {
		falsePositive = 0.01
	}
	n := float64(expectedItems)
	m := -n * math.Log(falsePositive) / (math.Ln2 * math.Ln2)
	if m < 1024 {
		m = 1024
	}
	return uint(m)
}

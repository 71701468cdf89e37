// Package runtime hot-reloads an operator's riptide.Config from disk: load
// it once at startup, then watch the file and hand back a freshly validated
// Config whenever it changes on disk, so a long-running server process can
// pick up tuning changes (gate thresholds, pool sizes, cache budgets)
// without a restart.
package runtime

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/riptide-org/riptide"
)

// ConfigManager owns the currently active Config, loaded from and saved back
// to a single YAML file, validated through a pluggable chain before it ever
// becomes "current".
type ConfigManager struct {
	configPath    string
	currentConfig riptide.Config
	mutex         sync.RWMutex
	validators    []ConfigValidator
}

// ConfigValidator rejects a candidate Config before it replaces the current
// one. riptide.Config.Validate() is always run first; validators registered
// here run after it for operator-specific policy (e.g. capping pool sizes
// below some fleet-wide ceiling).
type ConfigValidator interface {
	Validate(cfg riptide.Config) error
}

// NewConfigManager loads configPath (falling back to riptide.Defaults() if
// it does not exist yet) and registers riptide.Config.Validate as the base
// validator.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	cm := &ConfigManager{configPath: configPath, currentConfig: riptide.Defaults()}
	cm.AddValidator(baseConfigValidator{})
	if err := cm.Load(); err != nil {
		return nil, err
	}
	return cm, nil
}

func (cm *ConfigManager) AddValidator(v ConfigValidator) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.validators = append(cm.validators, v)
}

// Load reads configPath into the current config. A missing file is not an
// error: the manager keeps riptide.Defaults() and Save will create it on the
// next Update.
func (cm *ConfigManager) Load() error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		return nil
	}
	cfg, err := cm.readFile()
	if err != nil {
		return err
	}
	cm.currentConfig = cfg
	return nil
}

// Update validates cfg, writes it to configPath, and makes it current.
func (cm *ConfigManager) Update(cfg riptide.Config) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if err := cm.validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := cm.save(cfg); err != nil {
		return err
	}
	cm.currentConfig = cfg
	return nil
}

// Current returns a copy of the active config.
func (cm *ConfigManager) Current() riptide.Config {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.currentConfig
}

func (cm *ConfigManager) Validate(cfg riptide.Config) error {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.validate(cfg)
}

func (cm *ConfigManager) validate(cfg riptide.Config) error {
	for _, v := range cm.validators {
		if err := v.Validate(cfg); err != nil {
			return err
		}
	}
	return nil
}

func (cm *ConfigManager) save(cfg riptide.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(cm.configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(cm.configPath, data, 0o644)
}

func (cm *ConfigManager) readFile() (riptide.Config, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return riptide.Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg := riptide.Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return riptide.Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func checksum(cfg riptide.Config) string {
	data, _ := yaml.Marshal(cfg)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// baseConfigValidator runs riptide.Config's own Validate before any
// operator-supplied ConfigValidator gets a say.
type baseConfigValidator struct{}

func (baseConfigValidator) Validate(cfg riptide.Config) error { return cfg.Validate() }

// ConfigChange is emitted on the HotReloadSystem's channel whenever the
// watched file's content changes in a way that alters its checksum.
type ConfigChange struct {
	Config           riptide.Config
	ChangedAt        time.Time
	PreviousChecksum string
	Checksum         string
}

// HotReloadSystem watches a single config file via fsnotify and reports
// parsed, checksummed changes on a channel, mirroring the engine facade's
// own watch-and-relay pattern (events.Bus relaying to EventObservers) but
// for config rather than domain events.
type HotReloadSystem struct {
	configPath string
	watcher    *fsnotify.Watcher
	mutex      sync.Mutex
	isWatching bool
}

func NewHotReloadSystem(configPath string) (*HotReloadSystem, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &HotReloadSystem{configPath: configPath, watcher: watcher}, nil
}

// WatchConfigChanges starts watching configPath's directory (fsnotify does
// not reliably follow edits to a single file across editor save-by-rename)
// and returns channels delivering parsed changes and read/parse errors.
// Both channels close when ctx is cancelled or StopWatching is called.
func (hrs *HotReloadSystem) WatchConfigChanges(ctx context.Context) (<-chan *ConfigChange, <-chan error) {
	changes := make(chan *ConfigChange, 10)
	errs := make(chan error, 10)

	hrs.mutex.Lock()
	if hrs.isWatching {
		hrs.mutex.Unlock()
		close(changes)
		close(errs)
		return changes, errs
	}
	configDir := filepath.Dir(hrs.configPath)
	if err := hrs.watcher.Add(configDir); err != nil {
		hrs.mutex.Unlock()
		errs <- fmt.Errorf("watch dir %s: %w", configDir, err)
		close(changes)
		close(errs)
		return changes, errs
	}
	hrs.isWatching = true
	hrs.mutex.Unlock()

	go func() {
		defer close(changes)
		defer close(errs)
		var lastChecksum string
		for {
			select {
			case e, ok := <-hrs.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(e.Name) != filepath.Clean(hrs.configPath) {
					continue
				}
				if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := hrs.loadConfigFromFile()
				if err != nil {
					errs <- err
					continue
				}
				sum := checksum(cfg)
				if sum == lastChecksum {
					continue
				}
				changes <- &ConfigChange{Config: cfg, ChangedAt: time.Now(), PreviousChecksum: lastChecksum, Checksum: sum}
				lastChecksum = sum
			case err, ok := <-hrs.watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return changes, errs
}

func (hrs *HotReloadSystem) StopWatching() error {
	hrs.mutex.Lock()
	defer hrs.mutex.Unlock()
	if hrs.isWatching {
		hrs.isWatching = false
		return hrs.watcher.Close()
	}
	return nil
}

func (hrs *HotReloadSystem) loadConfigFromFile() (riptide.Config, error) {
	data, err := os.ReadFile(hrs.configPath)
	if err != nil {
		return riptide.Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg := riptide.Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return riptide.Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return riptide.Config{}, fmt.Errorf("validate reloaded config: %w", err)
	}
	return cfg, nil
}

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ErrRestartRequired is reported on Errors when a reload edits a section
// typeproofd only reads at startup. The edit is held back; the running
// configuration keeps the old values for that section.
var ErrRestartRequired = errors.New("config: change requires restart")

// Config sections as reported by Diff.
const (
	SectionClassifier = "classifier"
	SectionVerify     = "verify"
	SectionStorage    = "storage"
	SectionLedger     = "ledger"
	SectionSigning    = "signing"
	SectionServer     = "server"
	SectionLogging    = "logging"
	SectionMetrics    = "metrics"
)

// hotSections can change under a running daemon: the classifier
// thresholds and verification policy are rebuilt per reload. The store,
// ledger client, signing key, listener and log sink are opened once.
var hotSections = map[string]bool{
	SectionClassifier: true,
	SectionVerify:     true,
}

// HotReloadable reports whether section may change without a restart.
func HotReloadable(section string) bool {
	return hotSections[section]
}

func sectionsOf(c *Config) map[string]any {
	return map[string]any{
		SectionClassifier: c.Classifier,
		SectionVerify:     c.Verify,
		SectionStorage:    c.Storage,
		SectionLedger:     c.Ledger,
		SectionSigning:    c.Signing,
		SectionServer:     c.Server,
		SectionLogging:    c.Logging,
		SectionMetrics:    c.Metrics,
	}
}

// Diff lists the sections that differ between old and next, sorted.
func Diff(old, next *Config) []string {
	a, b := sectionsOf(old), sectionsOf(next)
	var changed []string
	for name, v := range a {
		if !reflect.DeepEqual(v, b[name]) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// ChangeFunc receives the configuration now in effect and the hot
// sections that changed.
type ChangeFunc func(cfg *Config, changed []string)

// Loader owns the daemon's configuration file: the initial load, watching
// it and applying reloads section by section.
type Loader struct {
	path     string
	config   *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []ChangeFunc
	debounce time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
}

// NewLoader creates a loader for path. Nothing is read until Load.
func NewLoader(path string) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:     path,
		debounce: 100 * time.Millisecond,
		errChan:  make(chan error, 4),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Path returns the watched file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, overrides and validates the configuration file.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) read() (*Config, error) {
	cfg, err := loadConfigFromFile(l.path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", l.path, err)
	}
	return cfg, nil
}

// Config returns the configuration in effect.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Watch reloads the file whenever it is written. Callbacks registered with
// OnChange run after a reload that changes a hot section.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	// The directory, so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-l.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(l.debounce, l.Reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.reportError(err)
		}
	}
}

// Reload re-reads the file and applies it. An invalid file changes
// nothing. Edits to hot sections take effect; edits to any other section
// are held back and reported as ErrRestartRequired.
func (l *Loader) Reload() {
	if l.ctx.Err() != nil {
		return
	}
	next, err := l.read()
	if err != nil {
		l.reportError(fmt.Errorf("reload rejected: %w", err))
		return
	}

	l.mu.Lock()
	current := l.config
	if current == nil {
		l.mu.Unlock()
		l.reportError(errors.New("reload before initial load"))
		return
	}

	var hot, pending []string
	for _, section := range Diff(current, next) {
		if HotReloadable(section) {
			hot = append(hot, section)
		} else {
			pending = append(pending, section)
		}
	}

	var applied *Config
	if len(hot) > 0 {
		applied = current.Clone()
		applied.Classifier = next.Classifier
		applied.Verify = next.Verify
		applied.Verify.TrustedKeys = append([]string{}, next.Verify.TrustedKeys...)
		l.config = applied
	}
	callbacks := append([]ChangeFunc{}, l.onChange...)
	l.mu.Unlock()

	if len(pending) > 0 {
		l.reportError(fmt.Errorf("%w: %s", ErrRestartRequired, strings.Join(pending, ", ")))
	}
	if applied == nil {
		return
	}
	for _, cb := range callbacks {
		cb(applied, hot)
	}
}

func (l *Loader) reportError(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// OnChange registers a callback for applied reloads.
func (l *Loader) OnChange(cb ChangeFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Errors carries rejected reloads, held-back sections and watcher errors.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops the watcher.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// loadConfigFromFile decodes path by extension; files without a known
// extension are read as TOML. A missing file yields the defaults.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	return cfg, nil
}

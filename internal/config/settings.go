package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Settings keys.
const (
	KeyToken = "token"
	KeyTheme = "theme"
)

// EnvToken overrides the stored token when set.
const EnvToken = "GITHUB_TOKEN"

var knownKeys = []string{KeyToken, KeyTheme}

// Settings is the persisted user settings store, a small YAML file.
type Settings struct {
	path   string
	logger *slog.Logger
	getenv func(string) string

	mu     sync.Mutex
	k      *koanf.Koanf
	subs   map[int]func(key, value string)
	nextID int
}

// OpenSettings reads the settings file at path. A missing file is an empty store.
func OpenSettings(path string, logger *slog.Logger) (*Settings, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Settings{
		path:   path,
		logger: logger.With("component", "settings"),
		getenv: os.Getenv,
		subs:   make(map[int]func(key, value string)),
	}
	k, err := s.read()
	if err != nil {
		return nil, err
	}
	s.k = k
	return s, nil
}

func (s *Settings) read() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(s.path), yaml.Parser()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return k, nil
		}
		return nil, fmt.Errorf("%w: settings %s: %w", ErrLoadConfig, s.path, err)
	}
	return k, nil
}

// Path returns the settings file location.
func (s *Settings) Path() string {
	return s.path
}

// Get returns the value of key, or def when unset. $GITHUB_TOKEN takes
// precedence over the stored token.
func (s *Settings) Get(key, def string) string {
	if key == KeyToken {
		if v := s.getenv(EnvToken); v != "" {
			return v
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.k.Exists(key) {
		return def
	}
	return s.k.String(key)
}

// Set stores value under key, writes the file and notifies subscribers.
func (s *Settings) Set(key, value string) error {
	if !isKnownKey(key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	s.mu.Lock()
	old := s.k.String(key)
	existed := s.k.Exists(key)
	if err := s.k.Set(key, value); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	err := s.writeLocked()
	subs := s.snapshotLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if existed && old == value {
		return nil
	}
	s.logger.Debug("setting changed", "key", key)
	for _, fn := range subs {
		fn(key, value)
	}
	return nil
}

func (s *Settings) writeLocked() error {
	b, err := s.k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Subscribe registers fn for changes made through Set or, while Watch runs,
// by other processes. The returned func unsubscribes.
func (s *Settings) Subscribe(fn func(key, value string)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Settings) snapshotLocked() []func(key, value string) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(key, value string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	return fns
}

// Watch reloads the file whenever it changes on disk and notifies subscribers
// of changed keys, until ctx is done. The file is created if missing.
func (s *Settings) Watch(ctx context.Context) error {
	s.mu.Lock()
	_, statErr := os.Stat(s.path)
	var err error
	if errors.Is(statErr, fs.ErrNotExist) {
		err = s.writeLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	provider := file.Provider(s.path)
	if err := provider.Watch(func(_ interface{}, err error) {
		if err != nil {
			s.logger.Warn("settings watch error", "error", err)
			return
		}
		s.reload()
	}); err != nil {
		return fmt.Errorf("failed to watch settings: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := provider.Unwatch(); err != nil {
			s.logger.Debug("settings unwatch", "error", err)
		}
	}()
	return nil
}

func (s *Settings) reload() {
	fresh, err := s.read()
	if err != nil {
		s.logger.Warn("failed to reload settings", "error", err)
		return
	}

	type change struct{ key, value string }
	var changes []change
	s.mu.Lock()
	for _, key := range knownKeys {
		if fresh.Exists(key) != s.k.Exists(key) || fresh.String(key) != s.k.String(key) {
			changes = append(changes, change{key, fresh.String(key)})
		}
	}
	s.k = fresh
	subs := s.snapshotLocked()
	s.mu.Unlock()

	for _, c := range changes {
		s.logger.Debug("setting changed on disk", "key", c.key)
		for _, fn := range subs {
			fn(c.key, c.value)
		}
	}
}

func isKnownKey(key string) bool {
	for _, k := range knownKeys {
		if k == key {
			return true
		}
	}
	return false
}

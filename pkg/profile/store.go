package profile

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// Store is the profile persistence contract the Client Facade consults to
// resolve a named profile into connection settings. Profile storage is
// reachable only through this interface; FileStore below is this module's
// concrete, swappable default.
type Store interface {
	Get(name string) (Profile, bool, error)
	List() (map[string]Profile, error)
	Save(name string, p Profile) error
	Delete(name string) error
	DefaultName() (string, bool, error)
	SetDefault(name string) error
}

// document is the on-disk shape: every top-level key other than the two
// reserved ones ("default", "descriptions") is a profile name mapped to
// its fields.
type document struct {
	Default      string             `yaml:"default,omitempty"`
	Descriptions map[string]string  `yaml:"descriptions,omitempty"`
	Profiles     map[string]Profile `yaml:",inline"`
}

// FileStore is a YAML-file-backed Store with fsnotify-driven hot reload: an
// external edit to the file is picked up before the next Store call
// completes, without the caller needing to restart the process.
type FileStore struct {
	path string
	log  logr.Logger

	mu  sync.RWMutex
	doc document

	watcher *fsnotify.Watcher
	closeCh chan struct{}
}

// NewFileStore loads path (creating an empty document if it does not yet
// exist) and starts watching it for external changes.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{path: path, log: logr.Discard(), closeCh: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Hot reload is a convenience, not a correctness requirement — a
		// store that can't watch still works, it just needs Load() called
		// again after external edits.
		s.log.Error(err, "profile store: could not start file watcher", "path", path)
		return s, nil
	}
	if err := watcher.Add(path); err != nil {
		s.log.Error(err, "profile store: could not watch profile file", "path", path)
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

// FileStoreOption configures a FileStore at construction time.
type FileStoreOption func(*FileStore)

// WithLogger attaches a structured logger for watch-loop diagnostics.
func WithLogger(log logr.Logger) FileStoreOption {
	return func(s *FileStore) { s.log = log }
}

func (s *FileStore) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.log.Error(err, "profile store: reload after file change failed", "path", s.path)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error(err, "profile store: watcher error", "path", s.path)
		case <-s.closeCh:
			return
		}
	}
}

// Close stops the file watcher. Safe to call on a FileStore built without
// one (fsnotify unavailable).
func (s *FileStore) Close() error {
	close(s.closeCh)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *FileStore) reload() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.doc = document{Profiles: make(map[string]Profile)}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeCacheUnavailable, "failed to read profile file %s", s.path)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeValidation, "failed to parse profile file %s", s.path)
	}
	if doc.Profiles == nil {
		doc.Profiles = make(map[string]Profile)
	}
	for name, p := range doc.Profiles {
		p.Name = name
		doc.Profiles[name] = p
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

func (s *FileStore) persist() error {
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to serialize profile file")
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeCacheUnavailable, "failed to write profile file %s", s.path)
	}
	return nil
}

// Get returns the named profile (with defaults applied and Name set). The
// bool is false if no profile with that name exists.
func (s *FileStore) Get(name string) (Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.doc.Profiles[name]
	return p, ok, nil
}

// List returns every stored profile, keyed by name.
func (s *FileStore) List() (map[string]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Profile, len(s.doc.Profiles))
	for name, p := range s.doc.Profiles {
		out[name] = p
	}
	return out, nil
}

// Save validates p and writes it under name, creating or overwriting the
// existing entry, and persists the file immediately.
func (s *FileStore) Save(name string, p Profile) error {
	p.Name = name
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.doc.Profiles == nil {
		s.doc.Profiles = make(map[string]Profile)
	}
	s.doc.Profiles[name] = p
	s.mu.Unlock()

	return s.persist()
}

// Delete removes the named profile (and clears it as default, if it was).
// Deleting an unknown name is a no-op.
func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	delete(s.doc.Profiles, name)
	if s.doc.Descriptions != nil {
		delete(s.doc.Descriptions, name)
	}
	if s.doc.Default == name {
		s.doc.Default = ""
	}
	s.mu.Unlock()

	return s.persist()
}

// DefaultName returns the configured default profile's name. The bool is
// false if no default is set.
func (s *FileStore) DefaultName() (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Default, s.doc.Default != "", nil
}

// SetDefault points the default profile pointer at name, which must
// already be a saved profile.
func (s *FileStore) SetDefault(name string) error {
	s.mu.Lock()
	_, ok := s.doc.Profiles[name]
	if !ok {
		s.mu.Unlock()
		return apperrors.NewNotFoundError("profile " + name)
	}
	s.doc.Default = name
	s.mu.Unlock()

	return s.persist()
}

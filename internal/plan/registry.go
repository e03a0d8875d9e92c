package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Registry holds plans loaded from a directory, keyed by domain. The
// built-in plans seed it; on-disk plans for the same domain shadow them.
// Watch keeps the registry current as plan files change.
type Registry struct {
	mu    sync.RWMutex
	dir   string
	plans map[string]*Plan
	log   *zap.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry creates a registry seeded with the built-in plans and, when
// dir is non-empty, overlaid with the plans found there.
func NewRegistry(dir string, log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{dir: dir, plans: make(map[string]*Plan), log: log}
	r.plans[DomainAudio] = audioPlan()
	if dir != "" {
		if err := r.reload(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Lookup returns the plan for a domain.
func (r *Registry) Lookup(domain string) (*Plan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[domain]
	return p, ok
}

// Domains lists the registered domains, sorted.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plans))
	for d := range r.plans {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// reload re-reads the plan directory. A broken file is logged and
// skipped; it never removes an already registered plan.
func (r *Registry) reload() error {
	paths, err := filepath.Glob(filepath.Join(r.dir, "*.y*ml"))
	if err != nil {
		return err
	}
	sort.Strings(paths)

	loaded := make(map[string]*Plan)
	for _, path := range paths {
		p, err := loadPlanFile(path)
		if err != nil {
			r.log.Warn("skipping plan file", zap.String("path", path), zap.Error(err))
			continue
		}
		loaded[p.Domain] = p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for domain, p := range loaded {
		r.plans[domain] = p
		r.log.Debug("plan registered", zap.String("domain", domain), zap.String("name", p.Name))
	}
	return nil
}

func loadPlanFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	if p.Domain == "" {
		return nil, fmt.Errorf("plan file %s declares no domain", path)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Watch reloads the registry whenever the plan directory changes. Stop
// with Close.
func (r *Registry) Watch() error {
	if r.dir == "" {
		return fmt.Errorf("no plan directory to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return err
	}
	r.watcher = w
	r.done = make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if err := r.reload(); err != nil {
					r.log.Warn("plan reload failed", zap.Error(err))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.log.Warn("plan watcher error", zap.Error(err))
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	return r.watcher.Close()
}

package sources

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/tasksmith/internal/integration/task"
)

// StaticSource reads a JSON array of task templates from a file. When
// watched, the templates of the watched file are cached until it changes.
// Files resolved against other workspace roots are always read.
type StaticSource struct {
	path string

	mu      sync.Mutex
	watched string
	cached  task.TaskTemplates
	valid   bool
	gen     uint64
	watcher *fsnotify.Watcher
}

// NewStaticSource creates a static file source. An empty path uses
// .tasksmith/tasks.json in the workspace root.
func NewStaticSource(path string) *StaticSource {
	if path == "" {
		path = DefaultStaticFile
	}
	return &StaticSource{path: path}
}

// Name returns the source name.
func (s *StaticSource) Name() string {
	return "static"
}

// TasksToSchedule returns the templates in the file.
func (s *StaticSource) TasksToSchedule(_ context.Context, ws *task.Workspace) (task.TaskTemplates, error) {
	path := filepath.Clean(workspacePath(ws, s.path))

	s.mu.Lock()
	cacheable := s.watched != "" && path == s.watched
	if cacheable && s.valid {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}
	gen := s.gen
	s.mu.Unlock()

	data, err := readOptional(path)
	if err != nil || data == nil {
		return nil, err
	}
	templates, err := task.ParseTaskTemplates(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Skip caching if the file changed while it was being read.
	s.mu.Lock()
	if cacheable && s.watched == path && s.gen == gen {
		s.cached, s.valid = templates, true
	}
	s.mu.Unlock()
	return templates, nil
}

// Watch enables caching of the task file under root and drops the cache
// whenever that file changes. onChange, if non-nil, is called once a burst
// of changes has settled. The watch stops when ctx is done or Close is
// called.
func (s *StaticSource) Watch(ctx context.Context, root string, onChange func()) error {
	path := s.path
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return err
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		_ = w.Close()
		return fmt.Errorf("static source already watching")
	}
	s.watcher = w
	s.watched = path
	s.cached, s.valid = nil, false
	s.mu.Unlock()

	go s.watchLoop(ctx, w, path, onChange)
	return nil
}

func (s *StaticSource) watchLoop(ctx context.Context, w *fsnotify.Watcher, path string, onChange func()) {
	var notify *debouncer
	if onChange != nil {
		notify = newDebouncer(changeDebounce, onChange)
		defer notify.Cancel()
	}

	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s.mu.Lock()
			s.gen++
			s.cached, s.valid = nil, false
			s.mu.Unlock()
			if notify != nil {
				notify.Call()
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops watching. It is safe to call more than once.
func (s *StaticSource) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.watched = ""
	s.cached, s.valid = nil, false
	s.gen++
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}

package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Skryldev/channel-stacker/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettle is how long a file must stay quiet before a change is reported
const DefaultSettle = 250 * time.Millisecond

const watchTick = 50 * time.Millisecond

// SourceWatcher reports when watched source files are rewritten. It watches
// parent directories so editors that replace files atomically are seen.
type SourceWatcher struct {
	w        *fsnotify.Watcher
	onChange func(path string)
	settle   time.Duration
	log      *logger.Logger

	mu    sync.Mutex
	files map[string]int
	dirs  map[string]int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSourceWatcher starts a watcher calling onChange, from its own
// goroutine, once writes to a watched file have settled.
func NewSourceWatcher(onChange func(path string), settle time.Duration, log *logger.Logger) (*SourceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &SourceWatcher{
		w:        w,
		onChange: onChange,
		settle:   settle,
		log:      log,
		files:    make(map[string]int),
		dirs:     make(map[string]int),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// Watch adds path. Watching the same path twice needs two Unwatch calls.
func (s *SourceWatcher) Watch(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirs[dir] == 0 {
		if err := s.w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	s.dirs[dir]++
	s.files[path]++
	return nil
}

func (s *SourceWatcher) Unwatch(path string) {
	path, err := filepath.Abs(path)
	if err != nil {
		return
	}
	dir := filepath.Dir(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[path] == 0 {
		return
	}
	if s.files[path]--; s.files[path] == 0 {
		delete(s.files, path)
	}
	if s.dirs[dir]--; s.dirs[dir] == 0 {
		delete(s.dirs, dir)
		_ = s.w.Remove(dir)
	}
}

func (s *SourceWatcher) watched(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[path] > 0
}

func (s *SourceWatcher) loop() {
	defer s.wg.Done()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(watchTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if s.watched(event.Name) {
				pending[event.Name] = time.Now()
			}

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < s.settle {
					continue
				}
				delete(pending, path)
				s.log.Info("source file changed", zap.String("file", path))
				s.onChange(path)
			}

		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}
			s.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher and waits for its goroutine
func (s *SourceWatcher) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.w.Close()
		s.wg.Wait()
	})
	return err
}

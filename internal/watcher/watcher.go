package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
	"github.com/metarr/metarr/internal/scanner"
)

const debounceWindow = time.Second

// Enqueuer decouples the watcher from the job queue.
type Enqueuer interface {
	Enqueue(jobType string, priority int, payload interface{}) (int64, error)
}

// Watcher mirrors library directories into scan jobs. Writes are debounced
// so a file still being copied only triggers once.
type Watcher struct {
	libraries *repository.LibraryRepository
	queue     Enqueuer
	fw        *fsnotify.Watcher
	logger    zerolog.Logger

	mu       sync.Mutex
	watched  map[string]int64 // directory path to library id
	debounce map[string]*time.Timer
	stop     chan struct{}
}

func New(libraries *repository.LibraryRepository, queue Enqueuer, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		libraries: libraries,
		queue:     queue,
		fw:        fw,
		logger:    logger.With().Str("component", "watcher").Logger(),
		watched:   make(map[string]int64),
		debounce:  make(map[string]*time.Timer),
		stop:      make(chan struct{}),
	}, nil
}

// Start registers every library root and begins processing events.
func (w *Watcher) Start() {
	go w.eventLoop()
	w.Refresh()
	w.logger.Info().Msg("filesystem watcher started")
}

func (w *Watcher) Stop() {
	close(w.stop)
	w.fw.Close()
}

// Refresh reconciles the watch list against the configured libraries.
func (w *Watcher) Refresh() {
	libs, err := w.libraries.List()
	if err != nil {
		w.logger.Error().Err(err).Msg("loading libraries failed")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	desired := make(map[string]int64, len(libs))
	for _, lib := range libs {
		desired[lib.Path] = lib.ID
	}
	for p := range w.watched {
		if _, ok := desired[p]; !ok {
			w.fw.Remove(p)
			delete(w.watched, p)
		}
	}
	for p, libID := range desired {
		if _, ok := w.watched[p]; ok {
			continue
		}
		if err := w.addRecursive(p, libID); err != nil {
			w.logger.Warn().Err(err).Str("path", p).Msg("watch add failed")
		}
	}
	w.logger.Info().Int("paths", len(w.watched)).Int("libraries", len(libs)).Msg("watch list refreshed")
}

func (w *Watcher) addRecursive(root string, libID int64) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() && !strings.HasPrefix(info.Name(), ".") {
			if err := w.fw.Add(path); err != nil {
				return nil
			}
			w.watched[path] = libID
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watch error")
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") ||
		strings.HasSuffix(base, ".part") {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	// New directories join the watch list; their files arrive as events.
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if libID := w.resolveLibrary(event.Name); libID != 0 {
			w.mu.Lock()
			w.fw.Add(event.Name)
			w.watched[event.Name] = libID
			w.mu.Unlock()
		}
		return
	}

	if scanner.Classify(event.Name) != scanner.KindMedia {
		return
	}
	libID := w.resolveLibrary(event.Name)
	if libID == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.debounce[event.Name]; ok {
		timer.Stop()
	}
	path := event.Name
	w.debounce[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()

		if _, err := w.queue.Enqueue("scan-movie", models.PriorityHigh, map[string]interface{}{
			"library_id": libID,
			"file_path":  path,
		}); err != nil {
			w.logger.Error().Err(err).Str("path", path).Msg("scan enqueue failed")
		}
	})
}

// resolveLibrary walks parents until it hits a watched directory.
func (w *Watcher) resolveLibrary(path string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	dir := filepath.Dir(path)
	for dir != "/" && dir != "." {
		if libID, ok := w.watched[dir]; ok {
			return libID
		}
		dir = filepath.Dir(dir)
	}
	return 0
}

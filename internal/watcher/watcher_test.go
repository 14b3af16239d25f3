package watcher

import (
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []string
}

func (f *fakeQueue) Enqueue(jobType string, priority int, payload interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, jobType)
	return int64(len(f.jobs)), nil
}

func (f *fakeQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func newTestWatcher(t *testing.T, queue *fakeQueue) *Watcher {
	t.Helper()
	w, err := New(nil, queue, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { w.fw.Close() })
	w.watched["/media/movies"] = 7
	return w
}

func TestResolveLibraryWalksParents(t *testing.T) {
	w := newTestWatcher(t, &fakeQueue{})
	assert.Equal(t, int64(7), w.resolveLibrary("/media/movies/The Matrix (1999)/matrix.mkv"))
	assert.Equal(t, int64(0), w.resolveLibrary("/elsewhere/file.mkv"))
}

func TestMediaCreateEnqueuesScanAfterDebounce(t *testing.T) {
	queue := &fakeQueue{}
	w := newTestWatcher(t, queue)

	w.handleEvent(fsnotify.Event{Name: "/media/movies/Heat (1995)/heat.mkv", Op: fsnotify.Create})

	assert.Equal(t, 0, queue.count())
	assert.Eventually(t, func() bool { return queue.count() == 1 },
		3*time.Second, 50*time.Millisecond)
	assert.Equal(t, "scan-movie", queue.jobs[0])
}

func TestDebounceCoalescesRepeatedWrites(t *testing.T) {
	queue := &fakeQueue{}
	w := newTestWatcher(t, queue)

	ev := fsnotify.Event{Name: "/media/movies/Heat (1995)/heat.mkv", Op: fsnotify.Write}
	w.handleEvent(ev)
	w.handleEvent(ev)
	w.handleEvent(ev)

	assert.Eventually(t, func() bool { return queue.count() == 1 },
		3*time.Second, 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, queue.count())
}

func TestNonMediaAndTransientFilesIgnored(t *testing.T) {
	queue := &fakeQueue{}
	w := newTestWatcher(t, queue)

	for _, name := range []string{
		"/media/movies/poster.jpg",
		"/media/movies/.heat.mkv",
		"/media/movies/heat.mkv.part",
		"/media/movies/heat.mkv.tmp",
	} {
		w.handleEvent(fsnotify.Event{Name: name, Op: fsnotify.Create})
	}

	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, 0, queue.count())
}

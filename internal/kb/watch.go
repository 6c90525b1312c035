package kb

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"alia/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports edits to the hand-tuned override files KB/learned.pref
// and KB/learned.conf so a running core can re-read them between steps.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	changes     chan string
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Events    int
	Delivered int
	Dropped   int
	Errors    int
	LastPath  string
	LastEvent time.Time
}

var watched = map[string]bool{learnedBase + ".pref": true, learnedBase + ".conf": true}

// NewWatcher creates a watcher for the learned directory of k.
func NewWatcher(k *KB, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:     fw,
		dir:         k.Path(LearnedDir),
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		changes:     make(chan string, 8),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Changes delivers the path of each override file once its edits settle.
func (kw *Watcher) Changes() <-chan string { return kw.changes }

// Stats returns a copy of the counters.
func (kw *Watcher) Stats() WatcherStats {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	return kw.stats
}

// Start begins watching. It does not block.
func (kw *Watcher) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return nil
	}
	kw.running = true
	kw.mu.Unlock()

	if err := os.MkdirAll(kw.dir, 0755); err != nil {
		logging.KBWarn("watcher: cannot create %s: %v", kw.dir, err)
	}
	if err := kw.watcher.Add(kw.dir); err != nil {
		logging.KBWarn("watcher: %v", err)
	} else {
		logging.KB("watching %s", kw.dir)
	}
	go kw.run(ctx)
	return nil
}

// Stop ends the watch and waits for the loop to exit.
func (kw *Watcher) Stop() {
	kw.mu.Lock()
	if !kw.running {
		kw.mu.Unlock()
		return
	}
	kw.running = false
	kw.mu.Unlock()

	close(kw.stopCh)
	<-kw.doneCh
	if err := kw.watcher.Close(); err != nil {
		logging.KBWarn("watcher close: %v", err)
	}
}

func (kw *Watcher) run(ctx context.Context) {
	defer close(kw.doneCh)
	tick := time.NewTicker(kw.debounceDur / 5)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-kw.stopCh:
			return
		case ev, ok := <-kw.watcher.Events:
			if !ok {
				return
			}
			kw.handle(ev)
		case err, ok := <-kw.watcher.Errors:
			if !ok {
				return
			}
			logging.KBWarn("watcher: %v", err)
			kw.mu.Lock()
			kw.stats.Errors++
			kw.mu.Unlock()
		case <-tick.C:
			kw.flush()
		}
	}
}

func (kw *Watcher) handle(ev fsnotify.Event) {
	if !watched[filepath.Base(ev.Name)] {
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	logging.KBDebug("watcher: %s %s", ev.Op, ev.Name)
	kw.mu.Lock()
	kw.stats.Events++
	kw.stats.LastPath = ev.Name
	kw.stats.LastEvent = time.Now()
	kw.debounceMap[ev.Name] = time.Now()
	kw.mu.Unlock()
}

// flush delivers paths whose last event is older than the debounce window.
// A full channel drops the path: the reader re-reads every file anyway.
func (kw *Watcher) flush() {
	kw.mu.Lock()
	now := time.Now()
	var settled []string
	for p, t := range kw.debounceMap {
		if now.Sub(t) >= kw.debounceDur {
			settled = append(settled, p)
			delete(kw.debounceMap, p)
		}
	}
	kw.mu.Unlock()

	for _, p := range settled {
		select {
		case kw.changes <- p:
			kw.mu.Lock()
			kw.stats.Delivered++
			kw.mu.Unlock()
		default:
			kw.mu.Lock()
			kw.stats.Dropped++
			kw.mu.Unlock()
		}
	}
}

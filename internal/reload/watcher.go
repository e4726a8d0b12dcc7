// Package reload applies configuration changes to a running process,
// triggered by SIGHUP or by polling the config file.
package reload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// PollInterval is how often the file is read. Defaults to 5 seconds.
	PollInterval time.Duration
}

// Event reports that the content of the watched file changed.
type Event struct {
	ConfigPath string
	// Digest is the hex SHA-256 of the new content.
	Digest string
}

// Watcher polls a file and emits an Event when its content digest changes.
// Rewriting a file with identical bytes emits nothing.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins polling. Only the first call has an effect.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		initial := w.digest()
		go w.poll(ctx, initial)
	})
}

// Events returns the channel of change events. At most one event is
// buffered; later changes coalesce until it is received.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher. Safe to call multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context, last string) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			current := w.digest()
			if current == "" || current == last {
				continue
			}
			last = current
			select {
			case w.events <- Event{ConfigPath: w.cfg.ConfigPath, Digest: current}:
			default:
			}
		}
	}
}

// digest returns "" when the file cannot be read, so a file briefly
// missing during an editor's rename-and-replace is not reported.
func (w *Watcher) digest() string {
	data, err := os.ReadFile(w.cfg.ConfigPath)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

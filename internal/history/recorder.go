package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hwmon/internal/bridges/hwmon"
)

const (
	recordQueueSize = 512
	recordTimeout   = 5 * time.Second
)

// Recorder is a hwmon.Notifier that persists property changes.
//
// Changes are queued and written by a single goroutine started with Start.
// When the queue is full the change is dropped and logged.
type Recorder struct {
	repo   Repository
	logger *slog.Logger

	queue chan Entry

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewRecorder creates a recorder writing to repo. A nil logger discards
// output.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan Entry, recordQueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop drains queued changes and waits for the writer to exit.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// DeviceAdded implements hwmon.Notifier.
func (r *Recorder) DeviceAdded(hwmon.DeviceInfo) {}

// DeviceRemoved implements hwmon.Notifier. History outlives the device.
func (r *Recorder) DeviceRemoved(hwmon.DeviceInfo) {}

// PropertyChanged implements hwmon.Notifier.
func (r *Recorder) PropertyChanged(change hwmon.PropertyChange) {
	e := Entry{
		DeviceID:  change.DeviceID,
		Property:  change.Property.Name,
		Value:     change.Property.Value,
		Unit:      change.Property.Unit,
		CreatedAt: change.Timestamp,
	}

	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.queue <- e:
	default:
		r.logger.Warn("history queue full, change dropped",
			"device_id", e.DeviceID, "property", e.Property)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-r.done:
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.repo.Record(ctx, e); err != nil {
		r.logger.Error("recording reading history failed",
			"device_id", e.DeviceID, "property", e.Property, "error", err)
	}
}

// PruneLoop deletes entries older than retention every interval until ctx
// is cancelled. A non-positive retention disables pruning.
func PruneLoop(ctx context.Context, repo Repository, retention, interval time.Duration, logger *slog.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.Prune(ctx, retention)
			if err != nil {
				logger.Error("pruning reading history failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("reading history pruned", "rows", n, "retention", retention)
			}
		}
	}
}

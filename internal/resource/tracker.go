package resource

import (
	"context"
	"sync"
	"time"

	"hlsgen/internal/logger"
)

// Tracker keeps an inventory of live resource handles so the daemon can
// observe how many backing files are still referenced and detect leaks
// at shutdown. The playlist core itself never needs a tracker.
type Tracker struct {
	mutex   sync.RWMutex
	handles map[string]*Handle
	logger  logger.Logger

	// Control
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTracker creates and returns a new Tracker.
func NewTracker(log logger.Logger) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		handles: make(map[string]*Handle),
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Track registers a handle with the tracker.
func (t *Tracker) Track(h *Handle) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.handles[h.ID()] = h
	t.logger.Debugf("Tracking resource %s (%s)", h.ID(), h.URI())
}

// Active returns the number of tracked handles that still hold at least
// one reference.
func (t *Tracker) Active() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	active := 0
	for _, h := range t.handles {
		if h.Refs() > 0 {
			active++
		}
	}
	return active
}

// Start begins the background sweep worker.
func (t *Tracker) Start() {
	t.logger.Infof("Starting resource tracker sweep worker...")
	go t.sweepWorker()
}

// Stop shuts down the sweep worker and reports handles that are still
// referenced, which at teardown time means a leak somewhere upstream.
func (t *Tracker) Stop() {
	t.cancel()

	t.mutex.Lock()
	defer t.mutex.Unlock()
	leaked := 0
	for _, h := range t.handles {
		if h.Refs() > 0 {
			t.logger.Warnf("Resource %s (%s) still has %d references at shutdown", h.ID(), h.URI(), h.Refs())
			leaked++
		}
	}
	if leaked > 0 {
		t.logger.Warnf("Resource tracker stopped with %d leaked handles", leaked)
	} else {
		t.logger.Infof("Resource tracker stopped, no leaked handles")
	}
}

// sweepWorker runs in the background to drop finalized handles.
func (t *Tracker) sweepWorker() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Infof("Resource sweep worker stopped.")
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Sweep removes handles whose reference count has reached zero.
func (t *Tracker) Sweep() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	swept := 0
	for id, h := range t.handles {
		if h.Refs() <= 0 {
			delete(t.handles, id)
			swept++
		}
	}

	if swept > 0 {
		t.logger.Infof("Swept %d finalized resources. Currently tracking %d handles.", swept, len(t.handles))
	} else {
		t.logger.Debugf("No finalized resources to sweep. Currently tracking %d handles.", len(t.handles))
	}
}

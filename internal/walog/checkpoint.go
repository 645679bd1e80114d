package walog

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCheckpointInterval is how often a Checkpointer fires absent
// an explicit SetInterval call.
const DefaultCheckpointInterval = 60 * time.Second

// Checkpointer periodically asks the engine to flush its durable
// state, then records a checkpoint marker in the log and prunes
// segments a replay would no longer need. Grounded on the same
// ticker+stopCh/doneCh shape internal/evict's Scanner uses for its
// background sweep.
type Checkpointer struct {
	log      *Log
	flush    func() error
	interval time.Duration
	logger   zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCheckpointer returns a Checkpointer that calls flush on each
// tick before recording the checkpoint marker.
func NewCheckpointer(log *Log, flush func() error, logger zerolog.Logger) *Checkpointer {
	return &Checkpointer{
		log:      log,
		flush:    flush,
		interval: DefaultCheckpointInterval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetInterval changes the tick period; call before Start.
func (c *Checkpointer) SetInterval(d time.Duration) { c.interval = d }

// Start runs the checkpoint loop in a background goroutine.
func (c *Checkpointer) Start() { go c.run() }

// Stop signals the loop to exit and waits for it to do so.
func (c *Checkpointer) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Checkpointer) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Checkpoint(); err != nil {
				c.logger.Error().Err(err).Msg("walog: checkpoint failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// Checkpoint flushes durable state, appends a checkpoint marker, syncs
// it, and prunes segments the marker makes unnecessary for replay.
func (c *Checkpointer) Checkpoint() error {
	if err := c.flush(); err != nil {
		return fmt.Errorf("walog: flush: %w", err)
	}

	e := &Entry{LSN: c.log.NextLSN(), Op: OpCheckpoint}
	if err := c.log.Append(e); err != nil {
		return fmt.Errorf("walog: append checkpoint marker: %w", err)
	}
	if err := c.log.Sync(); err != nil {
		return fmt.Errorf("walog: sync checkpoint marker: %w", err)
	}

	return c.log.Prune()
}

package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/ayusman/segcam/internal/detector"
)

const (
	// DefaultJournalBuffer is the number of summaries queued before Record drops.
	DefaultJournalBuffer = 256
	// DefaultJournalBatch is the largest number of rows written per transaction.
	DefaultJournalBatch = 32
	// DefaultJournalFlush is how long a partial batch waits before being written.
	DefaultJournalFlush = 500 * time.Millisecond
)

// JournalConfig controls a Journal's buffering.
type JournalConfig struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

// Journal writes result summaries for one session in the background. Record never
// blocks the caller; summaries that do not fit in the buffer are counted and
// dropped.
type Journal struct {
	results   *ResultRepository
	sessionID string
	cfg       JournalConfig

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool
	in     chan detector.Summary
	done   chan struct{}
	once   sync.Once

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewJournal starts a journal writing into sessionID.
func (s *Store) NewJournal(sessionID string, cfg JournalConfig) *Journal {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultJournalBuffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultJournalBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultJournalFlush
	}

	j := &Journal{
		results:   s.Results(),
		sessionID: sessionID,
		cfg:       cfg,
		in:        make(chan detector.Summary, cfg.Buffer),
		done:      make(chan struct{}),
	}
	go j.run()
	return j
}

// SessionID returns the session this journal writes into.
func (j *Journal) SessionID() string {
	return j.sessionID
}

// Record queues a summary. It reports false when the buffer was full.
// Record must not be called after Close.
func (j *Journal) Record(s detector.Summary) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return false
	}
	select {
	case j.in <- s:
		return true
	default:
		j.dropped.Add(1)
		return false
	}
}

// Close flushes queued summaries and stops the writer.
func (j *Journal) Close() {
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.in)
		j.mu.Unlock()
	})
	<-j.done
}

// Written returns the number of rows committed.
func (j *Journal) Written() uint64 { return j.written.Load() }

// Dropped returns the number of summaries discarded because the buffer was full.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Failed returns the number of summaries lost to encode or database errors.
func (j *Journal) Failed() uint64 { return j.failed.Load() }

func (j *Journal) run() {
	defer close(j.done)

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*ResultRecord, 0, j.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.results.InsertBatch(batch); err != nil {
			glog.Warningf("journal: failed to write %d results: %v", len(batch), err)
			j.failed.Add(uint64(len(batch)))
		} else {
			j.written.Add(uint64(len(batch)))
			glog.V(2).Infof("journal: wrote %d results", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case s, ok := <-j.in:
			if !ok {
				flush()
				return
			}
			rec, err := NewResultRecord(j.sessionID, s)
			if err != nil {
				glog.Warningf("journal: %v", err)
				j.failed.Add(1)
				continue
			}
			batch = append(batch, rec)
			if len(batch) >= j.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

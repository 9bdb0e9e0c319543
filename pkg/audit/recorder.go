package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eradah-pmo/webvue-core-sub000/pkg/observability"
)

// Writer persists entries. Store satisfies it.
type Writer interface {
	CreateEntry(ctx context.Context, entry *Entry) error
}

// Recorder is an asynchronous Sink. Record enqueues and returns immediately;
// a background worker writes entries with bounded retries. Audit failures are
// logged and counted but never surfaced to the mutation path that emitted
// the entry.
type Recorder struct {
	writer  Writer
	log     *logrus.Logger
	metrics *observability.Metrics

	queue      chan *Entry
	maxRetries int
	backoff    time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// RecorderOptions tune the recorder. Zero values select defaults.
type RecorderOptions struct {
	BufferSize int
	MaxRetries int
	Backoff    time.Duration
}

// NewRecorder creates and starts an asynchronous recorder.
func NewRecorder(writer Writer, log *logrus.Logger, metrics *observability.Metrics, opts RecorderOptions) *Recorder {
	if log == nil {
		log = logrus.New()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}

	r := &Recorder{
		writer:     writer,
		log:        log,
		metrics:    metrics,
		queue:      make(chan *Entry, opts.BufferSize),
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		done:       make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an entry. It stamps actor details from the context and
// never blocks longer than the queue allows; when the queue is full the
// entry is dropped and counted.
func (r *Recorder) Record(ctx context.Context, entry *Entry) {
	if entry == nil {
		return
	}
	Stamp(ctx, entry)
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	entry.Severity = NormalizeSeverity(entry.Severity)

	select {
	case r.queue <- entry:
		r.metrics.AuditQueueDepth.Set(float64(len(r.queue)))
	default:
		r.metrics.AuditDroppedTotal.Inc()
		r.log.WithFields(logrus.Fields{
			"event":  entry.Event,
			"module": entry.Module,
		}).Error("audit queue full, entry dropped")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		r.write(entry)
		r.metrics.AuditQueueDepth.Set(float64(len(r.queue)))
	}
}

func (r *Recorder) write(entry *Entry) {
	// The caller's context is long gone; writes get their own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.backoff * time.Duration(attempt))
		}
		if err = r.writer.CreateEntry(ctx, entry); err == nil {
			r.metrics.AuditEntriesTotal.WithLabelValues(string(entry.Severity)).Inc()
			return
		}
		r.metrics.AuditWriteFailures.Inc()
	}

	r.metrics.AuditDroppedTotal.Inc()
	r.log.WithError(err).WithFields(logrus.Fields{
		"event":  entry.Event,
		"module": entry.Module,
	}).Error("failed to write audit entry after retries")
}

// Close stops accepting entries and drains the queue.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	<-r.done
}

// SyncSink writes entries inline. It is used in tests and in the operational
// binary's own bookkeeping, where losing an entry to a process exit matters
// more than latency.
type SyncSink struct {
	writer Writer
	log    *logrus.Logger
}

// NewSyncSink creates a synchronous Sink over the writer.
func NewSyncSink(writer Writer, log *logrus.Logger) *SyncSink {
	if log == nil {
		log = logrus.New()
	}
	return &SyncSink{writer: writer, log: log}
}

func (s *SyncSink) Record(ctx context.Context, entry *Entry) {
	if entry == nil {
		return
	}
	Stamp(ctx, entry)
	if err := s.writer.CreateEntry(ctx, entry); err != nil {
		s.log.WithError(err).WithField("event", entry.Event).Error("failed to write audit entry")
	}
}

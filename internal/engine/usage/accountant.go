// Package usage records what admitted callers did, off the request path.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"divgate/internal/pkg/metrics"
	"divgate/internal/pkg/parser"
	"divgate/internal/platform/models"
)

// Event is one finished request as seen by the HTTP layer.
type Event struct {
	CredentialID string
	AccountID    string
	Tier         string
	Endpoint     string
	Method       string
	StatusCode   int
	ClientIP     string
	UserAgent    string
	Latency      time.Duration
	At           time.Time
}

// AuditSink stores audit records.
type AuditSink interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
}

// LastUsedToucher updates a credential's last-used timestamp.
type LastUsedToucher interface {
	TouchLastUsed(ctx context.Context, credentialID string, at time.Time) error
}

// Flusher persists buffered counter state. For stores that write through it
// can be nil.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

type Config struct {
	QueueSize     int
	Workers       int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Metrics       *metrics.Collector
}

// Accountant drains usage events through a bounded queue. Record never
// blocks; when the queue is full the event is dropped and counted.
type Accountant struct {
	audit   AuditSink
	touch   LastUsedToucher
	flusher Flusher
	cfg     Config
	metrics *metrics.Collector

	queue chan Event
	wg    sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewAccountant(audit AuditSink, touch LastUsedToucher, flusher Flusher, cfg Config) *Accountant {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Accountant{
		audit:   audit,
		touch:   touch,
		flusher: flusher,
		cfg:     cfg,
		metrics: cfg.Metrics,
		queue:   make(chan Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the workers and, when configured, the periodic flusher.
func (a *Accountant) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}

	go a.flushLoop(ctx)
}

// Record enqueues ev. It returns false if the event was dropped.
func (a *Accountant) Record(ev Event) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.stopped {
		a.metrics.ObserveUsageDropped()
		return false
	}

	select {
	case a.queue <- ev:
		a.metrics.SetQueueDepth(len(a.queue))
		return true
	default:
		a.metrics.ObserveUsageDropped()
		log.Warn().Str("credential_id", ev.CredentialID).Msg("usage queue full, dropping event")
		return false
	}
}

// Stop drains queued events, runs a final flush and returns. Events
// recorded after Stop are dropped.
func (a *Accountant) Stop(ctx context.Context) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	close(a.queue)
	a.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		log.Warn().Int("pending", len(a.queue)).Msg("usage accountant stopped before draining queue")
	}

	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	a.flush(ctx)
}

func (a *Accountant) worker() {
	defer a.wg.Done()

	for ev := range a.queue {
		a.metrics.SetQueueDepth(len(a.queue))
		a.handle(ev)
	}
}

func (a *Accountant) handle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic while recording usage")
		}
	}()

	if ev.CredentialID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
	defer cancel()

	if a.audit != nil {
		if err := a.audit.Append(ctx, toRecord(ev)); err != nil {
			a.metrics.ObserveSinkError("audit")
			log.Error().Err(err).Str("credential_id", ev.CredentialID).Msg("failed to append audit record")
		} else {
			a.metrics.ObserveUsageRecorded()
		}
	}

	if a.touch != nil {
		if err := a.touch.TouchLastUsed(ctx, ev.CredentialID, ev.At); err != nil {
			a.metrics.ObserveSinkError("last_used")
			log.Error().Err(err).Str("credential_id", ev.CredentialID).Msg("failed to update last_used_at")
		}
	}
}

func (a *Accountant) flushLoop(ctx context.Context) {
	defer close(a.done)

	if a.flusher == nil || a.cfg.FlushInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
			a.flush(flushCtx)
			cancel()
		}
	}
}

func (a *Accountant) flush(ctx context.Context) {
	if a.flusher == nil {
		return
	}
	n, err := a.flusher.Flush(ctx)
	if err != nil {
		a.metrics.ObserveSinkError("windows")
		log.Error().Err(err).Msg("failed to flush usage windows")
		return
	}
	if n > 0 {
		a.metrics.ObserveFlushed(n)
		log.Debug().Int("windows", n).Msg("flushed usage windows")
	}
}

func toRecord(ev Event) *models.AuditRecord {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return &models.AuditRecord{
		ID:           "aud_" + uuid.New().String(),
		AccountID:    ev.AccountID,
		CredentialID: ev.CredentialID,
		Endpoint:     ev.Endpoint,
		Method:       ev.Method,
		StatusCode:   ev.StatusCode,
		ClientIP:     ev.ClientIP,
		UserAgent:    ev.UserAgent,
		ClientKind:   parser.ClientKind(ev.UserAgent),
		LatencyMS:    ev.Latency.Milliseconds(),
		CreatedAt:    at.Unix(),
	}
}

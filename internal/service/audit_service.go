package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/audit"
)

// AuditService decouples audit writes from the request path with a
// buffered channel and a background worker. Slow sinks (file stores on
// contended disks) delay only the worker; under sustained pressure
// records are dropped and counted rather than stalling admission or
// execution.
type AuditService struct {
	store   audit.Store
	records chan audit.Record
	wg      sync.WaitGroup
	logger  *slog.Logger

	channelSize int
	sendTimeout time.Duration
	dropCount   atomic.Int64

	warningThreshold int
	lastWarning      atomic.Int64
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithChannelSize sets the size of the record buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.records = make(chan audit.Record, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure budget. Zero drops immediately
// when the buffer is full; positive blocks up to the timeout first.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the buffer depth warning percentage
// (0-100). A warning is logged when depth crosses the threshold.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.warningThreshold = percent
	}
}

// NewAuditService wraps a store with asynchronous record delivery.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	const defaultChannelSize = 1000
	s := &AuditService{
		store:            store,
		records:          make(chan audit.Record, defaultChannelSize),
		logger:           logger,
		channelSize:      defaultChannelSize,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background worker.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Stop closes the buffer and waits for the worker to drain it.
func (s *AuditService) Stop() {
	close(s.records)
	s.wg.Wait()
}

// Record hands the entry to the worker. Fast path is a non-blocking
// send; when the buffer is full the caller blocks up to sendTimeout,
// then the record is dropped and counted.
func (s *AuditService) Record(_ context.Context, rec audit.Record) {
	if s.warningThreshold > 0 {
		depth := len(s.records)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnDepth(depth)
		}
	}

	select {
	case s.records <- rec:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(rec)
		return
	}

	select {
	case s.records <- rec:
	case <-time.After(s.sendTimeout):
		s.recordDrop(rec)
	}
}

// List reads through to the underlying store. Recently recorded
// entries may still be in flight in the buffer.
func (s *AuditService) List(ctx context.Context, tenantID string, limit int) ([]audit.Record, error) {
	return s.store.List(ctx, tenantID, limit)
}

// DroppedRecords returns the total records dropped under backpressure.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the current buffer usage.
func (s *AuditService) ChannelDepth() int {
	return len(s.records)
}

func (s *AuditService) recordDrop(rec audit.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit record dropped",
		"event_type", rec.EventType,
		"tenant_id", rec.TenantID,
		"total_drops", drops,
	)
}

// warnDepth logs a capacity warning, rate-limited to once per second.
func (s *AuditService) warnDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit buffer approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// worker forwards buffered records to the store until the buffer is
// closed or ctx is cancelled. On cancellation the remaining records are
// drained with a bounded deadline so shutdown never hangs on the sink.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case rec, ok := <-s.records:
			if !ok {
				return
			}
			s.store.Record(ctx, rec)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for {
				select {
				case rec, ok := <-s.records:
					if !ok {
						cancel()
						return
					}
					s.store.Record(drainCtx, rec)
				case <-drainCtx.Done():
					cancel()
					return
				}
			}
		}
	}
}

// Compile-time interface verification.
var _ audit.Store = (*AuditService)(nil)

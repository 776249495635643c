package service

import (
	"context"
	"testing"
	"time"

	"github.com/Command-Relay/commandrelay/internal/adapter/outbound/memory"
	"github.com/Command-Relay/commandrelay/internal/domain/audit"
)

func TestAuditService_DeliversRecords(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore(100)
	svc := NewAuditService(store, nil)
	svc.Start(context.Background())

	svc.Record(context.Background(), audit.Record{
		TenantID:  "tenant-a",
		EventType: audit.EventTypePolicyCreate,
	})
	svc.Stop()

	records, err := store.List(context.Background(), "tenant-a", 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0].EventType != audit.EventTypePolicyCreate {
		t.Errorf("EventType = %q", records[0].EventType)
	}
}

func TestAuditService_DropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore(100)
	svc := NewAuditService(store, nil,
		WithChannelSize(1),
		WithSendTimeout(0),
	)
	// Worker deliberately not started, so the buffer never drains.

	svc.Record(context.Background(), audit.Record{TenantID: "t"})
	svc.Record(context.Background(), audit.Record{TenantID: "t"})

	if got := svc.DroppedRecords(); got != 1 {
		t.Errorf("DroppedRecords() = %d, want 1", got)
	}
	if got := svc.ChannelDepth(); got != 1 {
		t.Errorf("ChannelDepth() = %d, want 1", got)
	}
}

func TestAuditService_SendTimeoutBlocksThenDrops(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore(100)
	svc := NewAuditService(store, nil,
		WithChannelSize(1),
		WithSendTimeout(20*time.Millisecond),
	)

	svc.Record(context.Background(), audit.Record{TenantID: "t"})

	start := time.Now()
	svc.Record(context.Background(), audit.Record{TenantID: "t"})
	elapsed := time.Since(start)

	if got := svc.DroppedRecords(); got != 1 {
		t.Errorf("DroppedRecords() = %d, want 1", got)
	}
	if elapsed < 15*time.Millisecond {
		t.Errorf("second Record returned after %v, expected to wait for the send timeout", elapsed)
	}
}

func TestAuditService_ListReadsThrough(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore(100)
	store.Record(context.Background(), audit.Record{TenantID: "tenant-a", EventType: "x"})

	svc := NewAuditService(store, nil)
	records, err := svc.List(context.Background(), "tenant-a", 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("len(records) = %d, want 1", len(records))
	}
}

func TestAuditService_StopDrainsPending(t *testing.T) {
	t.Parallel()

	store := memory.NewAuditStore(100)
	svc := NewAuditService(store, nil, WithChannelSize(10))
	svc.Start(context.Background())

	for i := 0; i < 5; i++ {
		svc.Record(context.Background(), audit.Record{TenantID: "tenant-a", EventType: "x"})
	}
	svc.Stop()

	records, err := store.List(context.Background(), "tenant-a", 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("len(records) = %d, want 5", len(records))
	}
}

package service

import (
	"sync"
	"testing"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
)

func TestStore_PublishOnlyIfNewer(t *testing.T) {
	s := NewStore[domain.StatusSnapshot]()

	if s.Latest() != nil {
		t.Fatal("expected nil before first population")
	}

	first := &domain.StatusSnapshot{State: domain.LifecycleTrial, FetchedAt: 1}
	if !s.Publish(first, 1) {
		t.Fatal("expected the first publish to apply")
	}

	// A slow fetch that started earlier finishes after a newer one: the
	// newer value must survive regardless of completion order.
	newer := &domain.StatusSnapshot{State: domain.LifecycleActive, FetchedAt: 3}
	if !s.Publish(newer, 3) {
		t.Fatal("expected the newer publish to apply")
	}
	stale := &domain.StatusSnapshot{State: domain.LifecycleSuspended, FetchedAt: 2}
	if s.Publish(stale, 2) {
		t.Fatal("expected the stale publish to be rejected")
	}

	if got := s.Latest(); got.State != domain.LifecycleActive {
		t.Errorf("expected the store to hold the newest value, got %s", got.State)
	}
	if s.LastSeq() != 3 {
		t.Errorf("expected last seq 3, got %d", s.LastSeq())
	}
}

func TestStore_ClearKeepsSeqFloor(t *testing.T) {
	s := NewStore[domain.StatusSnapshot]()
	s.Publish(&domain.StatusSnapshot{State: domain.LifecycleActive, FetchedAt: 5}, 5)

	s.Clear()
	if s.Latest() != nil {
		t.Fatal("expected nil after clear")
	}

	// An in-flight result from before the clear still loses.
	if s.Publish(&domain.StatusSnapshot{State: domain.LifecycleTrial, FetchedAt: 4}, 4) {
		t.Error("expected a pre-clear result to be rejected")
	}
	if !s.Publish(&domain.StatusSnapshot{State: domain.LifecycleTrial, FetchedAt: 6}, 6) {
		t.Error("expected a post-clear result to apply")
	}
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore[domain.DashboardSummary]()
	s.Publish(&domain.DashboardSummary{Properties: 1}, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if v := s.Latest(); v == nil {
					t.Error("reader observed nil after publish")
					return
				}
			}
		}()
	}
	for seq := uint64(2); seq <= 20; seq++ {
		s.Publish(&domain.DashboardSummary{Properties: int(seq)}, seq)
	}
	wg.Wait()
}

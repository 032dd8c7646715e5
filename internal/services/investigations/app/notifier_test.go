package app

import (
	"sync"
	"testing"
	"time"

	"github.com/corvid-labs/fieldaudit/internal/services/investigations/domain"
)

type countingNotifier struct {
	mu        sync.Mutex
	started   int
	results   int
	statuses  int
	completed int
}

func (n *countingNotifier) ExecutionStarted(string, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
}

func (n *countingNotifier) ResultAdded(string, *domain.Finding) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results++
}

func (n *countingNotifier) StatusChanged(string, domain.ExecutionStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses++
}

func (n *countingNotifier) ExecutionCompleted(string, int64, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed++
}

func TestAsyncNotifierDeliversInOrder(t *testing.T) {
	t.Parallel()

	sink := &countingNotifier{}
	notifier := newAsyncNotifier(sink, 16)

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	notifier.ExecutionStarted("exec-1", now)
	for i := 0; i < 5; i++ {
		notifier.ResultAdded("exec-1", &domain.Finding{Severity: domain.SeverityInfo, Message: "finding"})
	}
	notifier.StatusChanged("exec-1", domain.ExecutionStatusCompleted)
	notifier.ExecutionCompleted("exec-1", 5, now)
	notifier.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.started != 1 || sink.results != 5 || sink.statuses != 1 || sink.completed != 1 {
		t.Fatalf("delivered started=%d results=%d statuses=%d completed=%d, want 1/5/1/1",
			sink.started, sink.results, sink.statuses, sink.completed)
	}
}

func TestAsyncNotifierDropsNilFinding(t *testing.T) {
	t.Parallel()

	sink := &countingNotifier{}
	notifier := newAsyncNotifier(sink, 16)
	notifier.ResultAdded("exec-1", nil)
	notifier.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.results != 0 {
		t.Fatalf("nil finding delivered %d results, want 0", sink.results)
	}
}

func TestAsyncNotifierCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	notifier := newAsyncNotifier(&countingNotifier{}, 1)
	notifier.Close()
	notifier.Close()
}

func TestAsyncNotifierDropsEventsAfterClose(t *testing.T) {
	t.Parallel()

	sink := &countingNotifier{}
	notifier := newAsyncNotifier(sink, 16)
	notifier.Close()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	notifier.ExecutionStarted("exec-1", now)
	notifier.ResultAdded("exec-1", &domain.Finding{Severity: domain.SeverityInfo, Message: "finding"})
	notifier.StatusChanged("exec-1", domain.ExecutionStatusCompleted)
	notifier.ExecutionCompleted("exec-1", 1, now)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.started != 0 || sink.results != 0 || sink.statuses != 0 || sink.completed != 0 {
		t.Fatalf("delivered started=%d results=%d statuses=%d completed=%d after close, want 0/0/0/0",
			sink.started, sink.results, sink.statuses, sink.completed)
	}
}

package app

import (
	"log"
	"sync"
	"time"

	"github.com/corvid-labs/fieldaudit/internal/services/investigations/domain"
)

const defaultNotifyQueueSize = 256

// logNotifier writes lifecycle events to the process log.
type logNotifier struct{}

func (logNotifier) ExecutionStarted(executionID string, startedAt time.Time) {
	log.Printf("execution %s started at %s", executionID, startedAt.Format(time.RFC3339))
}

func (logNotifier) ResultAdded(executionID string, finding *domain.Finding) {
	if finding == nil {
		log.Printf("execution %s result notification missing finding", executionID)
		return
	}
	log.Printf("execution %s result [%s] %s", executionID, finding.Severity, finding.Message)
}

func (logNotifier) StatusChanged(executionID string, status domain.ExecutionStatus) {
	log.Printf("execution %s status %s", executionID, status)
}

func (logNotifier) ExecutionCompleted(executionID string, finalCount int64, completedAt time.Time) {
	log.Printf("execution %s completed at %s with %d results", executionID, completedAt.Format(time.RFC3339), finalCount)
}

var _ domain.Notifier = logNotifier{}

type notifyEvent func(sink domain.Notifier)

// asyncNotifier decorates a notifier with a bounded dispatch queue so
// notification work never blocks or fails the persistence path. When the
// queue is full, or the notifier is already closed, events are dropped with
// a warning.
type asyncNotifier struct {
	sink  domain.Notifier
	queue chan notifyEvent
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newAsyncNotifier(sink domain.Notifier, queueSize int) *asyncNotifier {
	if sink == nil {
		sink = domain.NopNotifier{}
	}
	if queueSize <= 0 {
		queueSize = defaultNotifyQueueSize
	}
	n := &asyncNotifier{
		sink:  sink,
		queue: make(chan notifyEvent, queueSize),
		done:  make(chan struct{}),
	}
	go n.dispatch()
	return n
}

func (n *asyncNotifier) dispatch() {
	defer close(n.done)
	for event := range n.queue {
		event(n.sink)
	}
}

// Close stops the dispatcher after draining queued events. Events fired
// after Close are dropped, not delivered.
func (n *asyncNotifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}

func (n *asyncNotifier) enqueue(kind string, event notifyEvent) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		log.Printf("notifier closed, dropping %s event", kind)
		return
	}
	select {
	case n.queue <- event:
	default:
		log.Printf("notification queue full, dropping %s event", kind)
	}
}

func (n *asyncNotifier) ExecutionStarted(executionID string, startedAt time.Time) {
	n.enqueue("started", func(sink domain.Notifier) {
		sink.ExecutionStarted(executionID, startedAt)
	})
}

func (n *asyncNotifier) ResultAdded(executionID string, finding *domain.Finding) {
	if finding == nil {
		log.Printf("execution %s result notification missing finding, dropping", executionID)
		return
	}
	copied := *finding
	n.enqueue("result", func(sink domain.Notifier) {
		sink.ResultAdded(executionID, &copied)
	})
}

func (n *asyncNotifier) StatusChanged(executionID string, status domain.ExecutionStatus) {
	n.enqueue("status", func(sink domain.Notifier) {
		sink.StatusChanged(executionID, status)
	})
}

func (n *asyncNotifier) ExecutionCompleted(executionID string, finalCount int64, completedAt time.Time) {
	n.enqueue("completed", func(sink domain.Notifier) {
		sink.ExecutionCompleted(executionID, finalCount, completedAt)
	})
}

var _ domain.Notifier = (*asyncNotifier)(nil)

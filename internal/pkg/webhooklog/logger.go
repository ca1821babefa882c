package webhooklog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2/log"
)

const defaultQueueSize = 1024

var ErrLoggerClosed = errors.New("webhook logger is closed")

// Appender persists a record. *Store is the production implementation.
type Appender interface {
	Append(rec Record) error
}

type entry struct {
	rec  *Record
	done chan struct{}
}

// Logger hands records to a single writer goroutine so the request path
// never waits on disk. Failures go to the operational log and Sentry.
type Logger struct {
	appender Appender
	queue    chan entry
	onError  func(error)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewLogger starts the writer goroutine. queueSize <= 0 uses the default.
func NewLogger(appender Appender, queueSize int) *Logger {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	l := &Logger{
		appender: appender,
		queue:    make(chan entry, queueSize),
		onError:  ReportFailure,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// OnError replaces the secondary sink. Used by tests.
func (l *Logger) OnError(fn func(error)) {
	if fn != nil {
		l.onError = fn
	}
}

// Log enqueues rec without blocking. A full queue drops the record.
func (l *Logger) Log(rec Record) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.onError(fmt.Errorf("%w: dropping %s record %s", ErrLoggerClosed, rec.Direction, rec.CorrelationID))
		return
	}

	select {
	case l.queue <- entry{rec: &rec}:
	default:
		l.onError(fmt.Errorf("webhook log queue full: dropping %s record %s", rec.Direction, rec.CorrelationID))
	}
}

// Flush blocks until every record enqueued before the call was written.
func (l *Logger) Flush() {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return
	}
	done := make(chan struct{})
	l.queue <- entry{done: done}
	l.mu.RUnlock()
	<-done
}

// Close drains the queue and stops the writer.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Logger) run() {
	defer l.wg.Done()
	for e := range l.queue {
		if e.rec != nil {
			if err := l.appender.Append(*e.rec); err != nil {
				l.onError(fmt.Errorf("persist %s record %s: %w", e.rec.Direction, e.rec.CorrelationID, err))
			}
		}
		if e.done != nil {
			close(e.done)
		}
	}
}

// ReportFailure is the secondary sink for errors that must not reach the
// caller.
func ReportFailure(err error) {
	if err == nil {
		return
	}
	log.Errorf("[WebhookLog] %v", err)
	if sentry.CurrentHub().Client() != nil {
		sentry.CaptureException(err)
	}
}

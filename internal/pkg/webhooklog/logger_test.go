package webhooklog

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAppender struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (a *memoryAppender) Append(rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, rec)
	return nil
}

func (a *memoryAppender) snapshot() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Record(nil), a.records...)
}

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) report(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errorSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

func TestLogger_WritesInOrder(t *testing.T) {
	app := &memoryAppender{}
	l := NewLogger(app, 0)
	defer l.Close()

	for _, id := range []string{"a", "b", "c"} {
		l.Log(Record{CorrelationID: id})
	}
	l.Flush()

	records := app.snapshot()
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].CorrelationID)
	assert.Equal(t, "c", records[2].CorrelationID)
}

func TestLogger_AppendFailureGoesToSink(t *testing.T) {
	app := &memoryAppender{err: errors.New("disk full")}
	sink := &errorSink{}
	l := NewLogger(app, 4)
	l.OnError(sink.report)
	defer l.Close()

	l.Log(Record{CorrelationID: "wh_1", Direction: DirectionReceived})
	l.Flush()

	require.Equal(t, 1, sink.count())
	assert.Contains(t, sink.errs[0].Error(), "disk full")
	assert.Contains(t, sink.errs[0].Error(), "wh_1")
}

func TestLogger_CloseDrainsAndRejects(t *testing.T) {
	app := &memoryAppender{}
	sink := &errorSink{}
	l := NewLogger(app, 16)
	l.OnError(sink.report)

	l.Log(Record{CorrelationID: "before"})
	l.Close()
	assert.Len(t, app.snapshot(), 1)

	l.Log(Record{CorrelationID: "after"})
	l.Flush()
	l.Close()
	require.Equal(t, 1, sink.count())
	assert.True(t, errors.Is(sink.errs[0], ErrLoggerClosed))
}

package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	batches [][]Notification
	err     error
}

func (r *recordingSender) Send(batch []Notification) error {
	r.batches = append(r.batches, batch)
	return r.err
}

func TestFlushNoOpOnEmptyBatch(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, QuietHours{}, nil)

	require.NoError(t, n.Flush())
	assert.Empty(t, sender.batches)
}

func TestFlushSendsOneBatchForAllPending(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, QuietHours{}, nil)

	n.Enqueue(Notification{Type: TypeQuestion, Priority: PriorityNormal})
	n.Enqueue(Notification{Type: TypeCompletion, Priority: PriorityNormal})

	require.NoError(t, n.Flush())
	require.Len(t, sender.batches, 1)
	assert.Len(t, sender.batches[0], 2)
}

func TestFlushClearsPendingEvenOnSendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("down")}
	n := New(sender, QuietHours{}, nil)
	n.Enqueue(Notification{Type: TypeQuestion, Priority: PriorityNormal})

	err := n.Flush()
	assert.Error(t, err)

	require.NoError(t, n.Flush())
	assert.Len(t, sender.batches, 1, "second flush should not resend the failed batch")
}

func TestQuietHoursSuppressesNormalPriority(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, QuietHours{StartHour: 22, EndHour: 7}, nil)
	n.now = func() time.Time { return time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC) }

	n.Enqueue(Notification{Type: TypeQuestion, Priority: PriorityNormal})
	require.NoError(t, n.Flush())
	assert.Empty(t, sender.batches)
}

func TestQuietHoursHighPriorityBypasses(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, QuietHours{StartHour: 22, EndHour: 7}, nil)
	n.now = func() time.Time { return time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC) }

	n.Enqueue(Notification{Type: TypeBlocker, Priority: PriorityHigh})
	require.NoError(t, n.Flush())
	require.Len(t, sender.batches, 1)
	assert.Len(t, sender.batches[0], 1)
}

func TestQuietHoursWrapsMidnightCorrectly(t *testing.T) {
	q := QuietHours{StartHour: 22, EndHour: 7}
	assert.True(t, q.inWindow(23))
	assert.True(t, q.inWindow(3))
	assert.False(t, q.inWindow(12))
}

func TestQuietHoursDisabledWhenStartEqualsEnd(t *testing.T) {
	q := QuietHours{StartHour: 0, EndHour: 0}
	assert.False(t, q.inWindow(0))
	assert.False(t, q.inWindow(12))
}

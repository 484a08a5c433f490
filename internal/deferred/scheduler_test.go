package deferred

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfter_Runs(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Int32
	s.After(10*time.Millisecond, func() { ran.Add(1) })
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Pending())
}

func TestTask_Cancel(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Bool
	task := s.After(50*time.Millisecond, func() { ran.Store(true) })

	assert.True(t, task.Cancel())
	assert.False(t, task.Cancel(), "second cancel is a no-op")
	assert.Equal(t, 0, s.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestTask_CancelAfterRun(t *testing.T) {
	s := NewScheduler()
	done := make(chan struct{})
	task := s.After(time.Millisecond, func() { close(done) })
	<-done
	assert.False(t, task.Cancel())

	var nilTask *Task
	assert.False(t, nilTask.Cancel())
}

func TestCancelAll(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		s.After(50*time.Millisecond, func() { ran.Add(1) })
	}
	assert.Equal(t, 5, s.CancelAll())
	assert.Equal(t, 0, s.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}

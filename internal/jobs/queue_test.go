package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(jobs []*Job) []int {
	ret := make([]int, 0, len(jobs))
	for _, j := range jobs {
		ret = append(ret, j.Line)
	}
	return ret
}

func TestWorkingSet_FIFO(t *testing.T) {
	ws := NewWorkingSet()
	for i := 1; i <= 3; i++ {
		ws.PushBack(&Job{Line: i})
	}

	job, ok := ws.PopFront()
	require.True(t, ok)
	assert.Equal(t, 1, job.Line)

	ws.PushBack(job)
	assert.Equal(t, []int{2, 3, 1}, lines(ws.Jobs()))
	assert.Equal(t, 3, ws.Len())
}

func TestWorkingSet_PushFront(t *testing.T) {
	ws := NewWorkingSet()
	ws.PushBack(&Job{Line: 1})
	ws.PushBack(&Job{Line: 2})

	job, _ := ws.PopFront()
	ws.PushFront(job)
	ws.PushFront(&Job{Line: 0})

	assert.Equal(t, []int{0, 1, 2}, lines(ws.Jobs()))
}

func TestWorkingSet_GrowsAcrossWrap(t *testing.T) {
	ws := NewWorkingSet()
	next := 1
	// rotate so the head sits mid-buffer before growing
	for range minWorkingSetCap - 2 {
		ws.PushBack(&Job{Line: next})
		next++
	}
	for range minWorkingSetCap - 3 {
		_, ok := ws.PopFront()
		require.True(t, ok)
	}
	for range 3 * minWorkingSetCap {
		ws.PushBack(&Job{Line: next})
		next++
	}

	got := lines(ws.Jobs())
	require.Len(t, got, 3*minWorkingSetCap+1)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1]+1, got[i])
	}
}

func TestWorkingSet_ZeroValueUsable(t *testing.T) {
	var ws WorkingSet
	_, ok := ws.PopFront()
	assert.False(t, ok)

	ws.PushFront(&Job{Line: 7})
	job, ok := ws.PopFront()
	require.True(t, ok)
	assert.Equal(t, 7, job.Line)
	assert.Zero(t, ws.Len())
}

package timesync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	ggrs "github.com/gschup/ggrs-sub000"
)

func fill(t *testing.T, ts *TimeSync[uint32], localAdv, remoteAdv int32, inputs func(i int) uint32) {
	t.Helper()
	for i := 0; i < 60; i++ {
		ts.AdvanceFrame(ggrs.Frame(i), inputs(i), localAdv, remoteAdv)
	}
}

func TestAdvanceFrameNoAdvantage(t *testing.T) {
	ts := New[uint32]()
	fill(t, ts, 0, 0, func(i int) uint32 { return 0 })
	assert.Equal(t, uint32(0), ts.RecommendFrameDelay(false))
}

func TestAdvanceFrameLocalAdvantage(t *testing.T) {
	ts := New[uint32]()
	fill(t, ts, 5, -5, func(i int) uint32 { return 0 })
	assert.Equal(t, uint32(0), ts.RecommendFrameDelay(false))
}

func TestAdvanceFrameSmallRemoteAdvantage(t *testing.T) {
	ts := New[uint32]()
	fill(t, ts, -1, 1, func(i int) uint32 { return 0 })
	assert.Equal(t, uint32(0), ts.RecommendFrameDelay(false))
}

func TestAdvanceFrameRemoteAdvantage(t *testing.T) {
	ts := New[uint32]()
	fill(t, ts, -4, 4, func(i int) uint32 { return 0 })
	assert.Equal(t, uint32(4), ts.RecommendFrameDelay(false))
}

func TestAdvanceFrameBigRemoteAdvantage(t *testing.T) {
	ts := New[uint32]()
	fill(t, ts, -40, 40, func(i int) uint32 { return 0 })
	assert.Equal(t, uint32(10), ts.RecommendFrameDelay(false))
}

func TestAdvanceFrameRemoteAdvantageButInputsNotIdle(t *testing.T) {
	ts := New[uint32]()
	fill(t, ts, -4, 4, func(i int) uint32 { return uint32(i) })
	assert.Equal(t, uint32(0), ts.RecommendFrameDelay(true))
}

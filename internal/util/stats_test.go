package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}

	for _, tc := range testCases {
		got := formatBytes(tc.in)
		assert.Equal(t, tc.want, got, "formatBytes(%v)", tc.in)
		assert.Len(t, got, 8)
	}
}

func TestFormatStats(t *testing.T) {
	got := formatStats(1536, 0, 2, 1)
	assert.Equal(t, "Up:  1.5 KiB/s | Down:  0.0   B/s | Peers:  2↑  1↓", got)
}

func TestStatsCounters(t *testing.T) {
	s := &stats{}
	s.AddUp(100)
	s.AddUp(50)
	s.AddDown(20)
	s.AddJoined()
	s.AddLeft()

	assert.EqualValues(t, 2, s.FramesUp.Load())
	assert.EqualValues(t, 150, s.BytesUp.Load())
	assert.EqualValues(t, 1, s.FramesDown.Load())
	assert.EqualValues(t, 20, s.BytesDown.Load())
	assert.EqualValues(t, 1, s.Joined.Load())
	assert.EqualValues(t, 1, s.Left.Load())
}

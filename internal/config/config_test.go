package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonepilot/internal/core"
)

func TestParseGestureSwipe(t *testing.T) {
	g, err := ParseGesture("swipe:540,1800,540,600,300")
	require.NoError(t, err)
	assert.Equal(t, core.GestureSwipe, g.Kind)
	assert.Equal(t, 540, g.X1)
	assert.Equal(t, 1800, g.Y1)
	assert.Equal(t, 540, g.X2)
	assert.Equal(t, 600, g.Y2)
	assert.Equal(t, 300*time.Millisecond, g.Duration)
}

func TestParseGesturePress(t *testing.T) {
	g, err := ParseGesture("press:540,1200,800")
	require.NoError(t, err)
	assert.Equal(t, core.GestureLongPress, g.Kind)
	assert.Equal(t, 540, g.X1)
	assert.Equal(t, g.X1, g.X2)
	assert.Equal(t, g.Y1, g.Y2)
	assert.Equal(t, 800*time.Millisecond, g.Duration)
}

func TestParseGestureErrors(t *testing.T) {
	cases := []string{
		"",
		"swipe",
		"swipe:1,2,3",
		"press:1,2",
		"press:a,b,c",
		"wiggle:1,2,3",
	}
	for _, spec := range cases {
		_, err := ParseGesture(spec)
		assert.Error(t, err, spec)
	}
}

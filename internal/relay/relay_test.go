package relay

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionOptionsApplyConfiguredDefaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(nil, "", 0, 0, Options{MaxSize: 1280, BitRate: 4_000_000}, logger)

	// Absent overrides fall back to the configured defaults.
	opts := m.sessionOptions(Options{})
	assert.Equal(t, 1280, opts.MaxSize)
	assert.Equal(t, 4_000_000, opts.BitRate)

	// Observer-supplied values win.
	opts = m.sessionOptions(Options{MaxSize: 720, BitRate: 1_000_000})
	assert.Equal(t, 720, opts.MaxSize)
	assert.Equal(t, 1_000_000, opts.BitRate)

	// Partial overrides mix with defaults.
	opts = m.sessionOptions(Options{MaxSize: 720})
	assert.Equal(t, 720, opts.MaxSize)
	assert.Equal(t, 4_000_000, opts.BitRate)
}

package events

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_LogsStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(zerolog.New(&buf))

	m.Emit(PositionOpened, "portfolio", map[string]interface{}{"id": "abc"})

	out := buf.String()
	assert.Contains(t, out, `"event_type":"POSITION_OPENED"`)
	assert.Contains(t, out, `"module":"portfolio"`)
	assert.Contains(t, out, `"id":"abc"`)
}

func TestEmitError(t *testing.T) {
	m := NewManager(zerolog.Nop())
	m.EmitError("engine", errors.New("boom"), map[string]interface{}{"tick": 3})

	recent := m.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, ErrorOccurred, recent[0].Type)
	assert.Equal(t, "boom", recent[0].Data["error"])
}

func TestRecent_NewestFirstAndBounded(t *testing.T) {
	m := NewManager(zerolog.Nop())
	for i := 0; i < defaultHistory+5; i++ {
		m.Emit(ContactDetected, "contact", map[string]interface{}{"n": fmt.Sprint(i)})
	}

	all := m.Recent(0)
	assert.Len(t, all, defaultHistory)
	assert.Equal(t, fmt.Sprint(defaultHistory+4), all[0].Data["n"])

	three := m.Recent(3)
	require.Len(t, three, 3)
	assert.Equal(t, fmt.Sprint(defaultHistory+2), three[2].Data["n"])
}

func TestRecent_Empty(t *testing.T) {
	m := NewManager(zerolog.Nop())
	assert.Empty(t, m.Recent(10))
}

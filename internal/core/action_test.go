package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionJSON(t *testing.T) {
	a := ParseAction(`{"action": "Tap", "x": 100, "y": 200}`)
	require.NotNil(t, a)
	assert.Equal(t, "Tap", a.Name)
	assert.Equal(t, float64(100), a.Params["x"])
	assert.Equal(t, float64(200), a.Params["y"])
}

func TestParseActionJSONEmbedded(t *testing.T) {
	a := ParseAction(`The next step is {"action": "Home"} as planned`)
	require.NotNil(t, a)
	assert.Equal(t, "Home", a.Name)
}

func TestParseActionCall(t *testing.T) {
	a := ParseAction(`Tap(x=540, y=1200)`)
	require.NotNil(t, a)
	assert.Equal(t, "Tap", a.Name)
	assert.Equal(t, float64(540), a.Params["x"])
	assert.Equal(t, float64(1200), a.Params["y"])
}

func TestParseActionCallQuoted(t *testing.T) {
	a := ParseAction(`finish(message="All done, \"settings\" saved")`)
	require.NotNil(t, a)
	assert.Equal(t, "finish", a.Name)
	assert.Equal(t, `All done, "settings" saved`, a.Message())
}

func TestParseActionCallWords(t *testing.T) {
	a := ParseAction(`Swipe(direction=up, fast=true, target=null)`)
	require.NotNil(t, a)
	assert.Equal(t, "up", a.Params["direction"])
	assert.Equal(t, true, a.Params["fast"])
	assert.Nil(t, a.Params["target"])
}

func TestParseActionDoWrapper(t *testing.T) {
	a := ParseAction(`do(action="Tap", element=[[270,110]])`)
	require.NotNil(t, a)
	assert.Equal(t, "Tap", a.Name)
	assert.NotContains(t, a.Params, "action")

	elem, ok := a.Params["element"].([]any)
	require.True(t, ok)
	require.Len(t, elem, 1)
	point, ok := elem[0].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{float64(270), float64(110)}, point)
}

func TestParseActionDoWrapperFinish(t *testing.T) {
	a := ParseAction(`do(action="Launch", app="Settings")`)
	require.NotNil(t, a)
	assert.Equal(t, "Launch", a.Name)
	assert.Equal(t, "Settings", a.Param("app"))
}

func TestParseActionBare(t *testing.T) {
	for _, raw := range []string{"Finish", "[finish]"} {
		a := ParseAction(raw)
		require.NotNil(t, a, raw)
		assert.NotEmpty(t, a.Name)
		assert.Empty(t, a.Params)
	}
}

func TestParseActionUnparseable(t *testing.T) {
	assert.Nil(t, ParseAction(""))
	assert.Nil(t, ParseAction("   "))
	assert.Nil(t, ParseAction("I could not decide what to do next."))
}

func TestActionMarshalFlat(t *testing.T) {
	a := &Action{Name: "Tap", Params: map[string]any{"x": 1, "y": 2}}
	out, err := json.Marshal(a)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "Tap", m["action"])
	assert.Equal(t, float64(1), m["x"])
}

func TestActionRoundTrip(t *testing.T) {
	var a Action
	require.NoError(t, json.Unmarshal([]byte(`{"action":"Type","text":"hello"}`), &a))
	assert.Equal(t, "Type", a.Name)
	assert.Equal(t, "hello", a.Param("text"))
}

func TestActionString(t *testing.T) {
	a := &Action{Name: "Tap", Params: map[string]any{"y": 2, "x": 1}}
	assert.Equal(t, "Tap(x=1, y=2)", a.String())
	assert.Equal(t, "Home", (&Action{Name: "Home"}).String())
	assert.Equal(t, "", (*Action)(nil).String())
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Confirm the payment", FirstLine("Confirm the payment\nthen wait"))
	assert.Equal(t, "Confirm", FirstLine(`Confirm\nthen wait`))
	assert.Equal(t, "plain", FirstLine("  plain  "))
}

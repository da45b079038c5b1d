package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonepilot/internal/core"
)

type capturedToken struct {
	phase   core.Phase
	content string
}

func collectTokens() (core.TokenFunc, *[]capturedToken) {
	var tokens []capturedToken
	return func(phase core.Phase, content string) {
		tokens = append(tokens, capturedToken{phase, content})
	}, &tokens
}

func phaseText(tokens []capturedToken, phase core.Phase) string {
	var b strings.Builder
	for _, tok := range tokens {
		if tok.phase == phase {
			b.WriteString(tok.content)
		}
	}
	return b.String()
}

func TestSplitterSwitchesAtMarker(t *testing.T) {
	onToken, tokens := collectTokens()
	sp := newSplitter(onToken)

	sp.feed("I will tap the button. ")
	sp.feed(`do(action="Tap", element=[[100,200]])`)
	sp.flush()

	assert.Equal(t, "I will tap the button. ", phaseText(*tokens, core.PhaseThinking))
	assert.Equal(t, `do(action="Tap", element=[[100,200]])`, phaseText(*tokens, core.PhaseAction))
}

func TestSplitterMarkerSplitAcrossChunks(t *testing.T) {
	onToken, tokens := collectTokens()
	sp := newSplitter(onToken)

	// The marker arrives in fragments; no fragment may leak into the
	// thinking phase.
	sp.feed("Tapping now. do(ac")
	sp.feed(`tion="Tap", x=1)`)
	sp.flush()

	assert.Equal(t, "Tapping now. ", phaseText(*tokens, core.PhaseThinking))
	assert.Equal(t, `do(action="Tap", x=1)`, phaseText(*tokens, core.PhaseAction))
}

func TestSplitterFinishMarker(t *testing.T) {
	onToken, tokens := collectTokens()
	sp := newSplitter(onToken)

	sp.feed("All steps are complete. ")
	sp.feed(`finish(message="done")`)
	sp.flush()

	assert.Equal(t, `finish(message="done")`, phaseText(*tokens, core.PhaseAction))
}

func TestSplitterStripsXMLTags(t *testing.T) {
	onToken, tokens := collectTokens()
	sp := newSplitter(onToken)

	sp.feed("<think>Reasoning about")
	sp.feed(" the screen</think>")
	sp.flush()

	assert.Equal(t, "Reasoning about the screen", phaseText(*tokens, core.PhaseThinking))
}

func TestSplitterHoldsPartialTag(t *testing.T) {
	onToken, tokens := collectTokens()
	sp := newSplitter(onToken)

	// "<thi" could be an opening tag; it must not be emitted yet.
	sp.feed("text <thi")
	assert.Equal(t, "text ", phaseText(*tokens, core.PhaseThinking))

	sp.feed("nk>more")
	sp.flush()
	assert.Equal(t, "text more", phaseText(*tokens, core.PhaseThinking))
}

func TestSplitterStripsMarkdownFences(t *testing.T) {
	onToken, tokens := collectTokens()
	sp := newSplitter(onToken)

	sp.feed("```json\nplan\n```")
	sp.flush()

	assert.Equal(t, "plan", phaseText(*tokens, core.PhaseThinking))
}

func TestSplitterNilCallback(t *testing.T) {
	sp := newSplitter(nil)
	sp.feed("anything")
	sp.flush()
}

func TestParseResponseMarker(t *testing.T) {
	thinking, action := parseResponse(`The button is at the top. do(action="Tap", element=[[100,200]])`)
	assert.Equal(t, "The button is at the top.", thinking)
	assert.Equal(t, `do(action="Tap", element=[[100,200]])`, action)
}

func TestParseResponseFinish(t *testing.T) {
	thinking, action := parseResponse(`Task complete. finish(message="dark mode enabled")`)
	assert.Equal(t, "Task complete.", thinking)
	assert.Equal(t, `finish(message="dark mode enabled")`, action)
}

func TestParseResponseAnswerTag(t *testing.T) {
	thinking, action := parseResponse("Considering options.<answer>Tap(x=1, y=2)")
	assert.Equal(t, "Considering options.", thinking)
	assert.Equal(t, "Tap(x=1, y=2)", action)
}

func TestParseResponseAllAction(t *testing.T) {
	thinking, action := parseResponse("Tap(x=1, y=2)")
	assert.Equal(t, "", thinking)
	assert.Equal(t, "Tap(x=1, y=2)", action)
}

func TestParseResponseStripsWrapping(t *testing.T) {
	thinking, action := parseResponse("<think>plan</think>do(action=\"Home\")")
	assert.Equal(t, "plan", thinking)
	assert.Equal(t, `do(action="Home")`, action)
}

func TestFinishResultParsedAction(t *testing.T) {
	a := core.ParseAction(`finish(message="saved the note")`)
	require.NotNil(t, a)

	finished, success, message := finishResult(a, "")
	assert.True(t, finished)
	assert.True(t, success)
	assert.Equal(t, "saved the note", message)
}

func TestFinishResultCaseInsensitive(t *testing.T) {
	finished, _, _ := finishResult(&core.Action{Name: "Finish"}, "")
	assert.True(t, finished)
}

func TestFinishResultUnparsedFallback(t *testing.T) {
	finished, success, message := finishResult(nil, `finish(message=broken syntax`)
	assert.True(t, finished)
	assert.True(t, success)
	assert.Equal(t, `finish(message=broken syntax`, message)
}

func TestFinishResultNonTerminal(t *testing.T) {
	finished, _, _ := finishResult(&core.Action{Name: "Tap"}, "Tap(x=1)")
	assert.False(t, finished)
}

func TestMarkerPrefixAt(t *testing.T) {
	assert.True(t, markerPrefixAt("some text do("))
	assert.True(t, markerPrefixAt("finish(message"))
	assert.True(t, markerPrefixAt("f"))
	assert.False(t, markerPrefixAt("some text done"))
	assert.False(t, markerPrefixAt(`finish(message=`)) // complete marker, not a prefix
}

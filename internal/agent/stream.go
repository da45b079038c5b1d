package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/openai/openai-go"

	"phonepilot/internal/core"
)

// actionMarkers open the action phase of a model turn. Output before a
// marker is thinking; the marker and everything after is the action.
var actionMarkers = []string{"finish(message=", "do(action="}

// repeatLimit aborts a stream stuck emitting the same chunk over and over.
const repeatLimit = 10

func (s *Session) request(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onToken core.TokenFunc) (string, error) {
	stream := s.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(s.cfg.Model),
		Messages:         messages,
		MaxTokens:        openai.Int(int64(s.cfg.MaxTokens)),
		Temperature:      openai.Float(0),
		TopP:             openai.Float(0.85),
		FrequencyPenalty: openai.Float(0.2),
	})
	defer stream.Close()

	split := newSplitter(onToken)
	var (
		raw         strings.Builder
		lastChunk   string
		repeatCount int
	)
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		raw.WriteString(content)

		if strings.TrimSpace(content) != "" {
			if content == lastChunk {
				repeatCount++
				if repeatCount >= repeatLimit {
					return "", fmt.Errorf("model output stuck repeating %q", truncate(content, 20))
				}
			} else {
				lastChunk = content
				repeatCount = 1
			}
		}
		split.feed(content)
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	split.flush()
	return raw.String(), nil
}

// splitter routes streamed content to the token callback, switching from the
// thinking phase to the action phase at the first action marker. It holds
// back buffer tails that may be a partial marker, XML tag, or markdown
// fence so observers never see a truncated fragment.
type splitter struct {
	onToken  core.TokenFunc
	inAction bool
	buf      string
}

func newSplitter(onToken core.TokenFunc) *splitter {
	return &splitter{onToken: onToken}
}

func (sp *splitter) feed(content string) {
	if sp.onToken == nil {
		return
	}
	if sp.inAction {
		sp.onToken(core.PhaseAction, content)
		return
	}
	sp.buf += content

	for _, marker := range actionMarkers {
		if i := strings.Index(sp.buf, marker); i >= 0 {
			if thinking := cleanStreamText(sp.buf[:i]); thinking != "" {
				sp.onToken(core.PhaseThinking, thinking)
			}
			sp.onToken(core.PhaseAction, sp.buf[i:])
			sp.inAction = true
			sp.buf = ""
			return
		}
	}
	if markerPrefixAt(sp.buf) {
		return
	}

	send, keep := cleanStreamBuffer(sp.buf)
	if send != "" {
		sp.onToken(core.PhaseThinking, send)
	}
	sp.buf = keep
}

func (sp *splitter) flush() {
	if sp.onToken == nil || sp.inAction || sp.buf == "" {
		return
	}
	if text := cleanStreamText(sp.buf); text != "" {
		sp.onToken(core.PhaseThinking, text)
	}
	sp.buf = ""
}

// markerPrefixAt reports whether the buffer ends with a proper prefix of an
// action marker.
func markerPrefixAt(buf string) bool {
	for _, marker := range actionMarkers {
		for i := 1; i < len(marker); i++ {
			if strings.HasSuffix(buf, marker[:i]) {
				return true
			}
		}
	}
	return false
}

var (
	xmlTagRe       = regexp.MustCompile(`</?[a-zA-Z_][a-zA-Z0-9_]*>`)
	xmlTagTailRe   = regexp.MustCompile(`</?[a-zA-Z_][a-zA-Z0-9_]*$`)
	mdFenceOpenRe  = regexp.MustCompile("```[a-zA-Z]*\n?")
	mdFenceCloseRe = regexp.MustCompile("\n?```")
	mdFenceTailRe  = regexp.MustCompile("`{1,3}[a-zA-Z]*$")
)

// cleanStreamText strips XML tags and markdown fences from content that is
// sent in one piece.
func cleanStreamText(s string) string {
	s = xmlTagRe.ReplaceAllString(s, "")
	s = mdFenceOpenRe.ReplaceAllString(s, "")
	s = mdFenceCloseRe.ReplaceAllString(s, "")
	return s
}

// cleanStreamBuffer strips tags and fences but keeps a possibly unfinished
// tag or fence at the tail for the next feed.
func cleanStreamBuffer(s string) (send, keep string) {
	s = cleanStreamText(s)
	if m := xmlTagTailRe.FindStringIndex(s); m != nil {
		return s[:m[0]], s[m[0]:]
	}
	if strings.HasSuffix(s, "<") {
		return s[:len(s)-1], "<"
	}
	if m := mdFenceTailRe.FindStringIndex(s); m != nil {
		return s[:m[0]], s[m[0]:]
	}
	return s, ""
}

// parseResponse splits a complete model turn into thinking and action text.
func parseResponse(raw string) (thinking, action string) {
	for _, marker := range actionMarkers {
		if i := strings.Index(raw, marker); i >= 0 {
			return cleanThinking(raw[:i]), cleanAction(raw[i:])
		}
	}
	if i := strings.Index(raw, "<answer>"); i >= 0 {
		return cleanThinking(raw[:i]), cleanAction(raw[i+len("<answer>"):])
	}
	return "", cleanAction(raw)
}

func cleanThinking(s string) string {
	return strings.TrimSpace(cleanStreamText(s))
}

func cleanAction(s string) string {
	return strings.TrimSpace(cleanStreamText(s))
}

// finishResult detects the terminal action of a turn.
func finishResult(a *core.Action, actionText string) (finished, success bool, message string) {
	if a != nil && strings.EqualFold(a.Name, "finish") {
		return true, true, a.Message()
	}
	if a == nil && strings.HasPrefix(strings.TrimSpace(actionText), "finish(") {
		return true, true, strings.TrimSpace(actionText)
	}
	return false, false, ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Action is the structured record an agent step resolves to: an action name
// plus named parameters. It serializes flat, as {"action": name, ...params},
// which is the shape observers and the step log store.
type Action struct {
	Name   string
	Params map[string]any
}

func (a *Action) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Params)+1)
	for k, v := range a.Params {
		out[k] = v
	}
	out["action"] = a.Name
	return json.Marshal(out)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	name, _ := raw["action"].(string)
	delete(raw, "action")
	a.Name = name
	a.Params = raw
	return nil
}

// Param returns a string parameter, or "" when absent or non-string.
func (a *Action) Param(key string) string {
	if a == nil || a.Params == nil {
		return ""
	}
	s, _ := a.Params[key].(string)
	return s
}

// Message returns the action's message parameter, the conventional carrier
// for finish results and pause prompts.
func (a *Action) Message() string { return a.Param("message") }

// String renders the action in call form, for logs and summaries.
func (a *Action) String() string {
	if a == nil {
		return ""
	}
	if len(a.Params) == 0 {
		return a.Name
	}
	keys := make([]string, 0, len(a.Params))
	for k := range a.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, a.Params[k]))
	}
	return a.Name + "(" + strings.Join(parts, ", ") + ")"
}

var (
	jsonActionRe = regexp.MustCompile(`(?s)\{.*?"action".*?\}`)
	callActionRe = regexp.MustCompile(`(?s)^(\w+)\((.*)\)$`)
	callParamRe  = regexp.MustCompile(`(\w+)\s*=\s*("((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)'|(\[[\d\s,.\[\]]*\])|(-?\d+(?:\.\d+)?)|(\w+))`)
	bareActionRe = regexp.MustCompile(`^\[?(\w+)\]?$`)
)

// ParseAction turns the raw action text a model emits into a structured
// Action. Three shapes are recognized, in order:
//
//	{"action": "Tap", "x": 100, "y": 200}
//	Tap(x=100, y=200)
//	Finish  /  [finish]
//
// Unparseable input yields nil; callers keep the raw text as fallback.
func ParseAction(raw string) *Action {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	if m := jsonActionRe.FindString(s); m != "" {
		var a Action
		if err := json.Unmarshal([]byte(m), &a); err == nil && a.Name != "" {
			return &a
		}
	}

	if m := callActionRe.FindStringSubmatch(s); m != nil {
		a := &Action{Name: m[1], Params: map[string]any{}}
		for _, p := range callParamRe.FindAllStringSubmatch(m[2], -1) {
			key := p[1]
			switch {
			case p[3] != "":
				a.Params[key] = unescapeQuoted(p[3])
			case p[4] != "":
				a.Params[key] = unescapeQuoted(p[4])
			case p[5] != "":
				var list any
				if err := json.Unmarshal([]byte(p[5]), &list); err == nil {
					a.Params[key] = list
				} else {
					a.Params[key] = p[5]
				}
			case p[6] != "":
				if n, err := strconv.ParseFloat(p[6], 64); err == nil {
					a.Params[key] = n
				} else {
					a.Params[key] = p[6]
				}
			default:
				a.Params[key] = parseWord(p[7])
			}
		}
		// do(action="Tap", ...) wraps the real action name in a
		// parameter; unwrap it.
		if a.Name == "do" {
			if name := a.Param("action"); name != "" {
				a.Name = name
				delete(a.Params, "action")
			}
		}
		return a
	}

	if m := bareActionRe.FindStringSubmatch(s); m != nil {
		return &Action{Name: m[1], Params: map[string]any{}}
	}

	return nil
}

func unescapeQuoted(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\'`, `'`)
	return s
}

func parseWord(w string) any {
	switch strings.ToLower(w) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	return w
}

// FirstLine trims a possibly multi-line prompt down to its first line, the
// way pause prompts are shown to operators. Literal "\n" sequences count as
// line breaks too.
func FirstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, `\n`); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Package agent runs the model loop that drives a device. Each session
// holds one streaming chat conversation: every step sends the current
// screen, reads the model's thinking and action, and performs the action
// on the device.
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"phonepilot/internal/core"
)

// Config holds the model endpoint settings for agent sessions.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Lang      string
	MaxTokens int
	// SystemPrompt is appended to the built-in prompt as extra rules.
	SystemPrompt string
}

// Factory opens agent sessions. Implements core.AgentFactory.
type Factory struct {
	cfg       Config
	actuators core.ActuatorFactory
	logger    *slog.Logger
}

func NewFactory(cfg Config, actuators core.ActuatorFactory, logger *slog.Logger) *Factory {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 3000
	}
	return &Factory{cfg: cfg, actuators: actuators, logger: logger}
}

func (f *Factory) NewAgent(deviceSerial string) (core.Agent, error) {
	if f.cfg.APIKey == "" {
		return nil, fmt.Errorf("agent model api key not configured")
	}
	opts := []option.RequestOption{option.WithAPIKey(f.cfg.APIKey)}
	if f.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(f.cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &Session{
		cfg:    f.cfg,
		client: &client,
		act:    f.actuators.Actuator(deviceSerial),
		logger: f.logger.With("device", deviceSerial),
	}, nil
}

// Session is one conversation with the model, bound to one device.
type Session struct {
	cfg    Config
	client *openai.Client
	act    core.Actuator
	logger *slog.Logger

	mu      sync.Mutex
	history []openai.ChatCompletionMessageParamUnion
}

// Step captures the screen, requests the next model turn, and performs the
// resulting device action. instruction carries the task command on the first
// call and operator continuations after a pause; "" means keep going.
func (s *Session) Step(ctx context.Context, instruction string, onToken core.TokenFunc) (*core.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shot, err := s.act.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	shotB64 := base64.StdEncoding.EncodeToString(shot)

	if len(s.history) == 0 {
		s.history = append(s.history, openai.SystemMessage(systemPrompt(s.cfg.Lang, s.cfg.SystemPrompt)))
	}

	userText := instruction
	if userText == "" {
		userText = "** screenshot **"
	}
	messages := append(append([]openai.ChatCompletionMessageParamUnion{}, s.history...),
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(userText),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:image/png;base64," + shotB64,
			}),
		}))

	raw, err := s.request(ctx, messages, onToken)
	if err != nil {
		return nil, fmt.Errorf("model request: %w", err)
	}

	// Only the latest screenshot stays in context; past turns keep their
	// text so the model remembers what it did, not what it saw.
	s.history = append(s.history, openai.UserMessage(userText), openai.AssistantMessage(raw))

	thinking, actionText := parseResponse(raw)
	res := &core.StepResult{
		Thinking:   thinking,
		Raw:        actionText,
		Screenshot: shotB64,
	}
	if res.Raw == "" {
		res.Raw = raw
	}
	res.Action = core.ParseAction(actionText)

	if finished, success, message := finishResult(res.Action, actionText); finished {
		res.Finished = finished
		res.Success = success
		res.Message = message
		return res, nil
	}

	if res.Action != nil {
		if err := s.perform(ctx, res.Action); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Close drops the conversation history.
func (s *Session) Close() error {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	return nil
}

package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/meander-labs/voicetrace/src/frames"
	"github.com/meander-labs/voicetrace/src/processors"
)

// Tool pairs a function declaration with its local implementation. The
// declaration is advertised to the model; Run executes when the model calls
// it.
type Tool struct {
	Declaration *genai.FunctionDeclaration
	Run         func(ctx context.Context, args map[string]any) (string, error)
}

// AgentService turns final transcriptions into streamed model responses.
// Each response is pushed downstream as incremental TextFrames, closed by an
// AgentResponseEndFrame. Tool calls run inline between model rounds, with
// ToolCallFrame and ToolResultFrame emitted so the rest of the pipeline can
// observe them.
type AgentService struct {
	*processors.BaseProcessor
	cfg     AgentConfig
	client  *genai.Client
	history []*genai.Content
	tools   map[string]Tool
}

// AgentConfig holds configuration for the Gemini agent.
type AgentConfig struct {
	APIKey       string
	Model        string // e.g. "gemini-2.0-flash"
	SystemPrompt string
	Temperature  float32
	Tools        []Tool

	// MaxToolRounds bounds tool-call loops within one user turn. Default 4.
	MaxToolRounds int
}

// NewAgentService creates a Gemini agent stage.
func NewAgentService(cfg AgentConfig) *AgentService {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxToolRounds == 0 {
		cfg.MaxToolRounds = 4
	}

	s := &AgentService{
		cfg:   cfg,
		tools: make(map[string]Tool, len(cfg.Tools)),
	}
	for _, t := range cfg.Tools {
		s.tools[t.Declaration.Name] = t
	}
	s.BaseProcessor = processors.NewBaseProcessor("GeminiAgent", s)
	return s
}

// ClearHistory drops the accumulated conversation.
func (s *AgentService) ClearHistory() {
	s.history = nil
}

func (s *AgentService) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	t, ok := frame.(*frames.TranscriptionFrame)
	if !ok || !t.Final {
		// Interim transcriptions and everything else pass through.
		return s.PushFrame(frame, direction)
	}

	if err := s.respond(ctx, t.Text); err != nil {
		s.Log().Error().Err(err).Msg("generation failed")
		s.PushFrame(frames.NewErrorFrame(err), frames.Upstream)
	}
	// Close the response even on error so downstream stages can flush.
	return s.PushFrame(frames.NewAgentResponseEndFrame(), frames.Downstream)
}

func (s *AgentService) ensureClient(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("create genai client: %w", err)
	}
	s.client = client
	s.Log().Debug().Str("model", s.cfg.Model).Msg("agent client ready")
	return nil
}

func (s *AgentService) generateConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(s.cfg.Temperature),
	}
	if s.cfg.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(s.cfg.SystemPrompt, genai.RoleUser)
	}
	if len(s.tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(s.tools))
		for _, t := range s.cfg.Tools {
			decls = append(decls, t.Declaration)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// respond runs one user turn: stream the model output, resolve any tool
// calls, and keep going until the model produces a round with no calls.
func (s *AgentService) respond(ctx context.Context, userText string) error {
	if err := s.ensureClient(ctx); err != nil {
		return err
	}

	s.history = append(s.history, genai.NewContentFromText(userText, genai.RoleUser))
	cfg := s.generateConfig()

	for round := 0; round < s.cfg.MaxToolRounds; round++ {
		reply, calls, err := s.streamRound(ctx, cfg)
		if err != nil {
			return err
		}
		if reply != "" {
			s.history = append(s.history, genai.NewContentFromText(reply, genai.RoleModel))
		}
		if len(calls) == 0 {
			return nil
		}
		if err := s.runTools(ctx, calls); err != nil {
			return err
		}
	}
	return fmt.Errorf("model did not settle after %d tool rounds", s.cfg.MaxToolRounds)
}

// streamRound issues one streaming generation over the current history,
// pushing each text chunk downstream as it arrives.
func (s *AgentService) streamRound(ctx context.Context, cfg *genai.GenerateContentConfig) (string, []*genai.FunctionCall, error) {
	var full strings.Builder
	var calls []*genai.FunctionCall

	for resp, err := range s.client.Models.GenerateContentStream(ctx, s.cfg.Model, s.history, cfg) {
		if err != nil {
			return full.String(), calls, fmt.Errorf("stream generation: %w", err)
		}
		if chunk := resp.Text(); chunk != "" {
			full.WriteString(chunk)
			if err := s.PushFrame(frames.NewTextFrame(chunk), frames.Downstream); err != nil {
				return full.String(), calls, err
			}
		}
		calls = append(calls, resp.FunctionCalls()...)
	}

	s.Log().Debug().Int("chars", full.Len()).Int("tool_calls", len(calls)).Msg("model round complete")
	return full.String(), calls, nil
}

func (s *AgentService) runTools(ctx context.Context, calls []*genai.FunctionCall) error {
	for _, call := range calls {
		s.history = append(s.history, genai.NewContentFromParts(
			[]*genai.Part{{FunctionCall: call}}, genai.RoleModel))
		s.PushFrame(frames.NewToolCallFrame(call.ID, call.Name, call.Args), frames.Downstream)

		result, err := s.runTool(ctx, call)
		if err != nil {
			result = fmt.Sprintf("error: %v", err)
		}
		s.PushFrame(frames.NewToolResultFrame(call.ID, call.Name, result), frames.Downstream)
		s.history = append(s.history, genai.NewContentFromParts([]*genai.Part{{
			FunctionResponse: &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: map[string]any{"result": result},
			},
		}}, genai.RoleUser))
	}
	return nil
}

func (s *AgentService) runTool(ctx context.Context, call *genai.FunctionCall) (string, error) {
	tool, ok := s.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	s.Log().Debug().Str("tool", call.Name).Msg("running tool")
	return tool.Run(ctx, call.Args)
}

package perception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"taskpilot/internal/logging"
	"taskpilot/internal/types"
)

// GeminiClient implements LLMClient for the Gemini API via the genai SDK.
type GeminiClient struct {
	client          *genai.Client
	model           string
	maxOutputTokens int32
	temperature     float32
	mu              sync.Mutex
}

// DefaultGeminiConfig returns sensible defaults for tool calling.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:          apiKey,
		Model:           "gemini-2.5-flash",
		Timeout:         60 * time.Second,
		MaxOutputTokens: 1024,
		Temperature:     0.1,
	}
}

// NewGeminiClient creates a Gemini client. BaseURL is only set to point at a
// proxy or a test server.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	def := DefaultGeminiConfig(config.APIKey)
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = def.MaxOutputTokens
	}

	timeout := config.Timeout
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL: config.BaseURL,
			Timeout: &timeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{
		client:          client,
		model:           config.Model,
		maxOutputTokens: int32(config.MaxOutputTokens),
		temperature:     config.Temperature,
	}, nil
}

// GetModel returns the current model name.
func (c *GeminiClient) GetModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// CompleteWithTools sends the conversation with function declarations.
func (c *GeminiClient) CompleteWithTools(ctx context.Context, systemPrompt string, history []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	startTime := time.Now()
	model := c.GetModel()
	logging.PerceptionDebug("[Gemini] CompleteWithTools: model=%s messages=%d tools=%d", model, len(history), len(tools))

	temp := c.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: c.maxOutputTokens,
	}
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if len(tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: MapToolDefinitionsToGemini(tools)}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, MapHistoryToGemini(history), cfg)
	if err != nil {
		logging.PerceptionError("[Gemini] CompleteWithTools: failed after %v: %v", time.Since(startTime), err)
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: gemini: %w: %s", types.ErrUpstreamUnavailable, types.ErrRateLimited, apiErr.Message)
		}
		return nil, fmt.Errorf("%w: gemini: %w", types.ErrUpstreamUnavailable, err)
	}

	out := &types.LLMToolResponse{Text: strings.TrimSpace(resp.Text())}
	for _, fc := range resp.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil {
			return nil, fmt.Errorf("%w: gemini: arguments for %s: %w", types.ErrUpstreamUnavailable, fc.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: fc.ID, Name: fc.Name, Arguments: args})
	}
	finish := ""
	if len(resp.Candidates) > 0 {
		finish = string(resp.Candidates[0].FinishReason)
	}
	out.StopReason = stopReason(finish, len(out.ToolCalls) > 0)
	if u := resp.UsageMetadata; u != nil {
		out.Usage = types.UsageMetadata{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}

	logging.Perception("[Gemini] CompleteWithTools: completed in %v tool_calls=%d stop=%s",
		time.Since(startTime), len(out.ToolCalls), out.StopReason)
	return out, nil
}

// MapToolDefinitionsToGemini converts tool definitions to function declarations.
// The JSON Schema is passed through unchanged.
func MapToolDefinitionsToGemini(tools []types.ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.InputSchema,
		}
	}
	return decls
}

// MapHistoryToGemini converts the conversation to genai contents. Consecutive
// tool results are grouped into one user turn of function responses.
func MapHistoryToGemini(history []types.Message) []*genai.Content {
	var contents []*genai.Content
	var pending *genai.Content
	flush := func() {
		if pending != nil {
			contents = append(contents, pending)
			pending = nil
		}
	}

	for _, m := range history {
		switch m.Role {
		case types.RoleTool:
			if pending == nil {
				pending = &genai.Content{Role: genai.RoleUser}
			}
			pending.Parts = append(pending.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.Name,
				Response: functionResponse(m.Content),
			}})
		case types.RoleAssistant:
			flush()
			content := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(tc.Arguments, &args); err != nil || args == nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: args,
				}})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		default:
			flush()
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	flush()
	return contents
}

// functionResponse uses a JSON object result as-is and wraps anything else under "output".
func functionResponse(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		return map[string]any{"output": v}
	}
	return map[string]any{"output": content}
}

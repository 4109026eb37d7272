package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpClientTimeout bounds a single streaming chat call end to end.
const httpClientTimeout = 10 * time.Minute

var defaultHTTPClient = &http.Client{
	Timeout: httpClientTimeout,
}

// OllamaProvider implements Provider against the native Ollama chat API
// (POST /api/chat with NDJSON streaming frames). The native endpoint is used
// instead of the OpenAI-compatible one because only it exposes the model's
// thinking channel.
type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

func NewOllamaProvider(baseURL string) *OllamaProvider {
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  defaultHTTPClient,
	}
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Native Ollama request/response structures.
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Think    string          `json:"think,omitempty"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaChatFrame struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	Error           string        `json:"error,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// Chat issues one streaming call and yields adapter events. Each non-terminal
// frame may carry a thinking delta and a content delta (emitted in that
// order); tool calls may arrive on any frame, including the terminal one, and
// are yielded individually as the backend delivers them already assembled.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("ollama: no messages provided")
	}

	chatReq := ollamaChatRequest{
		Model:    req.Model,
		Messages: buildOllamaMessages(req.Messages),
		Stream:   true,
		Think:    req.Think,
	}
	tools, err := buildOllamaTools(req.Tools)
	if err != nil {
		return nil, err
	}
	chatReq.Tools = tools

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		body, err := json.Marshal(chatReq)
		if err != nil {
			return fmt.Errorf("ollama: marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("ollama: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("ollama: API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}

		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		var metrics *Metrics
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var frame ollamaChatFrame
			if err := json.Unmarshal(line, &frame); err != nil {
				return fmt.Errorf("ollama: malformed stream frame: %w", err)
			}
			if frame.Error != "" {
				return fmt.Errorf("ollama: API error: %s", frame.Error)
			}

			if !frame.Done {
				if frame.Message.Thinking != "" {
					if err := emit(ctx, events, Event{Type: EventThinking, Text: frame.Message.Thinking}); err != nil {
						return err
					}
				}
				if frame.Message.Content != "" {
					if err := emit(ctx, events, Event{Type: EventContent, Text: frame.Message.Content}); err != nil {
						return err
					}
				}
			}

			for _, call := range frame.Message.ToolCalls {
				tc := ToolCall{Name: call.Function.Name, Arguments: call.Function.Arguments}
				if err := emit(ctx, events, Event{Type: EventToolCall, Tool: &tc}); err != nil {
					return err
				}
			}

			if frame.Done {
				if frame.PromptEvalCount > 0 || frame.EvalCount > 0 {
					metrics = &Metrics{
						PromptTokens:     frame.PromptEvalCount,
						CompletionTokens: frame.EvalCount,
					}
				}
				break
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("ollama: streaming error: %w", err)
		}

		return emit(ctx, events, Event{Type: EventDone, Metrics: metrics})
	}), nil
}

func buildOllamaMessages(messages []Message) []ollamaMessage {
	result := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaMessage{
			Role:     string(msg.Role),
			Content:  msg.Content,
			Thinking: msg.Thinking,
			ToolName: msg.ToolName,
		}
		for _, call := range msg.ToolCalls {
			var oc ollamaToolCall
			oc.Function.Name = call.Name
			oc.Function.Arguments = call.Arguments
			om.ToolCalls = append(om.ToolCalls, oc)
		}
		result = append(result, om)
	}
	return result
}

func buildOllamaTools(specs []ToolSpec) ([]ollamaTool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]ollamaTool, 0, len(specs))
	for _, spec := range specs {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			return nil, fmt.Errorf("ollama: marshal tool schema %s: %w", spec.Name, err)
		}
		tools = append(tools, ollamaTool{
			Type: "function",
			Function: ollamaFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		})
	}
	return tools, nil
}

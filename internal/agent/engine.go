package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/maloferriol/my-local-ai-agent/internal/conversation"
	"github.com/maloferriol/my-local-ai-agent/internal/llm"
	"github.com/maloferriol/my-local-ai-agent/internal/tools"
)

// defaultMaxTurns bounds the tool loop; a model that requests tools on every
// turn would otherwise never terminate.
const defaultMaxTurns = 20

// ModelCapabilities describe what a model may be asked for. Looked up from
// static configuration keyed by model id, outside this package.
type ModelCapabilities struct {
	// Tools enables tool calling for the model.
	Tools bool
	// Thinking is the reasoning effort passed to the backend ("low",
	// "medium", "high"); empty disables the thinking channel.
	Thinking string
}

// Engine drives repeated model turns over a conversation, dispatching tool
// calls between turns and emitting the response event protocol. All
// collaborators are injected; the engine holds no process-wide state.
type Engine struct {
	provider llm.Provider
	registry *tools.Registry
	logger   *slog.Logger
	maxTurns int
}

// Options tune an Engine beyond its required collaborators.
type Options struct {
	Logger   *slog.Logger
	MaxTurns int // 0 means defaultMaxTurns
}

func NewEngine(provider llm.Provider, registry *tools.Registry, opts Options) *Engine {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Engine{
		provider: provider,
		registry: registry,
		logger:   logger,
		maxTurns: maxTurns,
	}
}

// Registry returns the engine's tool registry.
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// Run starts the turn loop for one request and returns the event stream.
// The conversation manager is exclusively owned by this run until the stream
// terminates. Closing the stream cancels the run.
func (e *Engine) Run(ctx context.Context, conv *conversation.Manager, model string, caps ModelCapabilities) *Stream {
	return newStream(ctx, func(ctx context.Context, events chan<- Event) error {
		return e.run(ctx, conv, model, caps, events)
	})
}

func (e *Engine) run(ctx context.Context, conv *conversation.Manager, model string, caps ModelCapabilities, events chan<- Event) error {
	var toolSpecs []llm.ToolSpec
	if caps.Tools {
		toolSpecs = llmSpecs(e.registry.AllSpecs())
	}

	e.logger.Info("starting chat stream",
		"conversation_id", conv.ID(),
		"model", model,
		"tools", len(toolSpecs))

	// Metadata is always first, exactly once, before any model output.
	if err := sendEvent(ctx, events, MetadataEvent(conv.ID())); err != nil {
		return err
	}

	for turn := 1; ; turn++ {
		if turn > e.maxTurns {
			err := fmt.Errorf("conversation exceeded max turns (%d)", e.maxTurns)
			_ = sendEvent(ctx, events, ErrorEvent(err.Error()))
			return err
		}
		e.logger.Debug("turn", "conversation_id", conv.ID(), "n", turn)

		thinking, content, calls, err := e.streamTurn(ctx, conv, model, caps.Thinking, toolSpecs, events)
		if err != nil {
			// Transport failures are fatal for the whole request: one error
			// event, then the stream fails.
			_ = sendEvent(ctx, events, ErrorEvent(fmt.Sprintf("Model communication error: %v", err)))
			return err
		}

		// The assistant turn is persisted before any tool dispatch; an
		// unpersisted turn would corrupt the model's future context, so a
		// failed write is fatal too.
		if err := conv.AppendAssistant(ctx, content, thinking, model, calls); err != nil {
			_ = sendEvent(ctx, events, ErrorEvent(fmt.Sprintf("Persistence error: %v", err)))
			return err
		}

		if len(calls) == 0 {
			return sendEvent(ctx, events, FinalizeEvent())
		}

		e.logger.Debug("dispatching tool calls", "conversation_id", conv.ID(), "count", len(calls))
		if err := e.dispatch(ctx, conv, model, calls, events); err != nil {
			_ = sendEvent(ctx, events, ErrorEvent(fmt.Sprintf("Persistence error: %v", err)))
			return err
		}
	}
}

// streamTurn runs one model call over the current history, forwarding
// thinking/content deltas as they arrive and collecting the turn's tool-call
// batch without forwarding it.
func (e *Engine) streamTurn(ctx context.Context, conv *conversation.Manager, model, think string, toolSpecs []llm.ToolSpec, events chan<- Event) (thinking, content string, calls []llm.ToolCall, err error) {
	stream, err := e.provider.Chat(ctx, llm.ChatRequest{
		Model:    model,
		Messages: conv.LLMMessages(),
		Think:    think,
		Tools:    toolSpecs,
	})
	if err != nil {
		return "", "", nil, err
	}
	defer stream.Close()

	var thinkingBuilder, contentBuilder strings.Builder
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", nil, err
		}

		switch event.Type {
		case llm.EventThinking:
			thinkingBuilder.WriteString(event.Text)
			if err := sendEvent(ctx, events, ThinkingEvent(event.Text)); err != nil {
				return "", "", nil, err
			}
		case llm.EventContent:
			contentBuilder.WriteString(event.Text)
			if err := sendEvent(ctx, events, ContentEvent(event.Text)); err != nil {
				return "", "", nil, err
			}
		case llm.EventToolCall:
			if event.Tool != nil {
				calls = append(calls, *event.Tool)
			}
		case llm.EventDone:
			if event.Metrics != nil {
				e.logger.Debug("turn complete",
					"conversation_id", conv.ID(),
					"prompt_tokens", event.Metrics.PromptTokens,
					"completion_tokens", event.Metrics.CompletionTokens)
			}
		}
	}

	return thinkingBuilder.String(), contentBuilder.String(), ensureToolCallIDs(calls), nil
}

// dispatch executes a turn's tool calls in request order. Failure of one
// call never blocks the rest of the batch: an unresolved name or a tool
// error yields a tool_error event and moves on. Only executed calls that
// succeeded persist a tool message. The returned error is non-nil only for
// persistence failures, which abort the request.
func (e *Engine) dispatch(ctx context.Context, conv *conversation.Manager, model string, calls []llm.ToolCall, events chan<- Event) error {
	for _, call := range calls {
		if call.Name == "" {
			// Malformed fragment from the backend; distinct from "not found".
			e.logger.Warn("tool call missing name", "conversation_id", conv.ID())
			continue
		}

		tool, ok := e.registry.Get(call.Name)
		if !ok {
			e.logger.Warn("tool not found", "tool", call.Name)
			if err := sendEvent(ctx, events, ToolErrorEvent(call.Name, tools.ErrNotFound.Error())); err != nil {
				return err
			}
			continue
		}

		e.registry.RecordCall(call.Name)
		result, err := tool.Execute(ctx, call.Arguments)
		if err != nil {
			e.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
			if err := sendEvent(ctx, events, ToolErrorEvent(call.Name, err.Error())); err != nil {
				return err
			}
			continue
		}

		if err := conv.AppendTool(ctx, result, call.Name, model); err != nil {
			return err
		}
		if err := sendEvent(ctx, events, ToolResultEvent(call.Name, call.Arguments, result)); err != nil {
			return err
		}
	}
	return nil
}

func llmSpecs(specs []tools.Spec) []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(specs))
	for _, spec := range specs {
		out = append(out, llm.ToolSpec{
			Name:        spec.Name,
			Description: spec.Description,
			Schema:      spec.Schema,
		})
	}
	return out
}

func ensureToolCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = uuid.NewString()
		}
	}
	return calls
}

package service

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	cbotel "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/otel"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/tool"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/logger"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/broadcast"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/conversationstore"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/llm"
)

// User-visible replies for turns that end without a model answer.
const (
	ReplyEmpty       = "I could not generate a response."
	ReplyCapReached  = "I could not produce a response. Please try again."
	ReplyModelFailed = "Sorry, something went wrong. Please try again."
)

//go:embed templates/system_prompt.tmpl
var systemPromptTmpl string

var systemPrompt = template.Must(template.New("system_prompt").Parse(systemPromptTmpl))

type promptData struct {
	Date  string
	Tools []tool.Descriptor
}

// ToolRegistry is the tool catalog consulted by the conversation loop.
type ToolRegistry interface {
	ListTools(ctx context.Context) ([]tool.Descriptor, error)
	Invoke(ctx context.Context, name string, args map[string]any) (tool.Result, error)
}

// AgentConfig bounds a turn.
type AgentConfig struct {
	MaxIterations    int
	MaxParallelTools int // 0 runs every call of a round at once
	MaxTokens        int
	ModelTimeout     time.Duration
	ToolTimeout      time.Duration
	ModelRetries     int
	RetryBackoff     time.Duration
	Location         *time.Location // date shown in the system prompt
}

// AgentService runs the tool-augmented conversation loop: it turns one user
// message into one final answer, calling tools as the model requests.
type AgentService struct {
	store   conversationstore.Store
	tools   ToolRegistry
	model   llm.ChatModel
	hub     broadcast.Broadcaster
	metrics *cbotel.Metrics
	locker  *conversation.Locker
	cfg     AgentConfig
	now     func() time.Time
}

// NewAgentService creates an AgentService. hub may be nil.
func NewAgentService(store conversationstore.Store, tools ToolRegistry, model llm.ChatModel, hub broadcast.Broadcaster, cfg AgentConfig) *AgentService {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 8
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 90 * time.Second
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &AgentService{
		store:  store,
		tools:  tools,
		model:  model,
		hub:    hub,
		locker: conversation.NewLocker(),
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetMetrics sets the OTEL metrics instruments.
func (s *AgentService) SetMetrics(m *cbotel.Metrics) { s.metrics = m }

// SetClock overrides the time source.
func (s *AgentService) SetClock(now func() time.Time) { s.now = now }

// History returns the stored messages of a conversation.
func (s *AgentService) History(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	return s.store.History(ctx, conversationID)
}

// Reset clears a conversation once any running turn of it has finished.
func (s *AgentService) Reset(ctx context.Context, conversationID string) error {
	unlock := s.locker.Lock(conversationID)
	defer unlock()
	if err := s.store.Clear(ctx, conversationID); err != nil {
		return fmt.Errorf("clear conversation %s: %w", conversationID, err)
	}
	slog.InfoContext(ctx, "conversation cleared", "conversation_id", conversationID)
	return nil
}

// RunTurn processes one user message. Turns of the same conversation run one
// at a time; turns of different conversations run concurrently.
//
// The returned result always carries a user-presentable Reply. A non-nil
// error means the history could not be read or written.
func (s *AgentService) RunTurn(ctx context.Context, conversationID, text string) (*conversation.TurnResult, error) {
	unlock := s.locker.Lock(conversationID)
	defer unlock()

	t := &turn{
		svc:   s,
		start: s.now(),
		result: conversation.TurnResult{
			TurnID:         uuid.NewString(),
			ConversationID: conversationID,
			State:          conversation.TurnAwaitingModel,
		},
	}

	ctx = logger.WithConversationID(ctx, conversationID)
	ctx = logger.WithTurnID(ctx, t.result.TurnID)
	ctx, span := cbotel.StartTurnSpan(ctx, t.result.TurnID, conversationID)
	defer span.End()

	if s.metrics != nil {
		s.metrics.TurnsStarted.Add(ctx, 1)
	}

	if err := s.store.Append(ctx, conversationID, t.message(conversation.RoleUser, text)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store user message")
		return nil, fmt.Errorf("store user message: %w", err)
	}

	err := t.run(ctx)
	t.finish(ctx)

	span.SetAttributes(
		attribute.String("turn.state", string(t.result.State)),
		attribute.Int("turn.iterations", t.result.Iterations),
		attribute.Int("turn.tool_calls", t.result.ToolCalls),
	)
	if t.result.Err != nil {
		span.RecordError(t.result.Err)
		span.SetStatus(codes.Error, t.result.Err.Error())
	}
	return &t.result, err
}

// turn is the state of one RunTurn call.
type turn struct {
	svc    *AgentService
	start  time.Time
	result conversation.TurnResult
}

func (t *turn) message(role conversation.Role, content string) conversation.Message {
	return conversation.Message{
		ID:             uuid.NewString(),
		ConversationID: t.result.ConversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      t.svc.now().UTC(),
	}
}

func (t *turn) transition(ctx context.Context, next conversation.TurnState, tools []string) {
	state, err := t.result.State.Transition(next)
	if err != nil {
		slog.ErrorContext(ctx, "turn state", "error", err)
		return
	}
	t.result.State = state
	t.broadcast(ctx, tools)
}

func (t *turn) broadcast(ctx context.Context, tools []string) {
	if t.svc.hub == nil {
		return
	}
	t.svc.hub.BroadcastEvent(ctx, conversation.EventTurnState, conversation.TurnEvent{
		TurnID:         t.result.TurnID,
		ConversationID: t.result.ConversationID,
		State:          t.result.State,
		Iteration:      t.result.Iterations,
		Tools:          tools,
	})
}

func (t *turn) run(ctx context.Context) error {
	s := t.svc
	t.broadcast(ctx, nil)

	catalog, err := s.tools.ListTools(ctx)
	if err != nil {
		t.fail(ctx, fmt.Errorf("list tools: %w", err))
		return nil
	}
	system, err := renderSystemPrompt(s.now().In(s.cfg.Location), catalog)
	if err != nil {
		t.fail(ctx, err)
		return nil
	}

	for t.result.Iterations < s.cfg.MaxIterations {
		t.result.Iterations++

		history, err := s.store.History(ctx, t.result.ConversationID)
		if err != nil {
			t.fail(ctx, err)
			return fmt.Errorf("load history: %w", err)
		}

		resp, err := t.complete(ctx, llm.Request{
			System:    system,
			Messages:  history,
			Tools:     catalog,
			MaxTokens: s.cfg.MaxTokens,
		})
		if err != nil {
			t.fail(ctx, fmt.Errorf("model: %w", err))
			return nil
		}

		if len(resp.ToolCalls) == 0 {
			reply := resp.Text
			if strings.TrimSpace(reply) == "" {
				reply = ReplyEmpty
			}
			msg := t.message(conversation.RoleAssistant, reply)
			msg.TokensIn, msg.TokensOut, msg.Model = resp.TokensIn, resp.TokensOut, resp.Model
			if err := s.store.Append(ctx, t.result.ConversationID, msg); err != nil {
				t.fail(ctx, err)
				return fmt.Errorf("store answer: %w", err)
			}
			t.result.Reply = reply
			t.transition(ctx, conversation.TurnDone, nil)
			return nil
		}

		calls := assignCallIDs(resp.ToolCalls)
		call := t.message(conversation.RoleAssistant, resp.Text)
		call.ToolCalls = calls
		call.TokensIn, call.TokensOut, call.Model = resp.TokensIn, resp.TokensOut, resp.Model
		if err := s.store.Append(ctx, t.result.ConversationID, call); err != nil {
			t.fail(ctx, err)
			return fmt.Errorf("store tool calls: %w", err)
		}

		names := make([]string, len(calls))
		for i := range calls {
			names[i] = calls[i].Name
		}
		t.transition(ctx, conversation.TurnExecutingTools, names)

		results := t.runTools(ctx, calls)
		t.result.ToolCalls += len(calls)
		if err := s.store.Append(ctx, t.result.ConversationID, results...); err != nil {
			t.fail(ctx, err)
			return fmt.Errorf("store tool results: %w", err)
		}

		if t.result.Iterations < s.cfg.MaxIterations {
			t.transition(ctx, conversation.TurnAwaitingModel, nil)
		}
	}

	slog.WarnContext(ctx, "iteration cap reached", "max_iterations", s.cfg.MaxIterations)
	if err := s.store.Append(ctx, t.result.ConversationID, t.message(conversation.RoleAssistant, ReplyCapReached)); err != nil {
		slog.ErrorContext(ctx, "store fallback reply", "error", err)
	}
	t.result.Reply = ReplyCapReached
	t.result.Err = fmt.Errorf("iteration cap of %d reached", s.cfg.MaxIterations)
	t.transition(ctx, conversation.TurnFailed, nil)
	return nil
}

// fail ends the turn with the apology reply. The user message stays in the
// history; no assistant message is stored.
func (t *turn) fail(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "turn failed", "error", err, "iteration", t.result.Iterations)
	t.result.Err = err
	t.result.Reply = ReplyModelFailed
	t.transition(ctx, conversation.TurnFailed, nil)
}

func (t *turn) finish(ctx context.Context) {
	s := t.svc
	elapsed := s.now().Sub(t.start)
	slog.InfoContext(ctx, "turn finished",
		"state", t.result.State,
		"iterations", t.result.Iterations,
		"tool_calls", t.result.ToolCalls,
		"duration_ms", elapsed.Milliseconds(),
	)
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", string(t.result.State)))
	if t.result.Failed() {
		s.metrics.TurnsFailed.Add(ctx, 1, attrs)
	} else {
		s.metrics.TurnsCompleted.Add(ctx, 1, attrs)
	}
	s.metrics.TurnDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// complete calls the model, retrying failed calls with exponential backoff.
func (t *turn) complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s := t.svc
	var lastErr error
	for attempt := 0; attempt <= s.cfg.ModelRetries; attempt++ {
		if attempt > 0 {
			wait := s.cfg.RetryBackoff << (attempt - 1)
			slog.WarnContext(ctx, "retrying model call", "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := t.completeOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (t *turn) completeOnce(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s := t.svc
	ctx, span := cbotel.StartModelSpan(ctx, s.model.Name(), t.result.Iterations)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ModelTimeout)
	defer cancel()

	resp, err := s.model.Complete(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if s.metrics != nil {
		s.metrics.ModelCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", s.model.Name()),
			attribute.String("status", status),
		))
		if resp != nil {
			s.metrics.ModelTokens.Add(ctx, int64(resp.TokensIn), metric.WithAttributes(attribute.String("direction", "in")))
			s.metrics.ModelTokens.Add(ctx, int64(resp.TokensOut), metric.WithAttributes(attribute.String("direction", "out")))
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// runTools executes calls concurrently and returns their results in request
// order.
func (t *turn) runTools(ctx context.Context, calls []conversation.ToolCall) []conversation.Message {
	out := make([]conversation.Message, len(calls))
	var g errgroup.Group
	if n := t.svc.cfg.MaxParallelTools; n > 0 {
		g.SetLimit(n)
	}
	for i := range calls {
		g.Go(func() error {
			out[i] = t.runTool(ctx, calls[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (t *turn) runTool(ctx context.Context, call conversation.ToolCall) conversation.Message {
	s := t.svc
	ctx, span := cbotel.StartToolCallSpan(ctx, call.ID, call.Name)
	defer span.End()
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ToolTimeout)
	defer cancel()

	res, err := s.tools.Invoke(tctx, call.Name, call.Arguments)
	switch {
	case errors.Is(err, tool.ErrNotFound):
		res = tool.ErrorResult(fmt.Sprintf("tool %s not found", call.Name))
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		res = tool.ErrorResult(fmt.Sprintf("error: tool %s timed out after %s", call.Name, s.cfg.ToolTimeout))
	case err != nil:
		res = tool.ErrorResult("error: " + err.Error())
	}

	status := "ok"
	if res.IsError {
		status = "error"
		span.SetStatus(codes.Error, res.Text)
		slog.WarnContext(ctx, "tool call failed", "tool", call.Name, "call_id", call.ID, "result", res.Text)
	}
	if s.metrics != nil {
		s.metrics.ToolCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", call.Name),
			attribute.String("status", status),
		))
	}

	msg := t.message(conversation.RoleTool, res.Rendered())
	msg.ToolCallID = call.ID
	msg.ToolName = call.Name
	msg.IsError = res.IsError
	msg.Data = res.Data
	return msg
}

// assignCallIDs gives every call a unique id, replacing empty or repeated ones.
func assignCallIDs(calls []conversation.ToolCall) []conversation.ToolCall {
	out := make([]conversation.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		if c.ID == "" || seen[c.ID] {
			c.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
		}
		seen[c.ID] = true
		out[i] = c
	}
	return out
}

func renderSystemPrompt(now time.Time, tools []tool.Descriptor) (string, error) {
	var buf bytes.Buffer
	err := systemPrompt.Execute(&buf, promptData{
		Date:  now.Format("Monday, January 2, 2006"),
		Tools: tools,
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

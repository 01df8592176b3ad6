package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	chatmodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/wikirag-core/server/internal/agent/model"
	"github.com/wikirag-core/server/internal/agent/tools"
	errx "github.com/wikirag-core/server/internal/core/error"
	"github.com/wikirag-core/server/internal/session"
	logx "github.com/wikirag-core/server/pkg/logger"
)

const (
	defaultMaxToolRounds = 4
	defaultTurnTimeout   = 120 * time.Second
	defaultMaxParallel   = 4
	eventBufferSize      = 16
)

// Agent drives one conversational turn through the step sequence
//
//	PreparingHistory -> AwaitingModel -> {DispatchingTools -> AwaitingModel} | Terminated
//
// It owns no conversation state itself; memory and sources live on the
// Session passed into each turn.
type Agent struct {
	chatModel     chatmodel.BaseChatModel
	registry      *tools.Registry
	modelName     string
	systemPrompt  string
	maxToolRounds int
	turnTimeout   time.Duration
	maxParallel   int
}

// New builds an Agent. The chat model must already have the registry's
// tool catalog bound to it. The system prompt, when set, is prepended to
// every model request but never stored in conversation memory.
func New(cm chatmodel.BaseChatModel, reg *tools.Registry, modelName, systemPrompt string, cfg model.AgentConfig) (*Agent, error) {
	if cm == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("tool registry is nil")
	}

	timeout := defaultTurnTimeout
	if cfg.TurnTimeout != "" {
		d, err := time.ParseDuration(cfg.TurnTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid turn timeout %q: %w", cfg.TurnTimeout, err)
		}
		timeout = d
	}

	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = defaultMaxToolRounds
	}
	parallel := cfg.MaxParallelTools
	if parallel <= 0 {
		parallel = defaultMaxParallel
	}

	return &Agent{
		chatModel:     cm,
		registry:      reg,
		modelName:     modelName,
		systemPrompt:  systemPrompt,
		maxToolRounds: rounds,
		turnTimeout:   timeout,
		maxParallel:   parallel,
	}, nil
}

// RunStream executes one turn and returns the event stream. The agent is
// the sole producer; the caller is the sole consumer. Deltas arrive
// strictly in generation order, followed by one terminal event with the
// result, or by a stream error.
func (a *Agent) RunStream(ctx context.Context, sess *session.Session, input string) *schema.StreamReader[*Event] {
	sr, sw := schema.Pipe[*Event](eventBufferSize)
	go a.runTurn(ctx, sess, input, sw)
	return sr
}

// Run executes one turn and blocks for the terminal result, discarding
// deltas. Convenience wrapper over RunStream.
func (a *Agent) Run(ctx context.Context, sess *session.Session, input string) (*model.TurnResult, error) {
	sr := a.RunStream(ctx, sess, input)
	defer sr.Close()
	for {
		ev, err := sr.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("turn ended without terminal event")
			}
			return nil, err
		}
		if ev.IsTerminal() {
			return ev.Result, nil
		}
	}
}

func (a *Agent) runTurn(ctx context.Context, sess *session.Session, input string, sw *schema.StreamWriter[*Event]) {
	defer sw.Close()

	sess.BeginTurn()
	defer sess.EndTurn()

	ctx, cancel := context.WithTimeout(ctx, a.turnTimeout)
	defer cancel()

	result, err := a.execute(ctx, sess, input, sw)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errx.TurnTimeout(err)
		}
		logx.Error().Err(err).Str("conversation_id", sess.ID).Msg("turn failed")
		sw.Send(nil, err)
		return
	}
	sw.Send(&Event{Result: result}, nil)
}

// execute runs the step state machine for one turn. Memory mutations
// made before a timeout are deliberately not rolled back.
func (a *Agent) execute(ctx context.Context, sess *session.Session, input string, sw *schema.StreamWriter[*Event]) (*model.TurnResult, error) {
	// PreparingHistory: reset turn-scoped sources, record the user message.
	sess.ResetSources()
	if err := sess.Memory.Append(ctx, schema.UserMessage(input)); err != nil {
		return nil, err
	}

	totalCost := 0.0
	limitNotified := false

	for round := 0; ; round++ {
		history, err := sess.Memory.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		if a.systemPrompt != "" {
			history = append([]*schema.Message{schema.SystemMessage(a.systemPrompt)}, history...)
		}

		// AwaitingModel: stream, forward deltas, aggregate.
		assistant, err := a.awaitModel(ctx, history, sw)
		if err != nil {
			return nil, err
		}
		totalCost += a.accountUsage(sess.ID, assistant)
		normalizeToolCallIDs(assistant)

		if err := sess.Memory.Append(ctx, assistant); err != nil {
			return nil, err
		}

		if len(assistant.ToolCalls) == 0 || limitNotified {
			if len(assistant.ToolCalls) > 0 {
				logx.Warn().
					Str("conversation_id", sess.ID).
					Int("tool_count", len(assistant.ToolCalls)).
					Msg("Tool calls after wrap-up notice ignored")
			}
			logx.Debug().Str("conversation_id", sess.ID).Int("rounds", round+1).Msg("Turn terminated")
			return &model.TurnResult{
				Response: assistant,
				Sources:  sess.Sources(),
				CostUSD:  totalCost,
			}, nil
		}

		// DispatchingTools: fan out, apply effects in request order.
		logx.Debug().
			Str("conversation_id", sess.ID).
			Int("tool_count", len(assistant.ToolCalls)).
			Msg("Calling tools")

		results, err := a.dispatchTools(ctx, assistant.ToolCalls)
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			if res.output != nil {
				sess.AddSource(*res.output)
			}
			if err := sess.Memory.Append(ctx, res.msg); err != nil {
				return nil, err
			}
		}

		// Loop back to AwaitingModel; no new user message on internal rounds.
		if round+1 >= a.maxToolRounds {
			notice := schema.SystemMessage(fmt.Sprintf(
				"SYSTEM NOTICE: You have reached the maximum tool call limit (%d). "+
					"Please synthesize a helpful response using the information you've already gathered. "+
					"Acknowledge any limitations in your response if you couldn't complete all necessary tool calls.",
				a.maxToolRounds,
			))
			if err := sess.Memory.Append(ctx, notice); err != nil {
				return nil, err
			}
			limitNotified = true
			logx.Warn().
				Str("conversation_id", sess.ID).
				Int("max_tool_rounds", a.maxToolRounds).
				Msg("Tool round limit reached - requesting wrap-up")
		}
	}
}

// awaitModel streams one model response, forwarding every delta in
// arrival order, and returns the aggregated assistant message.
func (a *Agent) awaitModel(ctx context.Context, history []*schema.Message, sw *schema.StreamWriter[*Event]) (*schema.Message, error) {
	stream, err := a.chatModel.Stream(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("model stream: %w", err)
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("model stream recv: %w", err)
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			if closed := sw.Send(&Event{Delta: chunk.Content}, nil); closed {
				return nil, fmt.Errorf("event stream closed by consumer")
			}
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("model returned an empty stream")
	}
	return schema.ConcatMessages(chunks)
}

type dispatchResult struct {
	msg    *schema.Message
	output *model.ToolOutput
}

// dispatchTools invokes every requested tool. Invocations fan out up to
// maxParallel at a time, but results are applied in request order so
// memory stays reproducible. A timeout abandons in-flight calls without
// waiting on them.
func (a *Agent) dispatchTools(ctx context.Context, calls []schema.ToolCall) ([]dispatchResult, error) {
	done := make(chan []dispatchResult, 1)
	go func() {
		results := make([]dispatchResult, len(calls))
		sem := make(chan struct{}, a.maxParallel)
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call schema.ToolCall) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[i] = a.invokeTool(ctx, call)
			}(i, call)
		}
		wg.Wait()
		done <- results
	}()

	select {
	case results := <-done:
		return results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// invokeTool resolves and runs a single tool call. Every failure is a
// local recovery: the error is folded into a tool-role message so the
// model can self-correct, and the turn continues.
func (a *Agent) invokeTool(ctx context.Context, call schema.ToolCall) dispatchResult {
	name := call.Function.Name

	t, ok := a.registry.Lookup(name)
	if !ok {
		appErr := errx.ToolNotFound(name)
		logx.Warn().
			Str("tool_name", name).
			Str("call_id", call.ID).
			Msg("Unknown tool requested by model")
		return dispatchResult{
			msg: schema.ToolMessage(appErr.Message, call.ID, schema.WithToolName(name)),
		}
	}

	start := time.Now()
	content, err := t.InvokableRun(ctx, call.Function.Arguments)
	if err != nil {
		appErr := errx.ToolInvocation(name, err)
		logx.Warn().
			Err(appErr).
			Str("tool_name", name).
			Str("call_id", call.ID).
			Dur("elapsed", time.Since(start)).
			Msg("Tool invocation failed - recovering locally")
		return dispatchResult{
			msg: schema.ToolMessage(fmt.Sprintf("Encountered error in tool call: %v", err), call.ID, schema.WithToolName(name)),
		}
	}

	logx.Debug().
		Str("tool_name", name).
		Str("call_id", call.ID).
		Dur("elapsed", time.Since(start)).
		Msg("Tool invocation succeeded")

	return dispatchResult{
		msg: schema.ToolMessage(content, call.ID, schema.WithToolName(name)),
		output: &model.ToolOutput{
			CallID:   call.ID,
			ToolName: name,
			Content:  content,
			Raw:      content,
		},
	}
}

// accountUsage logs token usage cost for one model round and returns the
// total cost of that round.
func (a *Agent) accountUsage(conversationID string, out *schema.Message) float64 {
	if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return 0
	}
	usage := out.ResponseMeta.Usage
	pricing := model.ResolvePricing(a.modelName)
	inC, outC, totalC := model.ComputeCost(usage, pricing)
	logx.Debug().
		Str("conversation_id", conversationID).
		Str("model", a.modelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
	return totalC
}

// normalizeToolCallIDs synthesizes IDs for tool calls whose provider
// omitted them (Gemini OpenAI-compat can), so tool-role replies always
// correlate to an assistant-issued call.
func normalizeToolCallIDs(out *schema.Message) {
	for i := range out.ToolCalls {
		if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
			out.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}
}

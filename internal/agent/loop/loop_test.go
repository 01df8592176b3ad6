package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	chatmodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/wikirag-core/server/internal/agent/memory"
	"github.com/wikirag-core/server/internal/agent/model"
	"github.com/wikirag-core/server/internal/agent/repo"
	"github.com/wikirag-core/server/internal/agent/tools"
	errx "github.com/wikirag-core/server/internal/core/error"
	"github.com/wikirag-core/server/internal/session"
)

// fakeChatModel replays scripted chunk sequences, one per model round,
// and records the history passed to each round.
type fakeChatModel struct {
	mu        sync.Mutex
	scripts   [][]*schema.Message
	round     int
	histories [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...chatmodel.Option) (*schema.Message, error) {
	return nil, errors.New("generate is not used by the loop")
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...chatmodel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.round >= len(f.scripts) {
		return nil, fmt.Errorf("unexpected model round %d", f.round)
	}
	chunks := f.scripts[f.round]
	f.round++
	f.histories = append(f.histories, input)

	sr, sw := schema.Pipe[*schema.Message](len(chunks))
	go func() {
		defer sw.Close()
		for _, c := range chunks {
			sw.Send(c, nil)
		}
	}()
	return sr, nil
}

func textChunk(s string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: s}
}

func toolCallChunk(id, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}},
		},
	}
}

type addInput struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type addOutput struct {
	Result float64 `json:"result"`
}

func addTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: "add",
			Desc: "Add two numbers.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"x": {Type: "number", Required: true},
				"y": {Type: "number", Required: true},
			}),
		},
		func(ctx context.Context, in *addInput) (*addOutput, error) {
			return &addOutput{Result: in.X + in.Y}, nil
		},
	)
}

func failingTool(name string) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        name,
			Desc:        "Always fails.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(ctx context.Context, in *struct{}) (*struct{}, error) {
			return nil, errors.New("boom")
		},
	)
}

func sleepingTool(name string, d time.Duration) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        name,
			Desc:        "Sleeps.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(ctx context.Context, in *struct{}) (*struct{}, error) {
			time.Sleep(d)
			return &struct{}{}, nil
		},
	)
}

func newTestSession(t *testing.T) (*session.Session, *repo.InMemoryConversationRepository) {
	t.Helper()
	r := repo.NewInMemoryConversationRepository()
	mem := memory.New(r, "conv-1", model.ConversationConfig{})
	return session.NewSession("conv-1", mem), r
}

func newTestAgent(t *testing.T, cm chatmodel.BaseChatModel, cfg model.AgentConfig, ts ...tool.InvokableTool) *Agent {
	t.Helper()
	reg, err := tools.NewRegistry(context.Background(), ts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	a, err := New(cm, reg, "test-model", "", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func mustHistory(t *testing.T, r *repo.InMemoryConversationRepository) []*schema.Message {
	t.Helper()
	h, err := r.LoadHistory(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	return h.Messages
}

func TestPlainAnswerTerminatesInOneRound(t *testing.T) {
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{textChunk("Hel"), textChunk("lo")},
	}}
	agent := newTestAgent(t, cm, model.AgentConfig{})
	sess, r := newTestSession(t)

	result, err := agent.Run(context.Background(), sess, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Response.Content != "Hello" {
		t.Errorf("response = %q, want %q", result.Response.Content, "Hello")
	}
	if len(result.Sources) != 0 {
		t.Errorf("sources = %d, want 0", len(result.Sources))
	}

	msgs := mustHistory(t, r)
	if len(msgs) != 2 {
		t.Fatalf("memory holds %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != schema.User || msgs[0].Content != "hi" {
		t.Errorf("first message = %s %q", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != schema.Assistant || msgs[1].Content != "Hello" {
		t.Errorf("second message = %s %q", msgs[1].Role, msgs[1].Content)
	}
}

func TestStreamDeltasConcatenateToFinalText(t *testing.T) {
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{textChunk("one "), textChunk("two "), textChunk("three")},
	}}
	agent := newTestAgent(t, cm, model.AgentConfig{})
	sess, _ := newTestSession(t)

	sr := agent.RunStream(context.Background(), sess, "count")
	defer sr.Close()

	var deltas []string
	var result *model.TurnResult
	for {
		ev, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if ev.IsTerminal() {
			result = ev.Result
			continue
		}
		deltas = append(deltas, ev.Delta)
	}

	if result == nil {
		t.Fatal("no terminal event")
	}
	joined := strings.Join(deltas, "")
	if joined != result.Response.Content {
		t.Errorf("joined deltas %q != final text %q", joined, result.Response.Content)
	}
	if joined != "one two three" {
		t.Errorf("joined deltas = %q", joined)
	}
}

func TestToolDispatchRoundTrip(t *testing.T) {
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "add", `{"x":2,"y":3}`)},
		{textChunk("The answer is 5.")},
	}}
	agent := newTestAgent(t, cm, model.AgentConfig{}, addTool())
	sess, r := newTestSession(t)

	result, err := agent.Run(context.Background(), sess, "what is 2+3?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Response.Content != "The answer is 5." {
		t.Errorf("response = %q", result.Response.Content)
	}
	if len(result.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(result.Sources))
	}
	src := result.Sources[0]
	if src.ToolName != "add" || src.CallID != "call-1" {
		t.Errorf("source = %+v", src)
	}
	if !strings.Contains(src.Content, "5") {
		t.Errorf("source content = %q, want the sum", src.Content)
	}

	msgs := mustHistory(t, r)
	// user, assistant(tool call), tool, assistant(final)
	if len(msgs) != 4 {
		t.Fatalf("memory holds %d messages, want 4", len(msgs))
	}
	if msgs[1].Role != schema.Assistant || len(msgs[1].ToolCalls) != 1 {
		t.Errorf("second message should carry the tool call, got %+v", msgs[1])
	}
	if msgs[2].Role != schema.Tool || msgs[2].ToolCallID != "call-1" {
		t.Errorf("third message = role %s call id %q", msgs[2].Role, msgs[2].ToolCallID)
	}

	// The tool round's model request must include the tool reply.
	secondRound := cm.histories[1]
	last := secondRound[len(secondRound)-1]
	if last.Role != schema.Tool {
		t.Errorf("second round history ends with role %s, want tool", last.Role)
	}
}

func TestToolMessagesAppendedInRequestOrder(t *testing.T) {
	call := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "call-a", Function: schema.FunctionCall{Name: "add", Arguments: `{"x":1,"y":1}`}},
			{ID: "call-b", Function: schema.FunctionCall{Name: "add", Arguments: `{"x":2,"y":2}`}},
		},
	}
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{call},
		{textChunk("done")},
	}}
	agent := newTestAgent(t, cm, model.AgentConfig{}, addTool())
	sess, r := newTestSession(t)

	result, err := agent.Run(context.Background(), sess, "two sums")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(result.Sources))
	}
	if result.Sources[0].CallID != "call-a" || result.Sources[1].CallID != "call-b" {
		t.Errorf("sources out of order: %q, %q", result.Sources[0].CallID, result.Sources[1].CallID)
	}

	msgs := mustHistory(t, r)
	if len(msgs) != 5 {
		t.Fatalf("memory holds %d messages, want 5", len(msgs))
	}
	if msgs[2].ToolCallID != "call-a" || msgs[3].ToolCallID != "call-b" {
		t.Errorf("tool messages out of request order: %q, %q", msgs[2].ToolCallID, msgs[3].ToolCallID)
	}
}

func TestUnknownToolRecoversLocally(t *testing.T) {
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "bogus", `{}`)},
		{textChunk("I could not use that tool.")},
	}}
	agent := newTestAgent(t, cm, model.AgentConfig{}, addTool())
	sess, r := newTestSession(t)

	result, err := agent.Run(context.Background(), sess, "use bogus")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Sources) != 0 {
		t.Errorf("failed call must not produce a source, got %d", len(result.Sources))
	}

	msgs := mustHistory(t, r)
	if len(msgs) != 4 {
		t.Fatalf("memory holds %d messages, want 4", len(msgs))
	}
	toolMsg := msgs[2]
	if toolMsg.Role != schema.Tool {
		t.Fatalf("third message role = %s, want tool", toolMsg.Role)
	}
	if !strings.Contains(toolMsg.Content, "does not exist") {
		t.Errorf("tool message = %q", toolMsg.Content)
	}
	if toolMsg.ToolCallID != "call-1" {
		t.Errorf("tool message call id = %q", toolMsg.ToolCallID)
	}
}

func TestFailingToolRecoversLocally(t *testing.T) {
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "broken", `{}`)},
		{textChunk("The tool failed, sorry.")},
	}}
	agent := newTestAgent(t, cm, model.AgentConfig{}, failingTool("broken"))
	sess, _ := newTestSession(t)

	result, err := agent.Run(context.Background(), sess, "go")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Sources) != 0 {
		t.Errorf("failed call must not produce a source, got %d", len(result.Sources))
	}
	if result.Response.Content != "The tool failed, sorry." {
		t.Errorf("response = %q", result.Response.Content)
	}
}

func TestSourcesResetBetweenTurns(t *testing.T) {
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "add", `{"x":1,"y":2}`)},
		{textChunk("3")},
		{textChunk("no tools this time")},
	}}
	agent := newTestAgent(t, cm, model.AgentConfig{}, addTool())
	sess, _ := newTestSession(t)

	first, err := agent.Run(context.Background(), sess, "1+2?")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if len(first.Sources) != 1 {
		t.Fatalf("first turn sources = %d, want 1", len(first.Sources))
	}

	second, err := agent.Run(context.Background(), sess, "thanks")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if len(second.Sources) != 0 {
		t.Errorf("second turn sources = %d, want 0", len(second.Sources))
	}
}

func TestToolRoundLimitForcesWrapUp(t *testing.T) {
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "add", `{"x":1,"y":1}`)},
		{toolCallChunk("call-2", "add", `{"x":2,"y":2}`)},
	}}
	agent := newTestAgent(t, cm, model.AgentConfig{MaxToolRounds: 1}, addTool())
	sess, r := newTestSession(t)

	result, err := agent.Run(context.Background(), sess, "loop forever")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Round 2's tool calls are ignored; its message is the final response.
	if result.Response == nil || len(result.Response.ToolCalls) != 1 {
		t.Errorf("final response = %+v", result.Response)
	}
	if cm.round != 2 {
		t.Errorf("model rounds = %d, want 2", cm.round)
	}

	var noticed bool
	for _, m := range mustHistory(t, r) {
		if m.Role == schema.System && strings.Contains(m.Content, "maximum tool call limit") {
			noticed = true
		}
	}
	if !noticed {
		t.Error("wrap-up notice missing from memory")
	}
}

func TestTurnTimeoutKeepsPartialMemory(t *testing.T) {
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "slow", `{}`)},
	}}
	agent := newTestAgent(t, cm,
		model.AgentConfig{TurnTimeout: "30ms"},
		sleepingTool("slow", 500*time.Millisecond))
	sess, r := newTestSession(t)

	_, err := agent.Run(context.Background(), sess, "slow question")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if errx.KindOf(err) != errx.KindTurnTimeout {
		t.Errorf("error kind = %s, want %s", errx.KindOf(err), errx.KindTurnTimeout)
	}

	// Messages appended before the timeout stay.
	msgs := mustHistory(t, r)
	if len(msgs) != 2 {
		t.Fatalf("memory holds %d messages, want user + assistant", len(msgs))
	}
}

func TestSystemPromptSentButNotPersisted(t *testing.T) {
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{textChunk("ok")},
	}}
	reg, err := tools.NewRegistry(context.Background())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	agent, err := New(cm, reg, "test-model", "be brief", model.AgentConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, r := newTestSession(t)

	if _, err := agent.Run(context.Background(), sess, "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(cm.histories) != 1 || cm.histories[0][0].Role != schema.System {
		t.Error("system prompt missing from model request")
	}
	for _, m := range mustHistory(t, r) {
		if m.Role == schema.System {
			t.Error("system prompt leaked into conversation memory")
		}
	}
}

func TestEmptyToolCallIDsAreNormalized(t *testing.T) {
	cm := &fakeChatModel{scripts: [][]*schema.Message{
		{toolCallChunk("", "add", `{"x":4,"y":4}`)},
		{textChunk("8")},
	}}
	agent := newTestAgent(t, cm, model.AgentConfig{}, addTool())
	sess, r := newTestSession(t)

	result, err := agent.Run(context.Background(), sess, "4+4?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Sources) != 1 || result.Sources[0].CallID == "" {
		t.Fatalf("sources = %+v, want one with synthesized id", result.Sources)
	}

	msgs := mustHistory(t, r)
	if msgs[1].ToolCalls[0].ID == "" {
		t.Error("assistant tool call id not normalized")
	}
	if msgs[2].ToolCallID != msgs[1].ToolCalls[0].ID {
		t.Errorf("tool reply id %q does not correlate to call id %q", msgs[2].ToolCallID, msgs[1].ToolCalls[0].ID)
	}
}

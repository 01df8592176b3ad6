package chat

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/wikirag-core/server/internal/agent/loop"
	"github.com/wikirag-core/server/internal/agent/model"
	"github.com/wikirag-core/server/internal/chat/prompts"
	errx "github.com/wikirag-core/server/internal/core/error"
	"github.com/wikirag-core/server/internal/router"
	"github.com/wikirag-core/server/internal/session"
	logx "github.com/wikirag-core/server/pkg/logger"
)

// Retriever is the slice of the retrieval adapter the service needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// Gate is the slice of the topic router the service needs.
type Gate interface {
	Classify(ctx context.Context, utterance string) router.Decision
}

// Service wires the full turn path: topic gate, retrieval context
// injection, then the agent loop. Rejected turns never reach the loop
// and leave conversation memory untouched.
type Service struct {
	gate      Gate
	retriever Retriever
	agent     *loop.Agent
	sessions  *session.Manager

	requiredRoute string
	resultNum     int
	rejection     string
}

type Config struct {
	RequiredRoute string
	ResultNum     int
	Rejection     string
}

func NewService(gate Gate, retriever Retriever, agent *loop.Agent, sessions *session.Manager, cfg Config) *Service {
	resultNum := cfg.ResultNum
	if resultNum <= 0 {
		resultNum = 2
	}
	return &Service{
		gate:          gate,
		retriever:     retriever,
		agent:         agent,
		sessions:      sessions,
		requiredRoute: cfg.RequiredRoute,
		resultNum:     resultNum,
		rejection:     cfg.Rejection,
	}
}

// Run executes one turn for the conversation and returns its event
// stream: deltas in order, then one terminal event.
func (s *Service) Run(ctx context.Context, conversationID, input string) *schema.StreamReader[*loop.Event] {
	decision := s.gate.Classify(ctx, input)
	if !s.admitted(decision) {
		logx.Debug().
			Str("conversation_id", conversationID).
			Str("route", decision.Route).
			Float64("score", decision.Score).
			Msg("Turn rejected by topic gate")
		return s.rejectStream()
	}

	sess := s.sessions.Get(conversationID)
	return s.agent.RunStream(ctx, sess, s.prepareInput(ctx, input))
}

// admitted applies the route-match strictness policy: with a required
// route configured only that route admits, otherwise any match does.
func (s *Service) admitted(decision router.Decision) bool {
	if !decision.Matched() {
		return false
	}
	if s.requiredRoute == "" {
		return true
	}
	return decision.Route == s.requiredRoute
}

// prepareInput injects retrieved passages into the user turn. Retrieval
// failure or an empty result degrades to the bare question.
func (s *Service) prepareInput(ctx context.Context, input string) string {
	passages, err := s.retriever.Retrieve(ctx, input, s.resultNum)
	if err != nil {
		logx.Warn().Err(errx.RetrievalUnavailable(err)).Msg("Retrieval failed - proceeding without context")
		return input
	}
	if len(passages) == 0 {
		logx.Debug().Msg("Retrieval returned no passages")
		return input
	}
	logx.Debug().Int("passages", len(passages)).Msg("Injecting retrieval context")
	return prompts.RenderUserTurn(input, passages)
}

// rejectStream emits the rejection message as a one-delta stream with an
// empty-sources result. Memory stays untouched.
func (s *Service) rejectStream() *schema.StreamReader[*loop.Event] {
	sr, sw := schema.Pipe[*loop.Event](2)
	go func() {
		defer sw.Close()
		sw.Send(&loop.Event{Delta: s.rejection}, nil)
		sw.Send(&loop.Event{Result: &model.TurnResult{
			Response: schema.AssistantMessage(s.rejection, nil),
			Sources:  []model.ToolOutput{},
		}}, nil)
	}()
	return sr
}

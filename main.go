package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"github.com/wikirag-core/server/internal/agent/llm"
	"github.com/wikirag-core/server/internal/agent/loop"
	"github.com/wikirag-core/server/internal/agent/memory"
	"github.com/wikirag-core/server/internal/agent/model"
	"github.com/wikirag-core/server/internal/agent/repo"
	"github.com/wikirag-core/server/internal/agent/tools"
	"github.com/wikirag-core/server/internal/chat"
	"github.com/wikirag-core/server/internal/chat/prompts"
	"github.com/wikirag-core/server/internal/core"
	errx "github.com/wikirag-core/server/internal/core/error"
	"github.com/wikirag-core/server/internal/indexer"
	"github.com/wikirag-core/server/internal/retrieval"
	"github.com/wikirag-core/server/internal/router"
	"github.com/wikirag-core/server/internal/session"
	logx "github.com/wikirag-core/server/pkg/logger"
	pkgredis "github.com/wikirag-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the chatbot,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Components
	Response     model.ResponseModelConfig
	Agent        model.AgentConfig
	Router       model.RouterConfig
	Retrieval    model.RetrievalConfig
	Conversation model.ConversationConfig
	Indexer      model.IndexerConfig
	Chat         model.ChatConfig
}

// defaultRoutes mirrors the deployed topic configuration: one knowledge
// route gating the agent plus a chitchat route that keeps small talk
// classified but not admitted while admission is pinned to a route.
func defaultRoutes() []router.Route {
	return []router.Route{
		{
			Name: "paul-allen",
			Utterances: []string{
				"Who is Paul Allen",
				"Is he a good hacker?",
				"When was his Yacht launched?",
				"Paul Allen's Philantrophy",
				"Was ship's bell from HMS Hood successfully retrieved?",
			},
		},
		{
			Name: "chitchat",
			Utterances: []string{
				"thank you",
				"what was my last question",
				"hello",
				"have a good day",
			},
		},
	}
}

func main() {
	mode := flag.String("mode", "chat", "run mode: chat or index")
	conversationID := flag.String("conversation", "", "conversation id to resume (chat mode)")
	flag.Parse()

	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("%v", errx.Configuration(err, "failed to process environment config"))
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	rdb, err := cfg.Redis.New()
	if err != nil {
		log.Fatalf("%v", errx.Configuration(err, "failed to initialise Redis client"))
	}
	defer rdb.Close()

	client, err := llm.NewClient(ctx, llm.ClientConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	if err != nil {
		log.Fatalf("%v", errx.Configuration(err, "failed to initialise Gemini client"))
	}

	encoder := router.NewGeminiEncoder(client, cfg.Retrieval.EmbedModel)
	store := retrieval.NewStore(rdb, cfg.Retrieval.IndexName, encoder, nil)

	switch *mode {
	case "index":
		runIndexer(ctx, store, cfg)
	case "chat":
		runChat(ctx, rdb, client, store, cfg, *conversationID)
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

func runIndexer(ctx context.Context, store *retrieval.Store, cfg AppConfig) {
	if err := store.EnsureIndex(ctx, cfg.Retrieval.EmbedModel); err != nil {
		log.Fatalf("Failed to ensure index: %v", err)
	}
	if err := indexer.SeedSampleRecords(ctx, store, cfg.Retrieval.Namespace); err != nil {
		log.Fatalf("Failed to seed sample records: %v", err)
	}

	// Page extraction is site-specific and not wired by default; URLs
	// without an extractor are reported and skipped.
	pipeline, err := indexer.NewPipeline(ctx, store, cfg.Retrieval.Namespace, cfg.Indexer, nil)
	if err != nil {
		log.Fatalf("Failed to build indexer pipeline: %v", err)
	}
	if err := pipeline.Run(ctx, strings.Split(cfg.Indexer.URLs, ",")); err != nil {
		log.Fatalf("Indexing failed: %v", err)
	}

	count, err := store.Count(ctx, cfg.Retrieval.Namespace)
	if err != nil {
		log.Fatalf("Failed to read index stats: %v", err)
	}
	fmt.Printf("Index %s/%s holds %d records\n", cfg.Retrieval.IndexName, cfg.Retrieval.Namespace, count)
}

func runChat(ctx context.Context, rdb *redis.Client, client *genai.Client, store *retrieval.Store, cfg AppConfig, conversationID string) {
	adapter := retrieval.NewAdapter(store, cfg.Retrieval.Namespace)

	wiki := tools.NewWikipediaClient("")
	registry, err := tools.NewRegistry(ctx,
		tools.NewKnowledgeSearchTool(adapter),
		tools.NewWikipediaSearchTool(wiki),
		tools.NewWikipediaLoadTool(wiki),
		tools.NewAddTool(),
		tools.NewMultiplyTool(),
	)
	if err != nil {
		log.Fatalf("Failed to build tool registry: %v", err)
	}

	chatModel, err := llm.NewResponseModel(ctx, client, &cfg.Response)
	if err != nil {
		log.Fatalf("Failed to create response model: %v", err)
	}
	if err := llm.BindTools(chatModel, registry.Infos()); err != nil {
		log.Fatalf("Failed to bind tools: %v", err)
	}

	agent, err := loop.New(chatModel, registry, cfg.Response.Model, prompts.SystemPrompt(), cfg.Agent)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		log.Fatalf("%v", errx.Configuration(err, "invalid conversation TTL"))
	}
	conversations := repo.NewRedisConversationRepository(rdb, ttl)
	sessions := session.NewManager(func(id string) memory.Memory {
		return memory.New(conversations, id, cfg.Conversation)
	})

	gate, err := router.NewRouter(ctx, router.NewGeminiEncoder(client, cfg.Router.EmbedModel), defaultRoutes(), cfg.Router)
	if err != nil {
		log.Fatalf("Failed to build topic router: %v", err)
	}

	service := chat.NewService(gate, adapter, agent, sessions, chat.Config{
		RequiredRoute: cfg.Router.RequiredRoute,
		ResultNum:     cfg.Retrieval.ResultNum,
		Rejection:     cfg.Chat.RejectionMessage,
	})

	runREPL(ctx, service, conversationID)
}

// runREPL reads questions from stdin and prints streamed answers until
// EOF or "exit".
func runREPL(ctx context.Context, service *chat.Service, conversationID string) {
	fmt.Println("Ask about Paul Allen (exit to quit):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		result, err := drainTurn(service.Run(ctx, conversationID, input))
		if err != nil {
			fmt.Printf("\nerror: %v\n", err)
			continue
		}
		fmt.Println()
		for _, src := range result.Sources {
			fmt.Printf("  [source] %s (%s)\n", src.ToolName, src.CallID)
		}
	}
	if err := scanner.Err(); err != nil {
		logx.Error().Err(err).Msg("stdin read failed")
	}
}

// drainTurn prints deltas as they arrive and returns the terminal result.
func drainTurn(sr *schema.StreamReader[*loop.Event]) (*model.TurnResult, error) {
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
		fmt.Print(ev.Delta)
	}
}

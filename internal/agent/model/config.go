package model

// ================ Config ================

// ConversationConfig controls conversation history persistence.
type ConversationConfig struct {
	TTL string `envconfig:"CONVERSATION_TTL" default:"15m"`
	// MaxMessages bounds the history snapshot passed to the model.
	// Zero means unbounded. Older messages are evicted from the view
	// first; the underlying log stays append-only.
	MaxMessages int `envconfig:"CONVERSATION_MAX_MESSAGES" default:"0"`
}

// ResponseModelConfig configures the tool-calling response model.
type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
}

// AgentConfig bounds a single turn of the agent loop.
type AgentConfig struct {
	// MaxToolRounds limits model round trips that dispatch tools within one turn.
	MaxToolRounds int `envconfig:"AGENT_MAX_TOOL_ROUNDS" default:"4"`
	// TurnTimeout is the overall budget for one turn, model and tools included.
	TurnTimeout string `envconfig:"AGENT_TURN_TIMEOUT" default:"120s"`
	// MaxParallelTools caps concurrent tool invocations in one dispatch batch.
	MaxParallelTools int `envconfig:"AGENT_MAX_PARALLEL_TOOLS" default:"4"`
}

// RouterConfig configures the semantic topic gate.
type RouterConfig struct {
	EmbedModel string  `envconfig:"ROUTER_EMBED_MODEL" default:"gemini-embedding-001"`
	Threshold  float64 `envconfig:"ROUTER_THRESHOLD" default:"0.75"`
	// RequiredRoute pins admission to one route name. Empty admits any
	// matched route.
	RequiredRoute string `envconfig:"ROUTER_REQUIRED_ROUTE" default:"paul-allen"`
}

// RetrievalConfig configures the vector-store retrieval adapter.
type RetrievalConfig struct {
	IndexName  string `envconfig:"RETRIEVAL_INDEX" default:"paul-allen"`
	Namespace  string `envconfig:"RETRIEVAL_NAMESPACE" default:"info"`
	ResultNum  int    `envconfig:"RETRIEVAL_RESULT_NUM" default:"2"`
	EmbedModel string `envconfig:"RETRIEVAL_EMBED_MODEL" default:"gemini-embedding-001"`
}

// IndexerConfig configures the corpus indexing pipeline.
type IndexerConfig struct {
	// URLs is a comma-separated list of pages to fetch and index.
	URLs      string `envconfig:"INDEXER_URLS" default:"https://en.wikipedia.org/wiki/Paul_Allen"`
	ChunkSize int    `envconfig:"INDEXER_CHUNK_SIZE" default:"800"`
}

// ChatConfig holds user-facing chat behaviour.
type ChatConfig struct {
	RejectionMessage string `envconfig:"CHAT_REJECTION_MESSAGE" default:"Sorry, that topic is outside what this assistant covers. Try asking about Paul Allen."`
}

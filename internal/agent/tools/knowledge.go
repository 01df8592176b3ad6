package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const ToolKnowledgeSearch = "knowledge_search"

// Retriever is the slice of the retrieval adapter the knowledge tool needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

type KnowledgeSearchInput struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type KnowledgeSearchOutput struct {
	Passages []string `json:"passages"`
	Total    int      `json:"total"`
}

// NewKnowledgeSearchTool exposes the pre-indexed vector store as a tool,
// so the model can pull additional passages beyond the context injected
// at turn start.
func NewKnowledgeSearchTool(retriever Retriever) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolKnowledgeSearch,
			Desc: "Search the indexed knowledge base for passages relevant to a query. Returns the most relevant passages first.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "What to look up in the knowledge base.",
					Required: true,
				},
				"top_k": {
					Type: "number",
					Desc: "Number of passages to return (default: 3, max: 10)",
				},
			}),
		},
		func(ctx context.Context, in *KnowledgeSearchInput) (*KnowledgeSearchOutput, error) {
			if strings.TrimSpace(in.Query) == "" {
				return nil, fmt.Errorf("query is required")
			}
			k := in.TopK
			if k <= 0 {
				k = 3
			}
			if k > 10 {
				k = 10
			}
			passages, err := retriever.Retrieve(ctx, in.Query, k)
			if err != nil {
				return nil, err
			}
			return &KnowledgeSearchOutput{Passages: passages, Total: len(passages)}, nil
		},
	)
}

package model

import (
	"github.com/cloudwego/eino/schema"
)

// ToolOutput records one successful tool invocation. It is kept verbatim
// for the turn's sources list and mirrored as a tool-role message in
// conversation memory.
type ToolOutput struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Content  string `json:"content"`
	// Raw keeps the undecoded tool result for downstream consumers.
	Raw any `json:"raw,omitempty"`
}

// TurnResult is the terminal payload of one turn: the final assistant
// message plus the sources accumulated while producing it.
type TurnResult struct {
	Response *schema.Message `json:"response"`
	Sources  []ToolOutput    `json:"sources"`
	// CostUSD is the accumulated model usage cost for this turn.
	CostUSD float64 `json:"cost_usd"`
}

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	logx "github.com/wikirag-core/server/pkg/logger"
)

const (
	// nodeContentField holds the opaque metadata blob each retrievable
	// unit carries; the plain passage text is extracted from it.
	nodeContentField = "_node_content"

	// maxNodeContentLen guards against pathological blobs.
	maxNodeContentLen = 64 * 1024
)

type nodeContent struct {
	Text string `json:"text"`
}

// NewNodeContent packs a passage text into the opaque blob format.
func NewNodeContent(text string) (string, error) {
	b, err := json.Marshal(nodeContent{Text: text})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// extractNodeText pulls the plain text out of a record's fields blob.
func extractNodeText(fields map[string]string) (string, error) {
	blob, ok := fields[nodeContentField]
	if !ok {
		return "", fmt.Errorf("missing %s field", nodeContentField)
	}
	if len(blob) > maxNodeContentLen {
		return "", fmt.Errorf("%s too large (%d bytes)", nodeContentField, len(blob))
	}
	var nc nodeContent
	if err := json.Unmarshal([]byte(blob), &nc); err != nil {
		return "", fmt.Errorf("decode %s: %w", nodeContentField, err)
	}
	if nc.Text == "" {
		return "", fmt.Errorf("%s has no text", nodeContentField)
	}
	return nc.Text, nil
}

// RetrieveAnswersForPrompt searches one namespace and returns up to
// resultNum passage texts, most relevant first. Records without a
// decodable text blob are skipped rather than failing the lookup.
func RetrieveAnswersForPrompt(ctx context.Context, store *Store, namespace, query string, resultNum int) ([]string, error) {
	hits, err := store.Search(ctx, namespace, query, resultNum)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(hits))
	for _, hit := range hits {
		text, err := extractNodeText(hit.Fields)
		if err != nil {
			logx.Warn().Err(err).Str("record_id", hit.ID).Msg("skipping record without text")
			continue
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// Adapter binds a store to a fixed namespace and satisfies the
// "given a query and a result count, return ordered passage texts"
// contract consumed by the chat service and the knowledge tool.
type Adapter struct {
	store     *Store
	namespace string
}

func NewAdapter(store *Store, namespace string) *Adapter {
	return &Adapter{store: store, namespace: namespace}
}

func (a *Adapter) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	return RetrieveAnswersForPrompt(ctx, a.store, a.namespace, query, k)
}

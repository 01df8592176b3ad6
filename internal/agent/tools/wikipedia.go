package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const (
	ToolWikipediaSearch = "wikipedia_search"
	ToolWikipediaLoad   = "wikipedia_load"

	defaultWikipediaBaseURL = "https://en.wikipedia.org/w/api.php"
	wikipediaUserAgent      = "wikirag-core/1.0"
)

// WikipediaClient is a thin MediaWiki Action API client. Only the two
// endpoints the tools need are implemented: full-text search and
// plain-text page extracts.
type WikipediaClient struct {
	baseURL string
	httpc   *http.Client
}

func NewWikipediaClient(baseURL string) *WikipediaClient {
	if baseURL == "" {
		baseURL = defaultWikipediaBaseURL
	}
	return &WikipediaClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

type wikiSearchHit struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	PageID  int    `json:"pageid"`
}

type wikiSearchResponse struct {
	Query struct {
		Search []wikiSearchHit `json:"search"`
	} `json:"query"`
}

type wikiExtractResponse struct {
	Query struct {
		Pages map[string]struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
			Missing *bool  `json:"missing,omitempty"`
		} `json:"pages"`
	} `json:"query"`
}

func (c *WikipediaClient) get(ctx context.Context, params url.Values, out any) error {
	params.Set("format", "json")
	params.Set("utf8", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", wikipediaUserAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("wikipedia api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Search runs a full-text search and returns title/snippet pairs.
func (c *WikipediaClient) Search(ctx context.Context, query string, limit int) ([]wikiSearchHit, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", fmt.Sprintf("%d", limit))

	var decoded wikiSearchResponse
	if err := c.get(ctx, params, &decoded); err != nil {
		return nil, err
	}
	return decoded.Query.Search, nil
}

// LoadPage fetches the plain-text extract of a page by title.
func (c *WikipediaClient) LoadPage(ctx context.Context, title string) (string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts")
	params.Set("explaintext", "1")
	params.Set("redirects", "1")
	params.Set("titles", title)

	var decoded wikiExtractResponse
	if err := c.get(ctx, params, &decoded); err != nil {
		return "", err
	}
	for _, page := range decoded.Query.Pages {
		if page.Missing != nil {
			return "", fmt.Errorf("page %q not found", title)
		}
		if page.Extract != "" {
			return page.Extract, nil
		}
	}
	return "", fmt.Errorf("no extract for page %q", title)
}

// ===================================
// Wikipedia tools
// ===================================

type WikipediaSearchInput struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type WikipediaSearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type WikipediaSearchOutput struct {
	Results []WikipediaSearchResult `json:"results"`
	Total   int                     `json:"total"`
}

func NewWikipediaSearchTool(client *WikipediaClient) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolWikipediaSearch,
			Desc: "Search Wikipedia for article titles matching a query. Returns matching titles with short snippets. Use wikipedia_load with an exact title to read a full article.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "Search keywords, e.g. a person, place or event name.",
					Required: true,
				},
				"max_results": {
					Type: "number",
					Desc: "Maximum number of results to return (default: 5, max: 10)",
				},
			}),
		},
		func(ctx context.Context, in *WikipediaSearchInput) (*WikipediaSearchOutput, error) {
			if strings.TrimSpace(in.Query) == "" {
				return nil, fmt.Errorf("query is required")
			}
			limit := in.MaxResults
			if limit <= 0 {
				limit = 5
			}
			if limit > 10 {
				limit = 10
			}

			hits, err := client.Search(ctx, in.Query, limit)
			if err != nil {
				return nil, err
			}

			out := &WikipediaSearchOutput{Total: len(hits)}
			for _, h := range hits {
				out.Results = append(out.Results, WikipediaSearchResult{
					Title:   h.Title,
					Snippet: stripHTMLTags(h.Snippet),
				})
			}
			return out, nil
		},
	)
}

type WikipediaLoadInput struct {
	Title string `json:"title"`
}

type WikipediaLoadOutput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

const maxExtractChars = 8000

func NewWikipediaLoadTool(client *WikipediaClient) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolWikipediaLoad,
			Desc: "Load the plain-text content of a Wikipedia article by its exact title, as returned by wikipedia_search.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"title": {
					Type:     "string",
					Desc:     "Exact article title, e.g. 'Paul Allen'.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *WikipediaLoadInput) (*WikipediaLoadOutput, error) {
			if strings.TrimSpace(in.Title) == "" {
				return nil, fmt.Errorf("title is required")
			}
			content, err := client.LoadPage(ctx, in.Title)
			if err != nil {
				return nil, err
			}
			if len(content) > maxExtractChars {
				content = content[:maxExtractChars]
			}
			return &WikipediaLoadOutput{Title: in.Title, Content: content}, nil
		},
	)
}

// stripHTMLTags removes the <span> highlight markup MediaWiki embeds in
// search snippets.
func stripHTMLTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

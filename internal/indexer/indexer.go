package indexer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"

	"github.com/wikirag-core/server/internal/agent/model"
	"github.com/wikirag-core/server/internal/retrieval"
	logx "github.com/wikirag-core/server/pkg/logger"
)

const (
	defaultChunkSize = 800
	maxPageBytes     = 4 << 20
)

// ExtractFunc turns a fetched page into article texts. Site-specific
// extraction is a plug-in point; the default pipeline ships without one
// and skips pages it cannot extract.
type ExtractFunc func(pageURL string, html string) ([]string, error)

type page struct {
	URL  string
	HTML string
}

type chunked struct {
	URL    string
	Chunks []string
}

// Pipeline fetches pages, extracts and chunks their text, and upserts
// the chunks into one vector-store namespace. Built as an eino chain:
// fetch -> extract/chunk -> records.
type Pipeline struct {
	store     *retrieval.Store
	namespace string
	chunkSize int
	extract   ExtractFunc
	httpc     *http.Client
	runnable  compose.Runnable[string, []retrieval.Record]
}

func NewPipeline(ctx context.Context, store *retrieval.Store, namespace string, cfg model.IndexerConfig, extract ExtractFunc) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}

	p := &Pipeline{
		store:     store,
		namespace: namespace,
		chunkSize: cfg.ChunkSize,
		extract:   extract,
		httpc:     &http.Client{Timeout: 30 * time.Second},
	}
	if p.chunkSize <= 0 {
		p.chunkSize = defaultChunkSize
	}

	chain := compose.NewChain[string, []retrieval.Record]()
	chain.
		AppendLambda(compose.InvokableLambda(p.fetchPage)).
		AppendLambda(compose.InvokableLambda(p.extractChunks)).
		AppendLambda(compose.InvokableLambda(p.buildRecords))

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile indexer chain: %w", err)
	}
	p.runnable = runnable
	return p, nil
}

// Run indexes every URL. A failing URL is logged and skipped; the run
// only fails when storage itself does.
func (p *Pipeline) Run(ctx context.Context, urls []string) error {
	for _, pageURL := range urls {
		pageURL = strings.TrimSpace(pageURL)
		if pageURL == "" {
			continue
		}

		records, err := p.runnable.Invoke(ctx, pageURL)
		if err != nil {
			logx.Error().Err(err).Str("url", pageURL).Msg("failed to index url")
			continue
		}
		if len(records) == 0 {
			logx.Warn().Str("url", pageURL).Msg("no records extracted")
			continue
		}

		if err := p.store.Upsert(ctx, p.namespace, records); err != nil {
			return fmt.Errorf("upsert records for %s: %w", pageURL, err)
		}
		logx.Info().Str("url", pageURL).Int("records", len(records)).Msg("indexed url")
	}
	return nil
}

func (p *Pipeline) fetchPage(ctx context.Context, pageURL string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pageURL, err)
	}
	return &page{URL: pageURL, HTML: string(body)}, nil
}

func (p *Pipeline) extractChunks(ctx context.Context, pg *page) (*chunked, error) {
	if p.extract == nil {
		return nil, fmt.Errorf("no extractor configured for %s", pg.URL)
	}
	articles, err := p.extract(pg.URL, pg.HTML)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", pg.URL, err)
	}

	out := &chunked{URL: pg.URL}
	for _, article := range articles {
		out.Chunks = append(out.Chunks, ChunkText(article, p.chunkSize)...)
	}
	return out, nil
}

func (p *Pipeline) buildRecords(ctx context.Context, in *chunked) ([]retrieval.Record, error) {
	slug := urlSlug(in.URL)
	records := make([]retrieval.Record, 0, len(in.Chunks))
	for i, chunk := range in.Chunks {
		blob, err := retrieval.NewNodeContent(chunk)
		if err != nil {
			return nil, err
		}
		records = append(records, retrieval.Record{
			ID: fmt.Sprintf("%s#%d", slug, i),
			Fields: map[string]string{
				"_node_content": blob,
				"source_url":    in.URL,
			},
		})
	}
	return records, nil
}

// urlSlug derives a stable record ID prefix from a URL.
func urlSlug(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "page"
	}
	base := path.Base(u.Path)
	if base == "" || base == "/" || base == "." {
		return "page"
	}
	return strings.ToLower(base)
}

// SeedSampleRecords writes a couple of hand-written records into the
// namespace so the retrieval path can be exercised before any page has
// been scraped.
func SeedSampleRecords(ctx context.Context, store *retrieval.Store, namespace string) error {
	samples := []string{
		"Paul Allen co-founded Microsoft with Bill Gates in 1975.",
		"Paul Allen's yacht Octopus, launched in 2003, supported the recovery of the ship's bell from HMS Hood.",
	}

	records := make([]retrieval.Record, 0, len(samples))
	for i, text := range samples {
		blob, err := retrieval.NewNodeContent(text)
		if err != nil {
			return err
		}
		records = append(records, retrieval.Record{
			ID:     fmt.Sprintf("sample#%d", i),
			Fields: map[string]string{"_node_content": blob, "category": "sample"},
		})
	}
	return store.Upsert(ctx, namespace, records)
}

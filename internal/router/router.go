package router

import (
	"context"
	"fmt"
	"math"

	"github.com/wikirag-core/server/internal/agent/model"
	errx "github.com/wikirag-core/server/internal/core/error"
	logx "github.com/wikirag-core/server/pkg/logger"
)

// Route is a named topic defined by representative example utterances.
type Route struct {
	Name       string
	Utterances []string
}

// Decision is the outcome of classifying one utterance. An empty Route
// means no route cleared the threshold.
type Decision struct {
	Route string
	Score float64
}

// Matched reports whether any route cleared the threshold.
func (d Decision) Matched() bool {
	return d.Route != ""
}

// Router is the semantic topic gate. It scores an utterance against
// every route's example utterances and returns the best route when its
// score clears the threshold. Classification is pure: route utterance
// vectors are embedded once at construction, so a fixed utterance and
// fixed configuration always produce the same decision.
//
// When the encoder is unavailable the gate fails closed: the utterance
// is treated as unmatched, never silently admitted.
type Router struct {
	encoder   Encoder
	routes    []Route
	vectors   [][][]float32 // vectors[i][j] embeds routes[i].Utterances[j]
	threshold float64
}

// NewRouter embeds every route utterance up front and returns the gate.
func NewRouter(ctx context.Context, encoder Encoder, routes []Route, cfg model.RouterConfig) (*Router, error) {
	if encoder == nil {
		return nil, fmt.Errorf("encoder is nil")
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("at least one route is required")
	}

	r := &Router{
		encoder:   encoder,
		routes:    routes,
		vectors:   make([][][]float32, len(routes)),
		threshold: cfg.Threshold,
	}

	for i, route := range routes {
		if route.Name == "" || len(route.Utterances) == 0 {
			return nil, fmt.Errorf("route %d needs a name and example utterances", i)
		}
		vecs, err := encoder.Embed(ctx, route.Utterances)
		if err != nil {
			return nil, fmt.Errorf("embed route %q utterances: %w", route.Name, err)
		}
		if len(vecs) != len(route.Utterances) {
			return nil, fmt.Errorf("embed route %q: got %d vectors for %d utterances", route.Name, len(vecs), len(route.Utterances))
		}
		r.vectors[i] = vecs
	}
	return r, nil
}

// Classify maps an utterance to its best-matching route, or to no match.
func (r *Router) Classify(ctx context.Context, utterance string) Decision {
	vecs, err := r.encoder.Embed(ctx, []string{utterance})
	if err != nil || len(vecs) != 1 {
		gateErr := errx.RouteGateUnavailable(err)
		logx.Error().Err(gateErr).Msg("Encoder unavailable - failing closed to unmatched")
		return Decision{}
	}
	query := vecs[0]

	best := Decision{}
	for i, route := range r.routes {
		score := maxSimilarity(query, r.vectors[i])
		if score > best.Score {
			best = Decision{Route: route.Name, Score: score}
		}
	}

	if best.Score < r.threshold {
		logx.Debug().
			Str("best_route", best.Route).
			Float64("score", best.Score).
			Float64("threshold", r.threshold).
			Msg("No route cleared threshold")
		return Decision{Score: best.Score}
	}

	logx.Debug().
		Str("route", best.Route).
		Float64("score", best.Score).
		Msg("Route matched")
	return best
}

// maxSimilarity returns the highest cosine similarity between the query
// and any of the candidate vectors.
func maxSimilarity(query []float32, candidates [][]float32) float64 {
	best := math.Inf(-1)
	for _, c := range candidates {
		if s := cosineSimilarity(query, c); s > best {
			best = s
		}
	}
	if math.IsInf(best, -1) {
		return 0
	}
	return best
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

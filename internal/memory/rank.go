package memory

import (
	"context"
	"math"
	"sort"

	"leadflow/internal/logging"
	"leadflow/internal/types"
)

// Rank reorders entries by embedding cosine similarity against the query
// text. Without an embedder (or with fewer than two entries) it is the
// identity. An embedding failure also returns the input order, with the
// error, so callers can fall back to recency.
func Rank(ctx context.Context, emb types.Embedder, query string, entries []Entry) ([]Entry, error) {
	if emb == nil || len(entries) < 2 || query == "" {
		return entries, nil
	}

	texts := make([]string, 0, len(entries)+1)
	texts = append(texts, query)
	for _, e := range entries {
		texts = append(texts, entryText(e))
	}

	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		return entries, err
	}
	if len(vecs) != len(texts) {
		logging.Get(logging.CategoryMemory).Warn("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		return entries, nil
	}

	queryVec := vecs[0]
	type scored struct {
		entry Entry
		score float64
	}
	ranked := make([]scored, len(entries))
	for i, e := range entries {
		ranked[i] = scored{entry: e, score: CosineSimilarity(queryVec, vecs[i+1])}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]Entry, len(ranked))
	for i, r := range ranked {
		out[i] = r.entry
	}
	return out, nil
}

// entryText is the text an entry is ranked by. Insights carry the most
// signal, then the sent content, then the bare domain.
func entryText(e Entry) string {
	if e.Insight != "" {
		return e.Insight
	}
	if e.ContentSent != "" {
		return e.ContentSent
	}
	return e.Domain
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical. Mismatched or
// zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i]) * float64(b[i])
		aMagnitude += float64(a[i]) * float64(a[i])
		bMagnitude += float64(b[i]) * float64(b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude))
}

package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns canned vectors keyed by text.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := s.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func TestRankOrdersBySimilarity(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"saas outreach":      {1, 0, 0},
		"close match":        {0.9, 0.1, 0},
		"orthogonal insight": {0, 1, 0},
		"opposite":           {-1, 0, 0},
	}}

	entries := []Entry{
		{ID: "far", Insight: "opposite"},
		{ID: "mid", Insight: "orthogonal insight"},
		{ID: "near", Insight: "close match"},
	}

	got, err := Rank(context.Background(), emb, "saas outreach", entries)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.Equal(t, "far", got[2].ID)
}

func TestRankIdentityWithoutEmbedder(t *testing.T) {
	entries := []Entry{{ID: "a"}, {ID: "b"}}

	got, err := Rank(context.Background(), nil, "query", entries)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestRankPreservesOrderOnError(t *testing.T) {
	emb := &stubEmbedder{err: errors.New("quota exhausted")}
	entries := []Entry{{ID: "a", Insight: "x"}, {ID: "b", Insight: "y"}}

	got, err := Rank(context.Background(), emb, "query", entries)
	require.Error(t, err)
	assert.Equal(t, entries, got, "callers fall back to recency order")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}), "dimension mismatch")
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}), "zero magnitude")
	assert.Zero(t, CosineSimilarity(nil, nil))
}

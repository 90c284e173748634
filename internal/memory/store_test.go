package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory", "entries.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndQuery(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{CampaignID: "c1", Domain: "saas", ContentSent: "hello one", LeadEmail: "a@x.com", Timestamp: base},
		{CampaignID: "c1", Domain: "saas", Insight: "short subjects win", Timestamp: base.Add(time.Hour)},
		{CampaignID: "c2", Domain: "manufacturing", ContentSent: "hello two", LeadEmail: "b@y.com", Timestamp: base.Add(2 * time.Hour)},
	}
	for _, e := range entries {
		require.NoError(t, s.Append(ctx, e))
	}

	got, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c2", got[0].CampaignID, "newest first")
	assert.Equal(t, "c1", got[2].CampaignID)
	assert.Equal(t, SignalUnknown, got[0].Outcome, "default outcome filled in")
	assert.NotEmpty(t, got[0].ID, "id filled in")
}

func TestQueryFilters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, Entry{CampaignID: "c1", Domain: "SaaS", Timestamp: base, Insight: "x"}))
	require.NoError(t, s.Append(ctx, Entry{CampaignID: "c2", Domain: "saas", Timestamp: base.Add(time.Hour), Insight: "y"}))
	require.NoError(t, s.Append(ctx, Entry{CampaignID: "c3", Domain: "retail", Timestamp: base.Add(2 * time.Hour), Insight: "z"}))

	got, err := s.Query(ctx, Filter{Domain: "saas"})
	require.NoError(t, err)
	assert.Len(t, got, 2, "domain match is case-insensitive")

	got, err = s.Query(ctx, Filter{Campaign: "c2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].CampaignID)

	got, err = s.Query(ctx, Filter{ExcludeCampaign: "c2"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, Filter{Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c3", got[0].CampaignID, "limit keeps the newest")
}

func TestRecordOutcomeProjection(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Entry{
		CampaignID:  "c1",
		LeadEmail:   "jane@acme.com",
		Domain:      "saas",
		ContentSent: "subject: hi",
	}))
	require.NoError(t, s.RecordOutcome(ctx, "c1", "Jane@Acme.com", SignalReplied))

	got, err := s.Query(ctx, Filter{Campaign: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 1, "amendment entries do not surface on their own")
	assert.Equal(t, SignalReplied, got[0].Outcome, "latest signal folded in")
	assert.Equal(t, "subject: hi", got[0].ContentSent, "original entry intact")

	// A later signal supersedes.
	require.NoError(t, s.RecordOutcome(ctx, "c1", "jane@acme.com", SignalBounced))
	got, err = s.Query(ctx, Filter{Campaign: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, SignalBounced, got[0].Outcome)
}

func TestRecordOutcomeRejectsUnknown(t *testing.T) {
	s := openStore(t)
	require.Error(t, s.RecordOutcome(context.Background(), "c1", "a@x.com", SignalUnknown))
	require.Error(t, s.RecordOutcome(context.Background(), "c1", "a@x.com", ""))
}

func TestAppendRequiresCampaign(t *testing.T) {
	s := openStore(t)
	require.Error(t, s.Append(context.Background(), Entry{Insight: "orphan"}))
}

func TestDurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.jsonl")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, Entry{CampaignID: "c1", Insight: "kept"}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Insight)
}

func TestCorruptLinesSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.jsonl")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Append(ctx, Entry{CampaignID: "c1", Insight: "first"}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, s.Append(ctx, Entry{CampaignID: "c1", Insight: "second"}))

	got, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAppendAfterCloseFails(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Close())
	require.Error(t, s.Append(context.Background(), Entry{CampaignID: "c1"}))
}

func TestConcurrentAppends(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(ctx, Entry{CampaignID: "c1", Insight: fmt.Sprintf("insight %d", i)})
		}(i)
	}
	wg.Wait()

	got, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 10, "every line lands intact")
}

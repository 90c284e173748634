package campaign

import (
	"context"
	"errors"
	"strings"
	"testing"

	"leadflow/internal/memory"
	"leadflow/internal/tracker"
	"leadflow/internal/types"
)

type fakeEvents struct {
	rates   *tracker.AggregateRates
	replies []tracker.Reply
	err     error
}

func (f *fakeEvents) RecentCampaignRates(n int) (*tracker.AggregateRates, error) {
	return f.rates, f.err
}

func (f *fakeEvents) RecentReplies(limit int) ([]tracker.Reply, error) {
	return f.replies, f.err
}

func TestAnalyzeNoHistorySkipsModel(t *testing.T) {
	llm := scriptedLLM(llmTurn{text: "should not be called"})
	node := NewAnalyzeNode(llm, nil, nil, 5)
	c := New("c-a1", Params{Product: "widget", TargetIndustry: "saas"})

	delta, err := node.Execute(context.Background(), c, &fakeMemory{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(delta.Analysis, "No historical data available") {
		t.Errorf("analysis = %q, want no-history summary", delta.Analysis)
	}
	if llm.callCount() != 0 {
		t.Errorf("model called %d times on empty history, want 0", llm.callCount())
	}
}

func TestAnalyzeSummarizesHistory(t *testing.T) {
	mem := &fakeMemory{entries: []memory.Entry{
		{CampaignID: "old-1", Domain: "saas", ContentSent: "subject\nbody", Outcome: memory.SignalReplied},
		{CampaignID: "old-2", Domain: "saas", Insight: "short subjects performed best"},
		{CampaignID: "old-3", Domain: "fintech", ContentSent: "off-segment"},
	}}
	events := &fakeEvents{
		rates:   &tracker.AggregateRates{Campaigns: 2, Sends: 40, OpenRate: 0.5, ClickRate: 0.1, ReplyRate: 0.05},
		replies: []tracker.Reply{{Excerpt: "sounds interesting", Positivity: 0.9}},
	}
	llm := scriptedLLM(llmTurn{text: "Opens are healthy; replies lag. Shorten subjects."})
	node := NewAnalyzeNode(llm, nil, events, 5)
	c := New("c-a2", Params{Product: "widget", TargetIndustry: "saas"})

	delta, err := node.Execute(context.Background(), c, mem)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if delta.Analysis != "Opens are healthy; replies lag. Shorten subjects." {
		t.Errorf("analysis = %q", delta.Analysis)
	}

	prompt := llm.lastPrompt()
	for _, want := range []string{
		"open rate: 50.0%",
		"sounds interesting",
		"short subjects performed best",
		`product="widget"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "off-segment") {
		t.Error("prompt includes entries from another segment")
	}
	if llm.systems[0] != "You are a strategic marketing analyst." {
		t.Errorf("system prompt = %q", llm.systems[0])
	}
}

func TestAnalyzeFallsBackOnModelFailure(t *testing.T) {
	mem := &fakeMemory{entries: []memory.Entry{
		{CampaignID: "old-1", Domain: "saas", ContentSent: "x"},
	}}
	events := &fakeEvents{rates: &tracker.AggregateRates{Campaigns: 3, Sends: 60, OpenRate: 0.25}}
	llm := scriptedLLM(llmTurn{err: &types.PermanentServiceError{Service: "llm", Err: errors.New("quota")}})

	delta, err := NewAnalyzeNode(llm, nil, events, 5).Execute(context.Background(),
		New("c-a3", Params{TargetIndustry: "saas"}), mem)
	if err != nil {
		t.Fatalf("Execute: %v, model failure should not fail the stage", err)
	}
	if !strings.Contains(delta.Analysis, "Analyzed 3 campaigns") {
		t.Errorf("fallback analysis = %q, want aggregate summary", delta.Analysis)
	}
	if !strings.Contains(delta.Analysis, "1 prior outreach records") {
		t.Errorf("fallback analysis = %q, want memory count", delta.Analysis)
	}
}

func TestAnalyzeEngagementOnlyHistory(t *testing.T) {
	// No memory entries, but tracked campaigns exist: still a model pass.
	events := &fakeEvents{rates: &tracker.AggregateRates{Campaigns: 1, Sends: 10, ReplyRate: 0.2}}
	llm := scriptedLLM(llmTurn{text: "replies strong"})

	delta, err := NewAnalyzeNode(llm, nil, events, 5).Execute(context.Background(),
		New("c-a4", Params{TargetIndustry: "saas"}), &fakeMemory{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if delta.Analysis != "replies strong" {
		t.Errorf("analysis = %q", delta.Analysis)
	}
	if llm.callCount() != 1 {
		t.Errorf("calls = %d, want 1", llm.callCount())
	}
}

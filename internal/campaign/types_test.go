package campaign

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// STAGE TESTS
// =============================================================================

func TestStageSequence(t *testing.T) {
	want := []Stage{
		StageCreated, StageDiscovery, StageAnalyze,
		StageFeedback, StageContent, StageOutreach, StageCompleted,
	}
	got := []Stage{StageCreated}
	cur := StageCreated
	for i := 0; i < 10; i++ {
		next, ok := nextStage[cur]
		if !ok {
			break
		}
		got = append(got, next)
		cur = next
	}
	if len(got) != len(want) {
		t.Fatalf("sequence length = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sequence[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStageTerminal(t *testing.T) {
	cases := []struct {
		stage    Stage
		terminal bool
	}{
		{StageCreated, false},
		{StageDiscovery, false},
		{StageFeedback, false},
		{StageOutreach, false},
		{StageCompleted, true},
		{StageFailed, true},
	}
	for _, tc := range cases {
		if got := tc.stage.Terminal(); got != tc.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tc.stage, got, tc.terminal)
		}
		if got := tc.stage.Runnable(); got == tc.terminal {
			t.Errorf("%s.Runnable() = %v, want %v", tc.stage, got, !tc.terminal)
		}
	}
}

func TestTerminalStagesHaveNoSuccessor(t *testing.T) {
	if _, ok := nextStage[StageCompleted]; ok {
		t.Error("completed must not have a successor")
	}
	if _, ok := nextStage[StageFailed]; ok {
		t.Error("failed must not have a successor")
	}
}

// =============================================================================
// CAMPAIGN STATE TESTS
// =============================================================================

func TestNormalizeEmail(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Alice@Example.COM", "alice@example.com"},
		{"  bob@corp.io \n", "bob@corp.io"},
		{"plain@ok.dev", "plain@ok.dev"},
	}
	for _, tc := range cases {
		if got := NormalizeEmail(tc.in); got != tc.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUpsertLeadPreservesOrderAndDeduplicates(t *testing.T) {
	c := New("camp-1", Params{Product: "widgets"})
	c.apply(&StageDelta{Leads: []*LeadRecord{
		{Email: "A@one.com", BusinessName: "One", Status: LeadPending},
		{Email: "b@two.com", BusinessName: "Two", Status: LeadPending},
		{Email: "a@ONE.com", BusinessName: "One Updated", Status: LeadContentReady},
	}})

	if len(c.Leads) != 2 {
		t.Fatalf("leads = %d, want 2", len(c.Leads))
	}
	ordered := c.OrderedLeads()
	if ordered[0].Email != "a@one.com" || ordered[1].Email != "b@two.com" {
		t.Fatalf("order = [%s %s], want [a@one.com b@two.com]", ordered[0].Email, ordered[1].Email)
	}
	if got := c.Lead("A@one.com"); got == nil || got.BusinessName != "One Updated" {
		t.Fatalf("re-upsert did not replace record: %+v", got)
	}
	if got := c.Lead("a@one.com").Status; got != LeadContentReady {
		t.Errorf("status = %s, want %s", got, LeadContentReady)
	}
}

func TestApplyInsightsAppendOnly(t *testing.T) {
	c := New("camp-2", Params{})
	c.apply(&StageDelta{Insights: map[string]string{"tone": "casual", "cta": "book a call"}})
	c.apply(&StageDelta{Insights: map[string]string{"tone": "formal", "timing": "tuesdays"}})

	if c.Insights["tone"] != "casual" {
		t.Errorf("existing insight overwritten: tone = %q", c.Insights["tone"])
	}
	if c.Insights["timing"] != "tuesdays" {
		t.Errorf("new insight missing: timing = %q", c.Insights["timing"])
	}
	if len(c.Insights) != 3 {
		t.Errorf("insights = %d, want 3", len(c.Insights))
	}
}

func TestApplyConfidence(t *testing.T) {
	c := New("camp-3", Params{})
	conf := 0.85
	c.apply(&StageDelta{Confidence: &conf})
	if c.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", c.Confidence)
	}
	// Nil pointer leaves the value alone.
	c.apply(&StageDelta{Analysis: "summary"})
	if c.Confidence != 0.85 {
		t.Errorf("confidence changed by unrelated delta: %v", c.Confidence)
	}
}

func TestApplyBumpsUpdatedAt(t *testing.T) {
	c := New("camp-4", Params{})
	before := c.UpdatedAt
	time.Sleep(5 * time.Millisecond)
	c.apply(&StageDelta{Analysis: "x"})
	if !c.UpdatedAt.After(before) {
		t.Errorf("UpdatedAt did not advance: %v -> %v", before, c.UpdatedAt)
	}
}

func TestLeadsInStatus(t *testing.T) {
	c := New("camp-5", Params{})
	c.apply(&StageDelta{Leads: []*LeadRecord{
		{Email: "a@x.com", Status: LeadPending},
		{Email: "b@x.com", Status: LeadSkipped, Error: "missing email"},
		{Email: "c@x.com", Status: LeadContentReady},
		{Email: "d@x.com", Status: LeadPending},
	}})

	pending := c.LeadsInStatus(LeadPending)
	if len(pending) != 2 || pending[0].Email != "a@x.com" || pending[1].Email != "d@x.com" {
		t.Fatalf("pending = %v", emails(pending))
	}
	both := c.LeadsInStatus(LeadPending, LeadContentReady)
	if len(both) != 3 {
		t.Fatalf("pending+ready = %d, want 3", len(both))
	}
}

func TestBuildReportCounts(t *testing.T) {
	c := New("camp-6", Params{})
	c.Stage = StageCompleted
	c.apply(&StageDelta{Leads: []*LeadRecord{
		{Email: "a@x.com", Status: LeadSent, Attempts: 1},
		{Email: "b@x.com", Status: LeadSent, Attempts: 3},
		{Email: "c@x.com", Status: LeadSkipped, Error: "missing email"},
		{Email: "d@x.com", Status: LeadFailed, Error: "mailbox unavailable", Attempts: 3},
	}})

	started := time.Now().Add(-time.Minute)
	rep := c.buildReport(started, time.Now(), false, nil)

	if rep.Sent != 2 || rep.Failed != 1 || rep.Skipped != 1 || rep.Total != 4 {
		t.Fatalf("report counts = sent:%d failed:%d skipped:%d total:%d",
			rep.Sent, rep.Failed, rep.Skipped, rep.Total)
	}
	if len(rep.Leads) != 4 {
		t.Fatalf("per-lead breakdown = %d rows, want 4", len(rep.Leads))
	}
	var skippedRow *LeadOutcome
	for i := range rep.Leads {
		if rep.Leads[i].Status == LeadSkipped {
			skippedRow = &rep.Leads[i]
		}
	}
	if skippedRow == nil || skippedRow.Error != "missing email" {
		t.Fatalf("skipped row missing its reason: %+v", skippedRow)
	}
}

func TestCampaignJSONRoundTrip(t *testing.T) {
	c := New("camp-7", Params{Product: "widgets", TargetIndustry: "fintech"})
	c.Stage = StageContent
	c.FeedbackLoops = 1
	c.LoopActive = true
	c.apply(&StageDelta{
		Leads:    []*LeadRecord{{Email: "a@x.com", Status: LeadContentReady, Content: &Content{Subject: "hi", Body: "text"}}},
		Analysis: "two campaigns analyzed",
		Insights: map[string]string{"tone": "direct"},
	})

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Campaign
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if back.ID != c.ID || back.Stage != StageContent || !back.LoopActive || back.FeedbackLoops != 1 {
		t.Fatalf("round trip lost fields: %+v", back)
	}
	if back.Lead("a@x.com") == nil || back.Lead("a@x.com").Content.Subject != "hi" {
		t.Fatalf("round trip lost lead content")
	}
	if !strings.Contains(string(data), "lead_order") {
		t.Errorf("snapshot should carry lead order")
	}
}

func emails(leads []*LeadRecord) []string {
	out := make([]string, len(leads))
	for i, l := range leads {
		out[i] = l.Email
	}
	return out
}

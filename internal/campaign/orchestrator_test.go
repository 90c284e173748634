package campaign

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"leadflow/internal/dispatch"
)

// The orchestrator joins its worker pools before Run returns; a leaked
// goroutine here means a pool or channel wiring bug. The opencensus stats
// worker is started by a transitive dependency's package init (via
// internal/llm -> genai) before any test runs, so it is ignored.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const testEmailJSON = `{"subject": "Quick note", "body": "Hi, short pitch.", "cta": "Reply?"}`

func confJSON(conf float64) string {
	return fmt.Sprintf(`{"performance_summary": "ok", "confidence": %.2f}`, conf)
}

func mustStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "campaigns"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func testNodes(llm *fakeLLM, gate Dispatcher, rec SendRecorder) []Node {
	return []Node{
		NewDiscoveryNode(""),
		NewAnalyzeNode(llm, nil, nil, 5),
		NewFeedbackNode(llm),
		NewContentNode(llm, 1),
		NewOutreachNode(gate, rec, 1),
	}
}

func threeLeadDataset(t *testing.T) string {
	t.Helper()
	return writeDataset(t, t.TempDir(), "leads.csv",
		"company,email,name,industry\n"+
			"Acme,alice@acme.com,Alice,saas\n"+
			"Beta,bob@beta.io,Bob,saas\n"+
			"Ghost,bad-email,Zed,saas\n")
}

func TestOrchestratorRunsFullPipeline(t *testing.T) {
	llm := scriptedLLM(
		llmTurn{text: confJSON(0.9)},
		llmTurn{text: testEmailJSON},
	)
	gate := &fakeGate{}
	rec := &fakeRecorder{}
	mem := &fakeMemory{}
	store := mustStore(t)
	events := make(chan Event, 64)

	orch, err := NewOrchestrator(Options{
		CampaignID:          "run-1",
		Params:              Params{Product: "widget", TargetIndustry: "saas", Dataset: threeLeadDataset(t)},
		Store:               store,
		Memory:              mem,
		Nodes:               testNodes(llm, gate, rec),
		ConfidenceThreshold: 0.7,
		MaxFeedbackLoops:    2,
		EventChan:           events,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	rep, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Total != 3 || rep.Sent != 2 || rep.Failed != 0 || rep.Skipped != 1 {
		t.Errorf("report = total %d sent %d failed %d skipped %d, want 3/2/0/1",
			rep.Total, rep.Sent, rep.Failed, rep.Skipped)
	}

	c, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Stage != StageCompleted {
		t.Errorf("stage = %s, want completed", c.Stage)
	}
	if c.Leads["alice@acme.com"].Status != LeadSent || c.Leads["bob@beta.io"].Status != LeadSent {
		t.Error("valid leads not sent")
	}

	if got := gate.sentTo(); len(got) != 2 {
		t.Errorf("gate sends = %v", got)
	}
	if got := rec.tracked(); len(got) != 2 {
		t.Errorf("tracked sends = %v", got)
	}
	// One insight entry from feedback plus one per live send.
	if got := len(mem.appended()); got != 3 {
		t.Errorf("memory entries = %d, want 3", got)
	}

	stored, err := store.LoadReport("run-1")
	if err != nil || stored.Sent != 2 {
		t.Errorf("stored report = %+v, %v", stored, err)
	}

	close(events)
	var last Event
	for e := range events {
		last = e
	}
	if last.Type != EventCompleted {
		t.Errorf("last event = %s, want %s", last.Type, EventCompleted)
	}
}

// cancelAfterGate cancels the run context once it has let a fixed number
// of sends through, simulating an interruption mid-outreach.
type cancelAfterGate struct {
	mu     sync.Mutex
	inner  *fakeGate
	cancel context.CancelFunc
	after  int
	n      int
}

func (g *cancelAfterGate) DryRun() bool { return g.inner.DryRun() }

func (g *cancelAfterGate) Send(ctx context.Context, to, subject, body string) (*dispatch.SendResult, error) {
	g.mu.Lock()
	g.n++
	over := g.n > g.after
	g.mu.Unlock()
	if over {
		g.cancel()
		return &dispatch.SendResult{}, ctx.Err()
	}
	return g.inner.Send(ctx, to, subject, body)
}

func TestOrchestratorResumesInterruptedOutreach(t *testing.T) {
	dataset := threeLeadDataset(t)
	store := mustStore(t)
	mem := &fakeMemory{}
	llm := scriptedLLM(
		llmTurn{text: confJSON(0.9)},
		llmTurn{text: testEmailJSON},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inner := &fakeGate{}
	gate1 := &cancelAfterGate{inner: inner, cancel: cancel, after: 1}

	orch1, err := NewOrchestrator(Options{
		CampaignID:          "resume-1",
		Params:              Params{Product: "widget", TargetIndustry: "saas", Dataset: dataset},
		Store:               store,
		Memory:              mem,
		Nodes:               testNodes(llm, gate1, nil),
		ConfidenceThreshold: 0.7,
		MaxFeedbackLoops:    2,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if _, err := orch1.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("first run err = %v, want context.Canceled", err)
	}

	c, err := store.Load("resume-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Stage != StageOutreach {
		t.Fatalf("stage after interruption = %s, want outreach (resumable)", c.Stage)
	}
	if c.Leads["alice@acme.com"].Status != LeadSent {
		t.Error("completed send lost across interruption")
	}
	if c.Leads["bob@beta.io"].Status != LeadContentReady {
		t.Errorf("interrupted lead = %s, want content_ready for resume", c.Leads["bob@beta.io"].Status)
	}

	gate2 := &fakeGate{}
	orch2, err := NewOrchestrator(Options{
		CampaignID:          "resume-1",
		Store:               store,
		Memory:              mem,
		Nodes:               testNodes(llm, gate2, nil),
		ConfidenceThreshold: 0.7,
		MaxFeedbackLoops:    2,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	rep, err := orch2.Run(context.Background())
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if rep.Sent != 2 {
		t.Errorf("report sent = %d, want 2", rep.Sent)
	}

	// The replay guard: each lead crossed the wire exactly once.
	if got := inner.sentTo(); len(got) != 1 || got[0] != "alice@acme.com" {
		t.Errorf("first gate sends = %v", got)
	}
	if got := gate2.sentTo(); len(got) != 1 || got[0] != "bob@beta.io" {
		t.Errorf("second gate sends = %v", got)
	}
}

func TestOrchestratorFeedbackLoopBound(t *testing.T) {
	dir := t.TempDir()
	dataset := writeDataset(t, dir, "leads.csv", "company,email\nAcme,a@x.com\n")
	store := mustStore(t)
	gate := &fakeGate{}
	events := make(chan Event, 64)

	// Confidence stays below threshold: two counted loops, then the bound
	// forces completion.
	llm := scriptedLLM(
		llmTurn{text: confJSON(0.5)},  // feedback pass 1
		llmTurn{text: testEmailJSON},  // content loop 1
		llmTurn{text: confJSON(0.5)},  // feedback pass 2
		llmTurn{text: testEmailJSON},  // content loop 2
		llmTurn{text: confJSON(0.5)},  // feedback pass 3, bound reached
	)

	orch, err := NewOrchestrator(Options{
		CampaignID:          "loop-1",
		Params:              Params{Product: "widget", Dataset: dataset},
		Store:               store,
		Memory:              &fakeMemory{},
		Nodes:               testNodes(llm, gate, nil),
		ConfidenceThreshold: 0.7,
		MaxFeedbackLoops:    2,
		EventChan:           events,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	rep, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Sent != 1 {
		t.Errorf("sent = %d, want 1", rep.Sent)
	}
	if rep.FeedbackLoops != 2 {
		t.Errorf("feedback loops = %d, want 2", rep.FeedbackLoops)
	}
	if llm.callCount() != 5 {
		t.Errorf("model calls = %d, want 5 (3 feedback + 2 content)", llm.callCount())
	}

	close(events)
	entered, exhausted := 0, 0
	for e := range events {
		switch e.Type {
		case EventLoopEntered:
			entered++
		case EventLoopExhausted:
			exhausted++
		}
	}
	if entered != 2 || exhausted != 1 {
		t.Errorf("loop events = %d entered, %d exhausted, want 2/1", entered, exhausted)
	}
}

func TestOrchestratorZeroUsableLeadsShortCircuits(t *testing.T) {
	dir := t.TempDir()
	dataset := writeDataset(t, dir, "leads.csv", "company,email\nGhost,not-an-email\n")
	store := mustStore(t)
	llm := scriptedLLM(llmTurn{text: "unused"})

	orch, err := NewOrchestrator(Options{
		CampaignID: "empty-1",
		Params:     Params{Dataset: dataset},
		Store:      store,
		Memory:     &fakeMemory{},
		Nodes:      testNodes(llm, &fakeGate{}, nil),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	rep, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Total != 1 || rep.Skipped != 1 || rep.Sent != 0 {
		t.Errorf("report = %+v, want one skipped lead", rep)
	}
	if llm.callCount() != 0 {
		t.Errorf("model calls = %d, want 0 when no usable leads", llm.callCount())
	}

	c, _ := store.Load("empty-1")
	if c.Stage != StageCompleted {
		t.Errorf("stage = %s, want completed", c.Stage)
	}
}

func TestOrchestratorStageFailureWritesReport(t *testing.T) {
	store := mustStore(t)
	orch, err := NewOrchestrator(Options{
		CampaignID: "fail-1",
		Params:     Params{Dataset: filepath.Join(t.TempDir(), "missing.csv")},
		Store:      store,
		Memory:     &fakeMemory{},
		Nodes:      testNodes(scriptedLLM(), &fakeGate{}, nil),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	rep, err := orch.Run(context.Background())
	if err == nil {
		t.Fatal("expected the run to fail")
	}
	if rep == nil || rep.Error == "" {
		t.Fatalf("report = %+v, want failure report with error", rep)
	}

	c, lerr := store.Load("fail-1")
	if lerr != nil {
		t.Fatalf("Load: %v", lerr)
	}
	if c.Stage != StageFailed || c.LastError == "" {
		t.Errorf("campaign = stage %s lastError %q", c.Stage, c.LastError)
	}
	if !strings.Contains(c.LastError, "discovery") {
		t.Errorf("lastError = %q, want the failing stage named", c.LastError)
	}

	// Re-running a finished campaign hands back the stored report.
	rep2, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if rep2.Error == "" {
		t.Errorf("second report = %+v, want stored failure report", rep2)
	}
}

func TestOrchestratorRespectsLock(t *testing.T) {
	store := mustStore(t)
	unlock, err := store.Lock("locked-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	orch, err := NewOrchestrator(Options{
		CampaignID: "locked-1",
		Store:      store,
		Memory:     &fakeMemory{},
		Nodes:      testNodes(scriptedLLM(), &fakeGate{}, nil),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if _, err := orch.Run(context.Background()); !errors.Is(err, ErrCampaignLocked) {
		t.Fatalf("err = %v, want ErrCampaignLocked", err)
	}
}

func TestOrchestratorDryRunReport(t *testing.T) {
	dir := t.TempDir()
	dataset := writeDataset(t, dir, "leads.csv", "company,email\nAcme,a@x.com\n")
	store := mustStore(t)
	mem := &fakeMemory{}
	gate := &fakeGate{dryRun: true}
	rec := &fakeRecorder{}
	llm := scriptedLLM(llmTurn{text: confJSON(0.9)}, llmTurn{text: testEmailJSON})

	orch, err := NewOrchestrator(Options{
		CampaignID:          "dry-1",
		Params:              Params{Product: "widget", Dataset: dataset},
		Store:               store,
		Memory:              mem,
		Nodes:               testNodes(llm, gate, rec),
		ConfidenceThreshold: 0.7,
		MaxFeedbackLoops:    2,
		DryRun:              true,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	rep, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.DryRun || rep.Sent != 1 {
		t.Errorf("report = %+v, want dry-run with 1 sent", rep)
	}

	c, _ := store.Load("dry-1")
	if lead := c.Leads["a@x.com"]; !lead.Simulated || lead.Status != LeadSent {
		t.Errorf("lead = %+v, want simulated sent", lead)
	}
	if len(rec.tracked()) != 0 {
		t.Error("dry-run send reached the engagement tracker")
	}
	// Only the feedback insight lands in memory on a dry run.
	if got := len(mem.appended()); got != 1 {
		t.Errorf("memory entries = %d, want 1", got)
	}
}

func TestOrchestratorFullEventChannelNeverBlocks(t *testing.T) {
	dir := t.TempDir()
	dataset := writeDataset(t, dir, "leads.csv", "company,email\nAcme,a@x.com\n")
	store := mustStore(t)
	llm := scriptedLLM(llmTurn{text: confJSON(0.9)}, llmTurn{text: testEmailJSON})

	// Unbuffered channels with no reader: every emit must be dropped, not
	// block the run.
	orch, err := NewOrchestrator(Options{
		CampaignID:          "noblock-1",
		Params:              Params{Dataset: dataset},
		Store:               store,
		Memory:              &fakeMemory{},
		Nodes:               testNodes(llm, &fakeGate{}, nil),
		ConfidenceThreshold: 0.7,
		MaxFeedbackLoops:    1,
		ProgressChan:        make(chan Progress),
		EventChan:           make(chan Event),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

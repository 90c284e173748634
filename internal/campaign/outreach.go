package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"leadflow/internal/logging"
	"leadflow/internal/memory"
)

// ============================================================================
// STAGE 5: OUTREACH
// ============================================================================

// SendRecorder receives the engagement events live sends produce.
// *tracker.Tracker satisfies it; nil disables engagement recording.
type SendRecorder interface {
	TrackSend(campaignID, email, subject, body string, at time.Time) error
}

// OutreachNode delivers every content-ready lead through the dispatch
// gate under a bounded worker pool. Leads already sent are never touched
// again, so a replayed stage cannot mail anyone twice. Live sends are
// recorded with the engagement tracker and the memory log; simulated
// sends leave no trace beyond the lead record.
type OutreachNode struct {
	gate    Dispatcher
	events  SendRecorder
	workers int
}

func NewOutreachNode(gate Dispatcher, events SendRecorder, workers int) *OutreachNode {
	if workers <= 0 {
		workers = 4
	}
	return &OutreachNode{gate: gate, events: events, workers: workers}
}

func (n *OutreachNode) Stage() Stage { return StageOutreach }

func (n *OutreachNode) Execute(ctx context.Context, c *Campaign, mem MemoryView) (*StageDelta, error) {
	targets := c.LeadsInStatus(LeadContentReady)
	if already := len(c.LeadsInStatus(LeadSent)); already > 0 {
		logging.Outreach("campaign %s: %d leads already sent, skipping them", c.ID, already)
	}
	if len(targets) == 0 {
		return &StageDelta{Message: "no content-ready leads to send"}, nil
	}

	logging.Outreach("campaign %s: dispatching %d leads (workers=%d, dry_run=%v)",
		c.ID, len(targets), n.workers, n.gate.DryRun())

	results := make([]*LeadRecord, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers)

	for i, rec := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out := rec.clone()
			if n.deliver(gctx, c, mem, out) {
				results[i] = out
			}
			return nil
		})
	}
	_ = g.Wait()

	delta := &StageDelta{}
	sent, failed := 0, 0
	for _, rec := range results {
		if rec == nil {
			continue
		}
		delta.Leads = append(delta.Leads, rec)
		switch rec.Status {
		case LeadSent:
			sent++
		case LeadFailed:
			failed++
		}
	}
	delta.Message = fmt.Sprintf("sent %d, failed %d of %d leads", sent, failed, len(targets))

	// Sends already made must survive an interrupted run, so the partial
	// delta rides along with the cancellation error.
	if err := ctx.Err(); err != nil {
		return delta, err
	}

	logging.Outreach("campaign %s: %s", c.ID, delta.Message)
	return delta, nil
}

// deliver sends one lead's email, mutating rec with the outcome. The
// return value reports whether rec reached a settled state; interrupted
// sends stay content_ready for the next run.
func (n *OutreachNode) deliver(ctx context.Context, c *Campaign, mem MemoryView, rec *LeadRecord) bool {
	if rec.Content == nil || strings.TrimSpace(rec.Content.Subject) == "" || strings.TrimSpace(rec.Content.Body) == "" {
		rec.Status = LeadFailed
		rec.Error = "no content to send"
		logging.OutreachWarn("lead %s: %s", rec.Email, rec.Error)
		return true
	}

	res, err := n.gate.Send(ctx, rec.Email, rec.Content.Subject, rec.Content.Body)
	rec.Attempts = res.Attempts
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		rec.Status = LeadFailed
		rec.Error = err.Error()
		logging.OutreachError("lead %s failed after %d attempts: %v", rec.Email, rec.Attempts, err)
		return true
	}

	now := time.Now().UTC()
	rec.Status = LeadSent
	rec.Simulated = res.Simulated
	rec.SentAt = &now
	rec.Error = ""

	if !res.Simulated {
		n.record(ctx, c, mem, rec, now)
	}
	return true
}

// record registers a live send with the tracker and the memory log.
// Neither failure downgrades the lead: the mail is already out.
func (n *OutreachNode) record(ctx context.Context, c *Campaign, mem MemoryView, rec *LeadRecord, at time.Time) {
	if n.events != nil {
		if err := n.events.TrackSend(c.ID, rec.Email, rec.Content.Subject, rec.Content.Body, at); err != nil {
			logging.OutreachWarn("lead %s: send not tracked: %v", rec.Email, err)
		}
	}
	entry := memory.Entry{
		CampaignID:  c.ID,
		LeadEmail:   rec.Email,
		Domain:      c.Params.TargetIndustry,
		ContentSent: rec.Content.Subject + "\n" + rec.Content.Body,
		Timestamp:   at,
	}
	if err := mem.Append(ctx, entry); err != nil {
		logging.OutreachWarn("lead %s: send not recorded to memory: %v", rec.Email, err)
	}
}

// Package campaign implements the campaign workflow engine: the durable
// campaign state model, the five stage nodes (discovery, analyze, feedback,
// content, outreach), the orchestrator that sequences them, and the file
// store that persists snapshots between stages.
//
// A campaign is a single state object driven through a fixed stage sequence.
// The orchestrator owns every lifecycle transition; stage nodes are stateless
// and hand back deltas; the store guarantees atomic per-ID snapshots so an
// interrupted run resumes exactly where it stopped.
package campaign

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ============================================================================
// STAGE AND STATUS ENUMS
// ============================================================================

// Stage identifies the campaign's position in the fixed stage sequence.
type Stage string

const (
	StageCreated   Stage = "created"
	StageDiscovery Stage = "discovery"
	StageAnalyze   Stage = "analyze"
	StageFeedback  Stage = "feedback"
	StageContent   Stage = "content"
	StageOutreach  Stage = "outreach"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// nextStage is the guarded transition table for the fixed sequence. The
// bounded feedback/content re-evaluation cycle and the failure transition
// are layered on top by the orchestrator; nothing else may move a campaign.
var nextStage = map[Stage]Stage{
	StageCreated:   StageDiscovery,
	StageDiscovery: StageAnalyze,
	StageAnalyze:   StageFeedback,
	StageFeedback:  StageContent,
	StageContent:   StageOutreach,
	StageOutreach:  StageCompleted,
}

// Terminal reports whether the stage ends the campaign.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Runnable reports whether a campaign at this stage still has work to do.
func (s Stage) Runnable() bool {
	return !s.Terminal()
}

// LeadStatus tracks one lead through content generation and dispatch.
type LeadStatus string

const (
	LeadPending      LeadStatus = "pending"
	LeadContentReady LeadStatus = "content_ready"
	LeadSent         LeadStatus = "sent"
	LeadFailed       LeadStatus = "failed"
	LeadSkipped      LeadStatus = "skipped"
)

// ============================================================================
// CORE TYPES
// ============================================================================

// Params carries the campaign inputs fixed at creation time.
type Params struct {
	Product        string `json:"product"`
	TargetIndustry string `json:"target_industry,omitempty"`
	CompanySize    string `json:"company_size,omitempty"`
	MaxLeads       int    `json:"max_leads,omitempty"`
	Dataset        string `json:"dataset,omitempty"`
}

// Campaign is the durable state object for one outreach run. It is the only
// thing the engine persists: a snapshot is written after every stage, so the
// latest snapshot is always a valid resume point.
type Campaign struct {
	ID        string    `json:"id"`
	Stage     Stage     `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Params    Params    `json:"params"`

	// Leads are keyed by normalized (lowercased, trimmed) email. LeadOrder
	// preserves dataset order because map iteration would lose it.
	LeadOrder []string               `json:"lead_order,omitempty"`
	Leads     map[string]*LeadRecord `json:"leads,omitempty"`

	// Artifacts accumulated by the stages.
	Analysis string            `json:"analysis,omitempty"`
	Insights map[string]string `json:"insights,omitempty"`

	// Feedback loop position. Confidence is the last score returned by the
	// feedback stage; FeedbackLoops counts content re-entries; LoopActive
	// marks that the current content pass must return to feedback for
	// re-evaluation. All three persist so resumption keeps loop position.
	Confidence    float64 `json:"confidence,omitempty"`
	FeedbackLoops int     `json:"feedback_loops,omitempty"`
	LoopActive    bool    `json:"loop_active,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	Report    *Report    `json:"report,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// LeadRecord is one prospective recipient and their per-campaign progress.
// Records are never deleted; invalid rows stay as skipped leads so the
// report can account for every dataset row.
type LeadRecord struct {
	Email        string     `json:"email"`
	BusinessName string     `json:"business_name,omitempty"`
	ContactName  string     `json:"contact_name,omitempty"`
	Title        string     `json:"title,omitempty"`
	Industry     string     `json:"industry,omitempty"`
	Status       LeadStatus `json:"status"`
	Content      *Content   `json:"content,omitempty"`
	Error        string     `json:"error,omitempty"`
	Attempts     int        `json:"attempts,omitempty"`
	Simulated    bool       `json:"simulated,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

// clone deep-copies a record so stage workers can mutate their own copy
// and hand it back as a delta upsert.
func (r *LeadRecord) clone() *LeadRecord {
	cp := *r
	if r.Content != nil {
		content := *r.Content
		cp.Content = &content
	}
	if r.SentAt != nil {
		at := *r.SentAt
		cp.SentAt = &at
	}
	return &cp
}

// Content is the generated outreach message for a lead.
type Content struct {
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	CTA         string    `json:"cta,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Report is the final campaign summary, populated only when the campaign
// reaches completed or failed. It always enumerates per-lead outcomes,
// including skip and failure reasons.
type Report struct {
	CampaignID    string        `json:"campaign_id"`
	Stage         Stage         `json:"stage"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Duration      string        `json:"duration"`
	Total         int           `json:"total"`
	Sent          int           `json:"sent"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	DryRun        bool          `json:"dry_run,omitempty"`
	FeedbackLoops int           `json:"feedback_loops,omitempty"`
	Error         string        `json:"error,omitempty"`
	Leads         []LeadOutcome `json:"leads,omitempty"`
}

// LeadOutcome is one line of the report's per-lead breakdown.
type LeadOutcome struct {
	Email        string     `json:"email"`
	BusinessName string     `json:"business_name,omitempty"`
	Status       LeadStatus `json:"status"`
	Attempts     int        `json:"attempts,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// StageDelta is the set of changes a stage node hands back for merging.
// Nodes never touch campaign state or the store directly; the orchestrator
// applies the delta and persists in one step.
type StageDelta struct {
	Leads      []*LeadRecord     // upserts, matched by email
	Analysis   string            // analyze summary; non-empty replaces
	Insights   map[string]string // merged append-only, existing keys kept
	Confidence *float64          // set by the feedback stage
	Message    string            // one-line summary for progress and logs
}

// ============================================================================
// CAMPAIGN CONSTRUCTION AND ACCESS
// ============================================================================

// New creates a fresh campaign in the created stage.
func New(id string, params Params) *Campaign {
	now := time.Now().UTC()
	return &Campaign{
		ID:        id,
		Stage:     StageCreated,
		CreatedAt: now,
		UpdatedAt: now,
		Params:    params,
		Leads:     make(map[string]*LeadRecord),
		Insights:  make(map[string]string),
	}
}

// NormalizeEmail canonicalizes a lead identity for map keying and dedupe.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Lead returns the record for an email (normalized), or nil.
func (c *Campaign) Lead(email string) *LeadRecord {
	return c.Leads[NormalizeEmail(email)]
}

// upsertLead merges one lead record, preserving first-seen order for new
// emails. Existing records are replaced wholesale: the delta carries the
// full record, not field patches.
func (c *Campaign) upsertLead(rec *LeadRecord) {
	if rec == nil || rec.Email == "" {
		return
	}
	key := NormalizeEmail(rec.Email)
	rec.Email = key
	if c.Leads == nil {
		c.Leads = make(map[string]*LeadRecord)
	}
	if _, exists := c.Leads[key]; !exists {
		c.LeadOrder = append(c.LeadOrder, key)
	}
	c.Leads[key] = rec
}

// OrderedLeads returns the leads in dataset order. Leads missing from
// LeadOrder are appended sorted so iteration order stays deterministic even
// for hand-edited snapshots.
func (c *Campaign) OrderedLeads() []*LeadRecord {
	out := make([]*LeadRecord, 0, len(c.Leads))
	seen := make(map[string]bool, len(c.Leads))
	for _, key := range c.LeadOrder {
		if rec, ok := c.Leads[key]; ok && !seen[key] {
			out = append(out, rec)
			seen[key] = true
		}
	}
	if len(seen) < len(c.Leads) {
		rest := make([]string, 0, len(c.Leads)-len(seen))
		for key := range c.Leads {
			if !seen[key] {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)
		for _, key := range rest {
			out = append(out, c.Leads[key])
		}
	}
	return out
}

// LeadsInStatus returns ordered leads currently in any of the given states.
func (c *Campaign) LeadsInStatus(statuses ...LeadStatus) []*LeadRecord {
	want := make(map[LeadStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*LeadRecord
	for _, rec := range c.OrderedLeads() {
		if want[rec.Status] {
			out = append(out, rec)
		}
	}
	return out
}

// CountByStatus tallies leads per status.
func (c *Campaign) CountByStatus() map[LeadStatus]int {
	counts := make(map[LeadStatus]int)
	for _, rec := range c.Leads {
		counts[rec.Status]++
	}
	return counts
}

// apply merges a stage delta into the campaign and bumps UpdatedAt.
func (c *Campaign) apply(delta *StageDelta) {
	if delta == nil {
		return
	}
	for _, rec := range delta.Leads {
		c.upsertLead(rec)
	}
	if delta.Analysis != "" {
		c.Analysis = delta.Analysis
	}
	if len(delta.Insights) > 0 {
		if c.Insights == nil {
			c.Insights = make(map[string]string)
		}
		for k, v := range delta.Insights {
			// Append-only within a campaign: first write wins.
			if _, exists := c.Insights[k]; !exists {
				c.Insights[k] = v
			}
		}
	}
	if delta.Confidence != nil {
		c.Confidence = *delta.Confidence
	}
	c.UpdatedAt = time.Now().UTC()
}

// buildReport assembles the final summary from lead state.
func (c *Campaign) buildReport(started, finished time.Time, dryRun bool, runErr error) *Report {
	rep := &Report{
		CampaignID:    c.ID,
		Stage:         c.Stage,
		StartedAt:     started,
		FinishedAt:    finished,
		Duration:      finished.Sub(started).Round(time.Millisecond).String(),
		Total:         len(c.Leads),
		DryRun:        dryRun,
		FeedbackLoops: c.FeedbackLoops,
	}
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	for _, rec := range c.OrderedLeads() {
		switch rec.Status {
		case LeadSent:
			rep.Sent++
		case LeadFailed:
			rep.Failed++
		case LeadSkipped:
			rep.Skipped++
		}
		rep.Leads = append(rep.Leads, LeadOutcome{
			Email:        rec.Email,
			BusinessName: rec.BusinessName,
			Status:       rec.Status,
			Attempts:     rec.Attempts,
			Error:        rec.Error,
		})
	}
	return rep
}

// Summary is a one-line human description used in logs and listings.
func (c *Campaign) Summary() string {
	counts := c.CountByStatus()
	return fmt.Sprintf("%s [%s] leads=%d sent=%d failed=%d skipped=%d",
		c.ID, c.Stage, len(c.Leads), counts[LeadSent], counts[LeadFailed], counts[LeadSkipped])
}

// ============================================================================
// PROGRESS AND EVENTS
// ============================================================================

// Progress is a point-in-time snapshot emitted while a campaign runs.
// Consumers (the progress UI, log tailers) drain these from a channel; stale
// values are safe to drop.
type Progress struct {
	CampaignID string    `json:"campaign_id"`
	Stage      Stage     `json:"stage"`
	Done       int       `json:"done"`
	Total      int       `json:"total"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventType classifies orchestrator lifecycle events.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventLoopEntered    EventType = "loop_entered"
	EventLoopExhausted  EventType = "loop_exhausted"
	EventCancelled      EventType = "cancelled"
	EventCompleted      EventType = "completed"
	EventFailed         EventType = "failed"
)

// Event is a discrete orchestrator lifecycle notification.
type Event struct {
	Type       EventType `json:"type"`
	CampaignID string    `json:"campaign_id"`
	Stage      Stage     `json:"stage"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

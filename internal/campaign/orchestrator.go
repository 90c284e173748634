package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow/internal/logging"
	"leadflow/internal/types"
)

// ============================================================================
// WORKFLOW ORCHESTRATOR
// ============================================================================

// Orchestrator drives one campaign through the fixed stage sequence. It is
// the only component that moves a campaign between stages or persists it:
// nodes compute deltas, the orchestrator merges, decides the transition and
// saves a snapshot before running the next stage. Any snapshot is a valid
// resume point.
type Orchestrator struct {
	mu sync.Mutex

	id     string
	params Params

	store *FileStore
	mem   MemoryView
	nodes map[Stage]Node

	threshold float64
	maxLoops  int
	dryRun    bool

	progressChan chan Progress
	eventChan    chan Event

	running bool
}

// Options configures an orchestrator for one campaign.
type Options struct {
	CampaignID string // required
	Params     Params // used only when the campaign does not exist yet

	Store  *FileStore
	Memory MemoryView
	Nodes  []Node // indexed by their Stage()

	// ConfidenceThreshold below which the feedback stage re-enters content,
	// at most MaxFeedbackLoops times. A zero threshold disables the loop.
	ConfidenceThreshold float64
	MaxFeedbackLoops    int

	// DryRun is recorded in the report; the dispatch gate enforces it.
	DryRun bool

	ProgressChan chan Progress
	EventChan    chan Event
}

// NewID mints a campaign ID: the UTC date plus a short random suffix, so
// listings sort chronologically and stay human-readable.
func NewID() string {
	return time.Now().UTC().Format("20060102") + "-" + uuid.NewString()[:8]
}

// NewOrchestrator builds an orchestrator bound to one campaign ID.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.CampaignID == "" {
		return nil, fmt.Errorf("campaign id required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("state store required")
	}
	if opts.Memory == nil {
		return nil, fmt.Errorf("memory view required")
	}

	nodes := make(map[Stage]Node, len(opts.Nodes))
	for _, n := range opts.Nodes {
		if n == nil {
			continue
		}
		if _, dup := nodes[n.Stage()]; dup {
			return nil, fmt.Errorf("duplicate node for stage %s", n.Stage())
		}
		nodes[n.Stage()] = n
	}

	return &Orchestrator{
		id:           opts.CampaignID,
		params:       opts.Params,
		store:        opts.Store,
		mem:          opts.Memory,
		nodes:        nodes,
		threshold:    opts.ConfidenceThreshold,
		maxLoops:     opts.MaxFeedbackLoops,
		dryRun:       opts.DryRun,
		progressChan: opts.ProgressChan,
		eventChan:    opts.EventChan,
	}, nil
}

// Run executes the campaign from its persisted stage until it completes or
// fails. Cancellation persists the current snapshot and returns with the
// campaign still runnable; calling Run again resumes where it stopped.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, fmt.Errorf("campaign %s is already running in this process", o.id)
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	unlock, err := o.store.Lock(o.id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := o.store.Load(o.id)
	switch {
	case errors.Is(err, ErrNotFound):
		c = New(o.id, o.params)
		if serr := o.store.Save(c); serr != nil {
			return nil, serr
		}
		logging.Campaign("created campaign %s (product=%q industry=%q)",
			c.ID, c.Params.Product, c.Params.TargetIndustry)
	case err != nil:
		return nil, err
	}

	if c.Stage.Terminal() {
		logging.Campaign("campaign %s already %s", c.ID, c.Stage)
		return o.storedReport(c), nil
	}

	started := time.Now().UTC()
	if c.StartedAt == nil {
		c.StartedAt = &started
	} else {
		started = *c.StartedAt
	}
	logging.Campaign("running campaign %s from stage %s", c.ID, c.Stage)

	for c.Stage.Runnable() {
		if cerr := ctx.Err(); cerr != nil {
			return nil, o.suspend(c, cerr)
		}

		if c.Stage == StageCreated {
			c.Stage = nextStage[StageCreated]
			c.UpdatedAt = time.Now().UTC()
			if serr := o.store.Save(c); serr != nil {
				return nil, serr
			}
			continue
		}

		node, ok := o.nodes[c.Stage]
		if !ok {
			return o.fail(c, started, fmt.Errorf("no node registered for stage %s", c.Stage))
		}

		o.emitEvent(EventStageStarted, c, string(c.Stage))
		o.emitProgress(c, "running "+string(c.Stage))

		delta, execErr := node.Execute(ctx, c, o.mem)
		c.apply(delta)

		if execErr != nil {
			if ctx.Err() != nil {
				return nil, o.suspend(c, execErr)
			}
			var perr *types.PersistenceError
			if errors.As(execErr, &perr) {
				// State on disk is unknown; abort without marking failed
				// so a retry can pick up cleanly.
				return nil, execErr
			}
			return o.fail(c, started, fmt.Errorf("stage %s: %w", c.Stage, execErr))
		}

		msg := ""
		if delta != nil {
			msg = delta.Message
		}
		o.emitEvent(EventStageCompleted, c, msg)
		o.emitProgress(c, msg)

		c.Stage = o.decide(c)
		c.UpdatedAt = time.Now().UTC()
		if serr := o.store.Save(c); serr != nil {
			return nil, serr
		}
	}

	rep := c.buildReport(started, time.Now().UTC(), o.dryRun, nil)
	c.Report = rep
	if serr := o.store.Save(c); serr != nil {
		return nil, serr
	}
	if serr := o.store.SaveReport(c.ID, rep); serr != nil {
		logging.CampaignError("report for %s not saved separately: %v", c.ID, serr)
	}
	o.emitEvent(EventCompleted, c, c.Summary())
	logging.Campaign("campaign %s completed: sent=%d failed=%d skipped=%d",
		c.ID, rep.Sent, rep.Failed, rep.Skipped)
	return rep, nil
}

// decide picks the next stage after a successful node run. It owns the
// bounded feedback/content cycle and the empty-campaign short circuit.
func (o *Orchestrator) decide(c *Campaign) Stage {
	switch c.Stage {
	case StageDiscovery:
		if len(c.LeadsInStatus(LeadPending)) == 0 {
			logging.Campaign("campaign %s: no usable leads, completing with skips only", c.ID)
			return StageCompleted
		}

	case StageFeedback:
		if c.Confidence < o.threshold {
			if c.FeedbackLoops < o.maxLoops {
				c.FeedbackLoops++
				c.LoopActive = true
				o.emitEvent(EventLoopEntered, c,
					fmt.Sprintf("confidence %.2f below %.2f, regenerating content (loop %d/%d)",
						c.Confidence, o.threshold, c.FeedbackLoops, o.maxLoops))
				return StageContent
			}
			o.emitEvent(EventLoopExhausted, c,
				fmt.Sprintf("confidence %.2f still below %.2f after %d loops, proceeding",
					c.Confidence, o.threshold, c.FeedbackLoops))
			logging.CampaignWarn("campaign %s: feedback loop bound reached at confidence %.2f, proceeding to content",
				c.ID, c.Confidence)
		}

	case StageContent:
		if c.LoopActive {
			c.LoopActive = false
			return StageFeedback
		}
	}
	return nextStage[c.Stage]
}

// suspend persists the snapshot on cancellation. The campaign keeps its
// current stage, so the next Run continues from it.
func (o *Orchestrator) suspend(c *Campaign, cause error) error {
	o.emitEvent(EventCancelled, c, cause.Error())
	logging.Campaign("campaign %s suspended at stage %s: %v", c.ID, c.Stage, cause)
	if serr := o.store.Save(c); serr != nil {
		return serr
	}
	return cause
}

// fail marks the campaign failed and writes the final report. The stage
// error rides back with the report.
func (o *Orchestrator) fail(c *Campaign, started time.Time, stageErr error) (*Report, error) {
	c.Stage = StageFailed
	c.LastError = stageErr.Error()
	rep := c.buildReport(started, time.Now().UTC(), o.dryRun, stageErr)
	c.Report = rep

	o.emitEvent(EventFailed, c, stageErr.Error())
	logging.CampaignError("campaign %s failed: %v", c.ID, stageErr)

	if serr := o.store.Save(c); serr != nil {
		return nil, serr
	}
	if serr := o.store.SaveReport(c.ID, rep); serr != nil {
		logging.CampaignError("report for %s not saved separately: %v", c.ID, serr)
	}
	return rep, stageErr
}

// storedReport returns the report of an already finished campaign,
// rebuilding it from lead state when no stored copy exists.
func (o *Orchestrator) storedReport(c *Campaign) *Report {
	if c.Report != nil {
		return c.Report
	}
	if rep, err := o.store.LoadReport(c.ID); err == nil {
		return rep
	}
	started := c.CreatedAt
	if c.StartedAt != nil {
		started = *c.StartedAt
	}
	return c.buildReport(started, c.UpdatedAt, o.dryRun, nil)
}

func (o *Orchestrator) emitProgress(c *Campaign, message string) {
	if o.progressChan == nil {
		return
	}
	counts := c.CountByStatus()
	p := Progress{
		CampaignID: c.ID,
		Stage:      c.Stage,
		Done:       counts[LeadSent] + counts[LeadFailed] + counts[LeadSkipped],
		Total:      len(c.Leads),
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
	select {
	case o.progressChan <- p:
	default:
		// Channel full, skip
	}
}

func (o *Orchestrator) emitEvent(t EventType, c *Campaign, message string) {
	if o.eventChan == nil {
		return
	}
	e := Event{
		Type:       t,
		CampaignID: c.ID,
		Stage:      c.Stage,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
	select {
	case o.eventChan <- e:
	default:
		// Channel full, skip
	}
}

package campaign

import (
	"context"
	"fmt"

	"leadflow/internal/leads"
	"leadflow/internal/logging"
)

// ============================================================================
// STAGE 1: DISCOVERY
// ============================================================================

// DiscoveryNode turns the campaign dataset into lead records. Every dataset
// row ends up accounted for: valid rows become pending leads, rows with a
// missing or malformed address become skipped leads carrying the reason,
// and rows past the lead limit are skipped as over budget.
type DiscoveryNode struct {
	uploadsDir string
}

// NewDiscoveryNode builds the node. uploadsDir is consulted when the
// campaign params name no dataset explicitly.
func NewDiscoveryNode(uploadsDir string) *DiscoveryNode {
	return &DiscoveryNode{uploadsDir: uploadsDir}
}

func (n *DiscoveryNode) Stage() Stage { return StageDiscovery }

func (n *DiscoveryNode) Execute(ctx context.Context, c *Campaign, _ MemoryView) (*StageDelta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := c.Params.Dataset
	if path == "" {
		latest, err := leads.LatestUpload(n.uploadsDir)
		if err != nil {
			return nil, fmt.Errorf("no dataset for campaign %s: %w", c.ID, err)
		}
		path = latest
		logging.Leads("campaign %s using latest upload %s", c.ID, path)
	}

	rows, err := leads.ReadDataset(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}

	delta := &StageDelta{}
	seen := make(map[string]bool, len(rows))
	pending := 0
	for _, row := range rows {
		rec := &LeadRecord{
			Email:        NormalizeEmail(row.Email),
			BusinessName: row.BusinessName,
			ContactName:  row.ContactName,
			Title:        row.Title,
			Industry:     row.Industry,
			Status:       LeadPending,
		}

		verr := leads.ValidateEmail(row.Email)
		if verr != nil && rec.Email == "" {
			// Rows without an address still need a unique identity so the
			// report can name them.
			rec.Email = fmt.Sprintf("row-%d", row.Line)
		}
		if seen[rec.Email] {
			logging.LeadsDebug("campaign %s row %d duplicate of %s, dropped", c.ID, row.Line, rec.Email)
			continue
		}
		seen[rec.Email] = true

		switch {
		case verr != nil:
			rec.Status = LeadSkipped
			rec.Error = verr.Error()
			logging.LeadsWarn("campaign %s row %d skipped: %v", c.ID, row.Line, verr)
		case c.Params.MaxLeads > 0 && pending >= c.Params.MaxLeads:
			rec.Status = LeadSkipped
			rec.Error = "over lead limit"
		default:
			pending++
		}
		delta.Leads = append(delta.Leads, rec)
	}

	delta.Message = fmt.Sprintf("discovered %d leads (%d usable) from %s", len(delta.Leads), pending, path)
	logging.Leads("campaign %s: %s", c.ID, delta.Message)
	return delta, nil
}

package campaign

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeDataset(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return path
}

func TestDiscoveryAccountsForEveryRow(t *testing.T) {
	dir := t.TempDir()
	path := writeDataset(t, dir, "leads.csv",
		"Company,Email,Name,Title,Industry\n"+
			"Acme,alice@acme.com,Alice,CTO,saas\n"+
			"NoMail Inc,,Bob,CEO,saas\n"+
			"BadMail,not-an-email,Carol,VP,saas\n"+
			"Acme Again,ALICE@acme.com,Alice,CTO,saas\n"+
			"Beta,bob@beta.io,Bob,Founder,saas\n")

	c := New("c-disc", Params{Product: "widget", Dataset: path})
	node := NewDiscoveryNode(dir)

	delta, err := node.Execute(context.Background(), c, &fakeMemory{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Five rows, one an exact duplicate of the first: four records.
	if len(delta.Leads) != 4 {
		t.Fatalf("got %d lead records, want 4: %+v", len(delta.Leads), delta.Leads)
	}

	byEmail := make(map[string]*LeadRecord)
	for _, rec := range delta.Leads {
		byEmail[rec.Email] = rec
	}

	if rec := byEmail["alice@acme.com"]; rec == nil || rec.Status != LeadPending {
		t.Errorf("alice = %+v, want pending", rec)
	}
	if rec := byEmail["bob@beta.io"]; rec == nil || rec.Status != LeadPending {
		t.Errorf("bob = %+v, want pending", rec)
	}
	if rec := byEmail["row-2"]; rec == nil || rec.Status != LeadSkipped || !strings.Contains(rec.Error, "missing email") {
		t.Errorf("missing-email row = %+v, want skipped with reason", rec)
	}
	if rec := byEmail["not-an-email"]; rec == nil || rec.Status != LeadSkipped || !strings.Contains(rec.Error, "malformed") {
		t.Errorf("malformed row = %+v, want skipped with reason", rec)
	}
}

func TestDiscoveryHonorsLeadLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeDataset(t, dir, "leads.csv",
		"company,email\n"+
			"A,a@x.com\n"+
			"B,b@x.com\n"+
			"C,c@x.com\n")

	c := New("c-limit", Params{Dataset: path, MaxLeads: 2})
	delta, err := NewDiscoveryNode(dir).Execute(context.Background(), c, &fakeMemory{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	pending, skipped := 0, 0
	for _, rec := range delta.Leads {
		switch rec.Status {
		case LeadPending:
			pending++
		case LeadSkipped:
			skipped++
			if rec.Error != "over lead limit" {
				t.Errorf("over-limit reason = %q", rec.Error)
			}
		}
	}
	if pending != 2 || skipped != 1 {
		t.Errorf("pending=%d skipped=%d, want 2/1", pending, skipped)
	}
}

func TestDiscoveryUsesLatestUpload(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "old.csv", "company,email\nOld,old@x.com\n")
	older := filepath.Join(dir, "old.csv")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	writeDataset(t, dir, "new.csv", "company,email\nNew,new@x.com\n")

	c := New("c-latest", Params{}) // no dataset in params
	delta, err := NewDiscoveryNode(dir).Execute(context.Background(), c, &fakeMemory{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(delta.Leads) != 1 || delta.Leads[0].Email != "new@x.com" {
		t.Errorf("leads = %+v, want the newer upload's row", delta.Leads)
	}
}

func TestDiscoveryMissingDataset(t *testing.T) {
	c := New("c-none", Params{})
	if _, err := NewDiscoveryNode(t.TempDir()).Execute(context.Background(), c, &fakeMemory{}); err == nil {
		t.Fatal("expected error when no dataset exists")
	}
}

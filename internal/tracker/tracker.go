// Package tracker records engagement events (sends, replies, opens,
// clicks) in SQLite and computes the per-campaign rates the analysis stage
// feeds on. Events are append-only; rates are derived at query time.
package tracker

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"leadflow/internal/logging"
)

// Event types.
const (
	EventSend  = "send"
	EventReply = "reply"
	EventOpen  = "open"
	EventClick = "click"
)

// Tracker is the SQLite-backed engagement event store.
type Tracker struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the engagement database at the given path.
func Open(path string) (*Tracker, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	t := &Tracker{db: db, dbPath: path}
	if err := t.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return t, nil
}

// initialize creates the required tables.
func (t *Tracker) initialize() error {
	eventsTable := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		campaign_id TEXT NOT NULL,
		email TEXT NOT NULL,
		sender TEXT,
		subject TEXT,
		body TEXT,
		reply_text TEXT,
		positivity REAL DEFAULT 0,
		event_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_campaign ON events(campaign_id);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_email ON events(email);
	`

	for _, table := range []string{eventsTable} {
		if _, err := t.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// TrackSend records an outbound email.
func (t *Tracker) TrackSend(campaignID, email, subject, body string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.Exec(
		"INSERT INTO events (event_type, campaign_id, email, subject, body, event_at) VALUES (?, ?, ?, ?, ?, ?)",
		EventSend, campaignID, normalizeEmail(email), subject, body, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("track send: %w", err)
	}
	logging.TrackerDebug("send campaign=%s email=%s", campaignID, email)
	return nil
}

// TrackReply records an inbound reply. Idempotent per (email, timestamp):
// re-syncing the same mailbox never duplicates events. The bool reports
// whether a new event was inserted.
func (t *Tracker) TrackReply(campaignID, email, sender, subject, replyText string, positivity float64, at time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dup int
	err := t.db.QueryRow(
		"SELECT COUNT(*) FROM events WHERE event_type = ? AND email = ? AND event_at = ?",
		EventReply, normalizeEmail(email), at.UTC(),
	).Scan(&dup)
	if err != nil {
		return false, fmt.Errorf("track reply: %w", err)
	}
	if dup > 0 {
		logging.TrackerDebug("duplicate reply skipped email=%s at=%s", email, at)
		return false, nil
	}

	_, err = t.db.Exec(
		"INSERT INTO events (event_type, campaign_id, email, sender, subject, reply_text, positivity, event_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		EventReply, campaignID, normalizeEmail(email), sender, subject, replyText, positivity, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("track reply: %w", err)
	}
	logging.Tracker("reply campaign=%s email=%s", campaignID, email)
	return true, nil
}

// TrackOpen records an open signal.
func (t *Tracker) TrackOpen(campaignID, email string, at time.Time) error {
	return t.trackSignal(EventOpen, campaignID, email, at)
}

// TrackClick records a click signal.
func (t *Tracker) TrackClick(campaignID, email string, at time.Time) error {
	return t.trackSignal(EventClick, campaignID, email, at)
}

func (t *Tracker) trackSignal(eventType, campaignID, email string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.Exec(
		"INSERT INTO events (event_type, campaign_id, email, event_at) VALUES (?, ?, ?, ?)",
		eventType, campaignID, normalizeEmail(email), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("track %s: %w", eventType, err)
	}
	return nil
}

// Stats holds per-campaign engagement totals. Rates are unique engaged
// leads over sends, so one lead opening five times counts once.
type Stats struct {
	CampaignID    string
	Sends         int
	Replies       int
	Opens         int
	Clicks        int
	UniqueReplies int
	UniqueOpens   int
	UniqueClicks  int
	OpenRate      float64
	ClickRate     float64
	ReplyRate     float64
	// AvgPositivity averages scored replies only; zero when none carry
	// a score.
	AvgPositivity float64
}

// CampaignStats computes engagement stats for one campaign.
func (t *Tracker) CampaignStats(campaignID string) (*Stats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := &Stats{CampaignID: campaignID}
	var avgPos sql.NullFloat64
	err := t.db.QueryRow(`
		SELECT
			COUNT(CASE WHEN event_type = 'send' THEN 1 END),
			COUNT(CASE WHEN event_type = 'reply' THEN 1 END),
			COUNT(CASE WHEN event_type = 'open' THEN 1 END),
			COUNT(CASE WHEN event_type = 'click' THEN 1 END),
			COUNT(DISTINCT CASE WHEN event_type = 'reply' THEN email END),
			COUNT(DISTINCT CASE WHEN event_type = 'open' THEN email END),
			COUNT(DISTINCT CASE WHEN event_type = 'click' THEN email END),
			AVG(CASE WHEN event_type = 'reply' AND positivity > 0 THEN positivity END)
		FROM events WHERE campaign_id = ?`,
		campaignID,
	).Scan(&s.Sends, &s.Replies, &s.Opens, &s.Clicks, &s.UniqueReplies, &s.UniqueOpens, &s.UniqueClicks, &avgPos)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}
	s.AvgPositivity = avgPos.Float64

	if s.Sends > 0 {
		s.OpenRate = float64(s.UniqueOpens) / float64(s.Sends)
		s.ClickRate = float64(s.UniqueClicks) / float64(s.Sends)
		s.ReplyRate = float64(s.UniqueReplies) / float64(s.Sends)
	}
	return s, nil
}

// Reply is one inbound reply with a bounded excerpt.
type Reply struct {
	Email      string
	Sender     string
	Subject    string
	Excerpt    string
	Positivity float64
	At         time.Time
}

const excerptLen = 200

// ReplyMetadata returns the replies recorded for a campaign, newest first.
func (t *Tracker) ReplyMetadata(campaignID string) ([]Reply, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows, err := t.db.Query(
		"SELECT email, sender, subject, reply_text, positivity, event_at FROM events WHERE campaign_id = ? AND event_type = ? ORDER BY event_at DESC",
		campaignID, EventReply,
	)
	if err != nil {
		return nil, fmt.Errorf("reply metadata: %w", err)
	}
	defer rows.Close()

	var replies []Reply
	for rows.Next() {
		var r Reply
		var text string
		if err := rows.Scan(&r.Email, &r.Sender, &r.Subject, &text, &r.Positivity, &r.At); err != nil {
			continue
		}
		r.Excerpt = excerpt(text)
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

// RecentReplies returns the latest replies across all campaigns, newest
// first, bounded by limit. The analysis stage folds these excerpts into
// its historical summary.
func (t *Tracker) RecentReplies(limit int) ([]Reply, error) {
	if limit <= 0 {
		limit = 5
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows, err := t.db.Query(
		"SELECT email, sender, subject, reply_text, positivity, event_at FROM events WHERE event_type = ? ORDER BY event_at DESC LIMIT ?",
		EventReply, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent replies: %w", err)
	}
	defer rows.Close()

	var replies []Reply
	for rows.Next() {
		var r Reply
		var text string
		if err := rows.Scan(&r.Email, &r.Sender, &r.Subject, &text, &r.Positivity, &r.At); err != nil {
			continue
		}
		r.Excerpt = excerpt(text)
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptLen {
		return text
	}
	return string(runes[:excerptLen])
}

// AggregateRates holds send-weighted engagement rates across campaigns.
type AggregateRates struct {
	Campaigns int
	Sends     int
	OpenRate  float64
	ClickRate float64
	ReplyRate float64
}

// RecentCampaignRates aggregates rates over the n most recent campaigns
// that actually sent mail, weighted by send volume. This is the historical
// signal the analysis stage summarizes.
func (t *Tracker) RecentCampaignRates(n int) (*AggregateRates, error) {
	if n <= 0 {
		n = 5
	}

	t.mu.RLock()
	rows, err := t.db.Query(
		"SELECT campaign_id FROM events WHERE event_type = ? GROUP BY campaign_id ORDER BY MAX(event_at) DESC LIMIT ?",
		EventSend, n,
	)
	if err != nil {
		t.mu.RUnlock()
		return nil, fmt.Errorf("recent campaigns: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	rows.Close()
	t.mu.RUnlock()

	agg := &AggregateRates{}
	var opens, clicks, replies int
	for _, id := range ids {
		s, err := t.CampaignStats(id)
		if err != nil {
			logging.TrackerError("stats for %s: %v", id, err)
			continue
		}
		agg.Campaigns++
		agg.Sends += s.Sends
		opens += s.UniqueOpens
		clicks += s.UniqueClicks
		replies += s.UniqueReplies
	}
	if agg.Sends > 0 {
		agg.OpenRate = float64(opens) / float64(agg.Sends)
		agg.ClickRate = float64(clicks) / float64(agg.Sends)
		agg.ReplyRate = float64(replies) / float64(agg.Sends)
	}
	return agg, nil
}

// SendEvent identifies one outbound send for reply matching.
type SendEvent struct {
	CampaignID string
	Email      string
	Subject    string
	At         time.Time
}

// MatchReply finds the send event an inbound message answers: same sender,
// subject equal after stripping reply prefixes, reply time after send time.
// Returns nil without error when nothing matches.
func (t *Tracker) MatchReply(sender, subject string, at time.Time) (*SendEvent, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	clean := strings.ToLower(StripReplyPrefix(subject))

	row := t.db.QueryRow(
		"SELECT campaign_id, email, subject, event_at FROM events WHERE event_type = ? AND email = ? AND LOWER(subject) = ? AND event_at < ? ORDER BY event_at DESC LIMIT 1",
		EventSend, normalizeEmail(sender), clean, at.UTC(),
	)

	var ev SendEvent
	if err := row.Scan(&ev.CampaignID, &ev.Email, &ev.Subject, &ev.At); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("match reply: %w", err)
	}
	return &ev, nil
}

// StripReplyPrefix removes leading "Re:" markers, repeatedly, so
// "Re: RE: Quick question" matches the original subject.
func StripReplyPrefix(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		if !strings.HasPrefix(lower, "re:") {
			return s
		}
		s = strings.TrimSpace(s[3:])
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

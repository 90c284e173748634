package mail

import (
	"context"
	"math"
	"strings"

	"leadflow/internal/logging"
	"leadflow/internal/memory"
	"leadflow/internal/tracker"
	"leadflow/internal/types"
)

// ReplySync matches inbox messages back to tracked sends and records the
// outcome in the engagement tracker and the campaign memory store.
type ReplySync struct {
	reader types.InboxReader
	trk    *tracker.Tracker
	mem    *memory.Store
}

// NewReplySync wires a reader to the tracker and memory store. mem may be
// nil when only engagement tracking is wanted.
func NewReplySync(reader types.InboxReader, trk *tracker.Tracker, mem *memory.Store) *ReplySync {
	return &ReplySync{reader: reader, trk: trk, mem: mem}
}

// Run fetches the mailbox once and returns how many new replies were
// matched to tracked sends. Unmatched messages are ignored; replies
// already tracked count as zero.
func (s *ReplySync) Run(ctx context.Context) (int, error) {
	msgs, err := s.reader.FetchReplies(ctx)
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return matched, err
		}

		send, err := s.trk.MatchReply(m.From, m.Subject, m.Date)
		if err != nil {
			return matched, err
		}
		if send == nil {
			logging.MailDebug("unmatched message from=%s subject=%q", m.From, m.Subject)
			continue
		}

		score := PositivityScore(m.Snippet)
		recorded, err := s.trk.TrackReply(send.CampaignID, send.Email, m.From, m.Subject, m.Snippet, score, m.Date)
		if err != nil {
			return matched, err
		}
		if !recorded {
			continue
		}

		if s.mem != nil {
			if err := s.mem.RecordOutcome(ctx, send.CampaignID, send.Email, memory.SignalReplied); err != nil {
				logging.MailWarn("outcome not recorded campaign=%s email=%s: %v", send.CampaignID, send.Email, err)
			}
		}
		matched++
		logging.Mail("reply matched campaign=%s email=%s positivity=%.2f", send.CampaignID, send.Email, score)
	}
	return matched, nil
}

// Keyword sets for the sync-time sentiment estimate. Crude, but enough to
// separate "sounds great, book a call" from "unsubscribe" without another
// model call.
var (
	positiveWords = []string{
		"interested", "sounds good", "sounds great", "let's talk", "tell me more",
		"schedule", "demo", "call me", "happy to", "love to", "sure", "yes",
	}
	negativeWords = []string{
		"not interested", "no thanks", "unsubscribe", "remove me", "stop emailing",
		"don't contact", "not a fit", "no longer", "spam",
	}
)

// PositivityScore estimates reply sentiment in [0, 1]. Empty text scores 0
// (unscored); text without keyword hits scores 0.5 (neutral). Negative
// phrases are consumed before positive matching so "not interested" never
// counts as a hit for "interested".
func PositivityScore(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	lower := strings.ToLower(text)

	var pos, neg int
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
			lower = strings.ReplaceAll(lower, w, " ")
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	if pos+neg == 0 {
		return 0.5
	}
	score := 0.5 + 0.5*float64(pos-neg)/float64(pos+neg)
	return math.Round(score*100) / 100
}

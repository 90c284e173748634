package mail

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"leadflow/internal/logging"
	"leadflow/internal/types"
)

// ReaderOptions configures the IMAP reply reader.
type ReaderOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	Lookback time.Duration
}

// Reader implements types.InboxReader over IMAP. Each fetch opens a fresh
// session; reply sync runs too rarely to keep a connection alive.
type Reader struct {
	opts ReaderOptions
}

// maxFetch bounds one sync pass so a flooded inbox cannot stall it.
const maxFetch = 500

// NewReader builds the reader. Host is required; port defaults to 993,
// mailbox to INBOX, lookback to 30 days.
func NewReader(opts ReaderOptions) (*Reader, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host required")
	}
	if opts.Port == 0 {
		opts.Port = 993
	}
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 30 * 24 * time.Hour
	}
	return &Reader{opts: opts}, nil
}

// FetchReplies pulls unseen messages received inside the lookback window,
// oldest first, and marks them seen so the next sync skips them. The
// tracker deduplicates anyway, so a failed mark only costs a re-read.
func (r *Reader) FetchReplies(ctx context.Context) ([]types.InboundMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("%s:%d", r.opts.Host, r.opts.Port)

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, &types.TransientServiceError{Service: "imap", Err: err}
	}
	defer c.Logout()

	// The v1 client predates context; a deadline maps onto its command
	// timeout instead.
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	if err := c.Login(r.opts.Username, r.opts.Password); err != nil {
		return nil, &types.PermanentServiceError{Service: "imap", Auth: true, Err: err}
	}

	if _, err := c.Select(r.opts.Mailbox, false); err != nil {
		return nil, &types.TransientServiceError{Service: "imap", Err: err}
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().Add(-r.opts.Lookback)
	criteria.WithoutFlags = []string{imap.SeenFlag}

	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, &types.TransientServiceError{Service: "imap", Err: err}
	}
	if len(seqNums) == 0 {
		logging.MailDebug("no unseen messages in %s", r.opts.Mailbox)
		return nil, nil
	}
	if len(seqNums) > maxFetch {
		logging.MailWarn("truncating fetch from %d to %d messages", len(seqNums), maxFetch)
		seqNums = seqNums[len(seqNums)-maxFetch:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var out []types.InboundMessage
	for msg := range messages {
		if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
			continue
		}
		m := types.InboundMessage{
			From:    msg.Envelope.From[0].Address(),
			Subject: msg.Envelope.Subject,
			Date:    msg.Envelope.Date.UTC(),
		}
		if body := msg.GetBody(section); body != nil {
			text, err := ExtractPlainText(body)
			if err != nil {
				logging.MailWarn("body extraction failed from=%s: %v", m.From, err)
			}
			m.Snippet = text
		}
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, &types.TransientServiceError{Service: "imap", Err: err}
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		logging.MailWarn("could not flag messages seen: %v", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	logging.Mail("fetched %d unseen message(s) from %s", len(out), r.opts.Mailbox)
	return out, nil
}

package types

import (
	"context"
	"time"
)

// LLMClient defines the interface for LLM interactions. Stage nodes depend on
// this rather than a concrete provider so tests can substitute a stub.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder is an optional capability for LLM clients that can produce text
// embeddings. The memory store uses it to rank historical entries by
// similarity; without it, recency ordering applies. Use type assertion to
// check support:
//
//	if emb, ok := client.(types.Embedder); ok {
//	    vectors, err := emb.Embed(ctx, texts)
//	}
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Transport delivers a single outbound message. Implementations classify
// failures into the error taxonomy (transient, permanent, auth) before
// returning so the dispatch gate can decide whether to retry.
type Transport interface {
	Send(ctx context.Context, to, subject, body string) error
}

// InboxReader pulls candidate reply messages from a mailbox. It runs outside
// the campaign pipeline; the reply sync matches its results back to tracked
// sends.
type InboxReader interface {
	// FetchReplies returns unprocessed inbound messages, oldest first.
	FetchReplies(ctx context.Context) ([]InboundMessage, error)
}

// InboundMessage is one message pulled by an InboxReader, reduced to the
// fields reply matching needs.
type InboundMessage struct {
	From    string
	Subject string
	Date    time.Time
	Snippet string
}

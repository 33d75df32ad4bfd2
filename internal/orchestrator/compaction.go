package orchestrator

import (
	"context"
	"strings"
	"time"

	"codi/internal/agentcore"
	"codi/internal/ctxwindow"
	"codi/internal/provider"
)

// compact runs the Context Manager's selection algorithm, summarizes the
// dropped prefix via a Provider, and replaces it with the synthetic summary
// (§4.4). A no-op when selection finds nothing to summarize.
func (o *Orchestrator) compact(ctx context.Context) error {
	msgs := o.State.Messages
	sel := ctxwindow.SelectMessagesToKeep(msgs, o.Context.Config, o.Working)
	if len(sel.Summarize) == 0 {
		return nil
	}

	toSummarize := make([]agentcore.Message, 0, len(sel.Summarize))
	for _, i := range sel.Summarize {
		toSummarize = append(toSummarize, msgs[i])
	}

	summary, err := o.summarize(ctx, toSummarize, o.State.ConversationSummary)
	if err != nil {
		return err
	}

	o.State.ConversationSummary = summary
	o.State.Messages = ctxwindow.ApplySelection(msgs, sel)
	o.Context.UpdateTokenCount(o.State.Messages)
	return nil
}

// summarize asks the summarizer Provider (or the main Provider, if none was
// configured separately) for a concise natural-language summary of the
// to-be-dropped messages, feeding the previous summary back in so
// summarization stays idempotent across repeated compactions.
func (o *Orchestrator) summarize(ctx context.Context, msgs []agentcore.Message, priorSummary string) (string, error) {
	p := o.SummarizerProvider
	if p == nil {
		p = o.Provider
	}

	var b strings.Builder
	if priorSummary != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(priorSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Summarize the conversation below concisely. Preserve facts, decisions, and any file paths mentioned.\n\n")
	for _, m := range msgs {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.ExtractedText())
		b.WriteString("\n")
	}

	req := []provider.Message{{Role: "user", Content: b.String(), CreatedAt: time.Now()}}
	ch, err := p.ChatStream(ctx, req, nil)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			out.WriteString(evt.Content)
		case provider.EventError:
			return "", evt.Err
		}
	}
	return strings.TrimSpace(out.String()), nil
}

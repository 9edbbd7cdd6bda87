// Package llmtest provides a scriptable Completer for agent tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/draftforge/draftforge/pkg/llm"
)

// RespondFunc decides the fake's answer for one completion. call counts from
// 1 and is global across goroutines; messages is the full conversation.
type RespondFunc func(call int, messages []llm.Message) (string, error)

// Fake is a Completer whose answers come from a RespondFunc. Safe for
// concurrent use. CompleteJSON goes through the real JSON-retry policy, so
// tests exercise the same parsing and corrective-retry behavior as
// production.
type Fake struct {
	respond RespondFunc

	mu    sync.Mutex
	calls [][]llm.Message
}

// NewFake creates a fake driven by respond.
func NewFake(respond RespondFunc) *Fake {
	return &Fake{respond: respond}
}

// Always creates a fake that returns the same text for every call.
func Always(text string) *Fake {
	return NewFake(func(int, []llm.Message) (string, error) { return text, nil })
}

// Complete records the conversation and delegates to the script.
func (f *Fake) Complete(_ context.Context, messages []llm.Message, _ *llm.Options) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]llm.Message(nil), messages...))
	call := len(f.calls)
	f.mu.Unlock()
	return f.respond(call, messages)
}

// CompleteJSON applies the production JSON-retry policy over Complete.
func (f *Fake) CompleteJSON(ctx context.Context, messages []llm.Message, schemaHint string, out any) error {
	return llm.CompleteJSONWith(ctx, f.Complete, messages, schemaHint, out)
}

// Calls returns how many completions were requested.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Conversations returns a copy of every recorded conversation in call order.
func (f *Fake) Conversations() [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]llm.Message, len(f.calls))
	copy(out, f.calls)
	return out
}

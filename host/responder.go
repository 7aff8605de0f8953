package host

import (
	"context"

	"pkt.systems/pslog"
)

// Injector pushes text back into a terminal surface. Injection is
// fire-and-forget; implementations must not block the caller.
type Injector interface {
	Inject(text string)
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(text string)

// Inject calls f(text).
func (f InjectorFunc) Inject(text string) {
	f(text)
}

// Responder reacts to committed lines.
type Responder interface {
	OnCommit(ctx context.Context, line string)
}

// ReplyResponder injects a fixed reply after every commit.
type ReplyResponder struct {
	Reply    string
	Injector Injector
}

// OnCommit injects the reply when one is configured.
func (r ReplyResponder) OnCommit(ctx context.Context, line string) {
	if r.Reply == "" || r.Injector == nil {
		return
	}
	pslog.Ctx(ctx).Debug("host reply inject", "len", len(r.Reply))
	r.Injector.Inject(r.Reply)
}

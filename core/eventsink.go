package core

// EnvelopeSink receives encoded envelopes from a surface, in emission order.
// Publish must not block.
type EnvelopeSink interface {
	Publish(envelope string)
}

// EnvelopeSinkFunc adapts a function to EnvelopeSink.
type EnvelopeSinkFunc func(envelope string)

// Publish implements EnvelopeSink.
func (f EnvelopeSinkFunc) Publish(envelope string) {
	f(envelope)
}

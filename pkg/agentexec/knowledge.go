package agentexec

import "context"

// Knowledge supplies reference material for a query, typically from an
// indexed document store. The agent treats it as opaque: implementations
// own their storage and are rebuilt whenever the agent is reconstructed.
type Knowledge interface {
	// Lookup returns background text relevant to the query, or "" when
	// the store has nothing to add.
	Lookup(ctx context.Context, query string) (string, error)
	Close() error
}

// noopKnowledge is the default when no knowledge backend is configured.
type noopKnowledge struct{}

func (noopKnowledge) Lookup(context.Context, string) (string, error) { return "", nil }
func (noopKnowledge) Close() error                                   { return nil }

// NewKnowledge builds the knowledge backend for the configured servers.
// No backend is configured in the default deployment, so this returns the
// no-op store; swapping in a real one only touches this constructor.
func NewKnowledge() Knowledge {
	return noopKnowledge{}
}

package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yinglj/resolve-ai/pkg/agentexec"
)

type nopRunner struct{ marker int }

func (n *nopRunner) Run(ctx context.Context, query string) (string, error) {
	return "", nil
}

func (n *nopRunner) RunStream(ctx context.Context, query string) (<-chan agentexec.Chunk, error) {
	ch := make(chan agentexec.Chunk)
	close(ch)
	return ch, nil
}

func TestStoreCreateGetDelete(t *testing.T) {
	st := NewStore()
	agent := &nopRunner{marker: 1}

	sess := st.Create("s1", agent)
	assert.Equal(t, "s1", sess.ID)
	assert.True(t, st.Has("s1"))
	assert.Equal(t, 1, st.Len())

	got, ok := st.Get("s1")
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Same(t, agent, got.Agent())

	assert.True(t, st.Delete("s1"))
	assert.False(t, st.Delete("s1"))
	assert.False(t, st.Has("s1"))
}

func TestSessionHistoryAppendOnly(t *testing.T) {
	st := NewStore()
	sess := st.Create("s1", nil)

	sess.AppendQuery("add a marker at frame 100")
	sess.AppendResponse("done")

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, "add a marker at frame 100", history[0].Query)
	assert.Empty(t, history[0].Response)
	assert.Equal(t, "done", history[1].Response)

	// The returned slice is a copy.
	history[0].Query = "mutated"
	assert.Equal(t, "add a marker at frame 100", sess.History()[0].Query)
}

func TestStoreRebindAll(t *testing.T) {
	st := NewStore()
	old := &nopRunner{marker: 1}
	a := st.Create("a", old)
	b := st.Create("b", old)
	a.AppendQuery("q")

	fresh := &nopRunner{marker: 2}
	st.RebindAll(fresh)

	assert.Same(t, fresh, a.Agent())
	assert.Same(t, fresh, b.Agent())
	// History untouched by rebinding.
	assert.Len(t, a.History(), 1)
}

func TestStoreClearAndIDs(t *testing.T) {
	st := NewStore()
	st.Create("a", nil)
	st.Create("b", nil)
	assert.ElementsMatch(t, []string{"a", "b"}, st.IDs())

	st.Clear()
	assert.Zero(t, st.Len())
	assert.Empty(t, st.IDs())
}

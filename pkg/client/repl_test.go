package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newHistoryREPL(entries ...string) *REPL {
	r := NewREPL(New("http://localhost/rpc", "k", 0), strings.NewReader(""), &strings.Builder{})
	r.history = entries
	return r
}

func TestResolveBangNumeric(t *testing.T) {
	r := newHistoryREPL("open project demo", "add a marker", "save the project")

	got, ok := r.resolveBang("!2")
	assert.True(t, ok)
	assert.Equal(t, "add a marker", got)

	_, ok = r.resolveBang("!7")
	assert.False(t, ok)

	_, ok = r.resolveBang("!0")
	assert.False(t, ok)
}

func TestResolveBangPrefixPicksMostRecent(t *testing.T) {
	r := newHistoryREPL("add a marker", "save the project", "add a title")

	got, ok := r.resolveBang("!add")
	assert.True(t, ok)
	assert.Equal(t, "add a title", got)

	_, ok = r.resolveBang("!delete")
	assert.False(t, ok)
}

func TestResolveBangPassthrough(t *testing.T) {
	r := newHistoryREPL()

	got, ok := r.resolveBang("start session")
	assert.True(t, ok)
	assert.Equal(t, "start session", got)

	// A bare bang is neither a command nor a reference.
	_, ok = r.resolveBang("!")
	assert.False(t, ok)
}

package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/yinglj/resolve-ai/pkg/rpc"
	"github.com/yinglj/resolve-ai/pkg/sse"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	responseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	chunkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

const helpText = `Commands:
  start session      create a new session on the server
  end session        end the current session
  stream <query>     run a query over the streaming endpoint
  history            show queries entered in this run
  !<n>               re-run history entry n
  !<prefix>          re-run the most recent query starting with prefix
  help               show this help
  exit / quit        leave the simulator

Anything else is sent as a query to the current session.`

// REPL is the interactive client simulator. It keeps the session id and
// a local history of entered queries; bang commands resolve against that
// history before dispatch.
type REPL struct {
	client    *Client
	sessionID string
	history   []string
	in        *bufio.Scanner
	out       io.Writer
}

// NewREPL wires the simulator to a client and an input/output pair.
func NewREPL(c *Client, in io.Reader, out io.Writer) *REPL {
	return &REPL{
		client: c,
		in:     bufio.NewScanner(in),
		out:    out,
	}
}

// Run drives the read-eval loop until exit, EOF, or context cancellation.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, bannerStyle.Render("Resolve AI client simulator"))
	fmt.Fprintln(r.out, systemStyle.Render(`Type "help" for commands, "exit" to quit.`))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fmt.Fprint(r.out, r.prompt())
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		resolved, ok := r.resolveBang(line)
		if !ok {
			fmt.Fprintln(r.out, warnStyle.Render("No matching history entry: "+line))
			continue
		}
		if resolved != line {
			fmt.Fprintln(r.out, systemStyle.Render("> "+resolved))
		}

		if done := r.dispatch(ctx, resolved); done {
			return nil
		}
	}
}

func (r *REPL) prompt() string {
	session := "None"
	if r.sessionID != "" {
		session = r.sessionID
	}
	return promptStyle.Render(fmt.Sprintf("[Session: %s] > ", session))
}

// dispatch runs one resolved line. Returns true when the loop should stop.
func (r *REPL) dispatch(ctx context.Context, line string) bool {
	switch {
	case line == "exit" || line == "quit":
		if r.sessionID != "" {
			r.endSession(ctx)
		}
		fmt.Fprintln(r.out, systemStyle.Render("Bye."))
		return true
	case line == "help":
		fmt.Fprintln(r.out, systemStyle.Render(helpText))
	case line == "history":
		r.printHistory()
	case line == "start session":
		r.startSession(ctx)
	case line == "end session":
		r.endSession(ctx)
	case strings.HasPrefix(line, "stream "):
		q := strings.TrimSpace(strings.TrimPrefix(line, "stream "))
		r.history = append(r.history, line)
		r.streamQuery(ctx, q)
	default:
		r.history = append(r.history, line)
		r.query(ctx, line)
	}
	return false
}

// resolveBang expands !n and !prefix against the local history. A plain
// line passes through unchanged. Returns false when nothing matches.
func (r *REPL) resolveBang(line string) (string, bool) {
	if !strings.HasPrefix(line, "!") || line == "!" {
		return line, line != "!"
	}
	ref := line[1:]

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(r.history) {
			return "", false
		}
		return r.history[n-1], true
	}

	// Prefix match, most recent first.
	for i := len(r.history) - 1; i >= 0; i-- {
		if strings.HasPrefix(r.history[i], ref) {
			return r.history[i], true
		}
	}
	return "", false
}

func (r *REPL) printHistory() {
	if len(r.history) == 0 {
		fmt.Fprintln(r.out, systemStyle.Render("History is empty."))
		return
	}
	for i, entry := range r.history {
		fmt.Fprintf(r.out, "%s\n", systemStyle.Render(fmt.Sprintf("%3d  %s", i+1, entry)))
	}
}

func (r *REPL) startSession(ctx context.Context) {
	if r.sessionID != "" {
		fmt.Fprintln(r.out, warnStyle.Render("Already in session "+r.sessionID+"; ending it first."))
		r.endSession(ctx)
	}
	id, err := r.client.StartSession(ctx)
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render("start session failed: "+err.Error()))
		return
	}
	r.sessionID = id
	fmt.Fprintln(r.out, responseStyle.Render("Session started: "+id))
}

func (r *REPL) endSession(ctx context.Context) {
	if r.sessionID == "" {
		fmt.Fprintln(r.out, warnStyle.Render("No active session."))
		return
	}
	if err := r.client.EndSession(ctx, r.sessionID); err != nil {
		fmt.Fprintln(r.out, errorStyle.Render("end session failed: "+err.Error()))
	} else {
		fmt.Fprintln(r.out, responseStyle.Render("Session ended: "+r.sessionID))
	}
	r.sessionID = ""
}

func (r *REPL) query(ctx context.Context, q string) {
	if r.sessionID == "" {
		fmt.Fprintln(r.out, warnStyle.Render(`No active session. Run "start session" first.`))
		return
	}
	response, err := r.client.ProcessQuery(ctx, r.sessionID, q)
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render("query failed: "+err.Error()))
		return
	}
	fmt.Fprintln(r.out, responseStyle.Render(response))
}

func (r *REPL) streamQuery(ctx context.Context, q string) {
	if r.sessionID == "" {
		fmt.Fprintln(r.out, warnStyle.Render(`No active session. Run "start session" first.`))
		return
	}
	dec, closeStream, err := r.client.Stream(ctx, rpc.Params{SessionID: r.sessionID, Query: q})
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render("stream failed: "+err.Error()))
		return
	}
	defer closeStream()

	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintln(r.out, errorStyle.Render("stream read failed: "+err.Error()))
			return
		}
		r.printStreamEvent(ev)
	}
}

func (r *REPL) printStreamEvent(ev sse.Event) {
	switch {
	case ev.DecodeErr != nil:
		fmt.Fprintln(r.out, warnStyle.Render("undecodable event: "+ev.DecodeErr.Error()))
	case ev.Err != nil:
		fmt.Fprintf(r.out, "%s\n", errorStyle.Render(fmt.Sprintf("stream error %d: %s", ev.Err.Code, ev.Err.Message)))
	case ev.IsStreamComplete():
		fmt.Fprintln(r.out, systemStyle.Render("[stream complete]"))
	default:
		if response, ok := ev.Result["response"].(string); ok && response != "" {
			fmt.Fprintln(r.out, responseStyle.Render(response))
			return
		}
		if content, ok := ev.Result["content"].(string); ok && content != "" {
			fmt.Fprintln(r.out, chunkStyle.Render(content))
		}
	}
}

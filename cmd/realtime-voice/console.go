package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/AltairaLabs/realtime-voice/config"
	"github.com/AltairaLabs/realtime-voice/protocol"
)

// console prints the conversation as it streams in. It is not safe for
// concurrent use.
type console struct {
	out   io.Writer
	tools *config.ToolSet

	printed  map[string]int
	answered map[string]bool
	open     string
}

func newConsole(out io.Writer, tools *config.ToolSet) *console {
	return &console{
		out:      out,
		tools:    tools,
		printed:  make(map[string]int),
		answered: make(map[string]bool),
	}
}

// functionCall is a completed call awaiting its output.
type functionCall struct {
	CallID string
	Output string
}

// refresh prints text added to items since the last call and returns the
// function calls that completed since then, already answered.
func (c *console) refresh(items []protocol.Item) []functionCall {
	var calls []functionCall
	for _, it := range items {
		switch it.Type {
		case protocol.ItemTypeMessage:
			c.printItem(it)
		case protocol.ItemTypeFunctionCall:
			if it.Status != "completed" || it.CallID == "" || c.answered[it.CallID] {
				continue
			}
			c.answered[it.CallID] = true
			calls = append(calls, functionCall{CallID: it.CallID, Output: c.call(it)})
		}
	}
	return calls
}

func (c *console) printItem(it protocol.Item) {
	var text strings.Builder
	for _, part := range it.Content {
		text.WriteString(part.Text)
		text.WriteString(part.Transcript)
	}
	full := text.String()
	done := c.printed[it.ID]
	if len(full) <= done {
		return
	}

	if c.open != it.ID {
		if c.open != "" {
			fmt.Fprintln(c.out)
		}
		fmt.Fprintf(c.out, "%s: ", speaker(it.Role))
		if done > 0 {
			fmt.Fprint(c.out, "...")
		}
		c.open = it.ID
	}
	fmt.Fprint(c.out, full[done:])
	c.printed[it.ID] = len(full)
}

func (c *console) call(it protocol.Item) string {
	c.closeLine()
	fmt.Fprintf(c.out, "[tool] %s(%s)\n", it.Name, it.Arguments)

	if c.tools == nil {
		return errorOutput(fmt.Errorf("%w: %s", config.ErrUnknownTool, it.Name))
	}
	out, err := c.tools.Call(it.Name, it.Arguments)
	if err != nil {
		return errorOutput(err)
	}
	return out
}

// serverError prints an error reported by the server.
func (c *console) serverError(detail protocol.ErrorDetail) {
	c.closeLine()
	if detail.Code != "" {
		fmt.Fprintf(c.out, "[error] %s (%s): %s\n", detail.Type, detail.Code, detail.Message)
		return
	}
	fmt.Fprintf(c.out, "[error] %s: %s\n", detail.Type, detail.Message)
}

// notice prints a status line.
func (c *console) notice(format string, args ...any) {
	c.closeLine()
	fmt.Fprintf(c.out, "* "+format+"\n", args...)
}

func (c *console) closeLine() {
	if c.open != "" {
		fmt.Fprintln(c.out)
		c.open = ""
	}
}

func speaker(role protocol.Role) string {
	if role == "" {
		return "?"
	}
	if role == protocol.RoleUser {
		return "you"
	}
	return string(role)
}

func errorOutput(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

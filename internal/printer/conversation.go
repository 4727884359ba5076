package printer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/dyluth/agora/pkg/blackboard"
	"github.com/dyluth/agora/pkg/ledger"
)

var speakerColors = []*color.Color{
	color.New(color.FgCyan, color.Bold),
	color.New(color.FgMagenta, color.Bold),
	color.New(color.FgYellow, color.Bold),
	color.New(color.FgBlue, color.Bold),
	color.New(color.FgGreen, color.Bold),
}

// Conversation renders stream events as a transcript. Chunks are written as
// they arrive; when a message had no chunks its full text is written at the
// end. It satisfies the stream emitter interface.
type Conversation struct {
	w io.Writer

	mu       sync.Mutex
	colors   map[string]*color.Color
	streamed bool
}

// NewConversation creates a transcript renderer writing to w.
func NewConversation(w io.Writer) *Conversation {
	return &Conversation{w: w, colors: make(map[string]*color.Color)}
}

func (c *Conversation) speaker(name string) string {
	col, ok := c.colors[name]
	if !ok {
		col = speakerColors[len(c.colors)%len(speakerColors)]
		c.colors[name] = col
	}
	return col.Sprint(name)
}

// Emit writes one event.
func (c *Conversation) Emit(_ context.Context, e blackboard.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch e.Type {
	case blackboard.EventMessageStart:
		c.streamed = false
		_, err = fmt.Fprintf(c.w, "%s: ", c.speaker(e.Speaker))
	case blackboard.EventChunk:
		c.streamed = true
		_, err = io.WriteString(c.w, e.Delta)
	case blackboard.EventMessageEnd:
		if !c.streamed {
			_, err = io.WriteString(c.w, e.Text)
		}
		if err == nil {
			_, err = io.WriteString(c.w, "\n\n")
		}
	case blackboard.EventDone:
		_, err = green.Fprintln(c.w, "✓ Conversation finished")
	case blackboard.EventError:
		_, err = red.Fprintf(c.w, "Conversation failed: %s\n", e.Detail)
	}
	return err
}

// Entries writes ledger entries as a transcript.
func Entries(w io.Writer, entries []ledger.Entry) error {
	c := NewConversation(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s: %s\n\n", c.speaker(e.Role), e.Content); err != nil {
			return err
		}
	}
	return nil
}

package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/agora/pkg/blackboard"
)

type formatter interface {
	FormatEvent(e blackboard.Event) error
	FormatRound(r *blackboard.RoundEvent) error
	FormatWarning(err error) error
}

func newFormatter(format OutputFormat, w io.Writer, chunks bool) formatter {
	if format == OutputFormatJSON {
		return &jsonFormatter{writer: w, chunks: chunks}
	}
	return &defaultFormatter{writer: w, chunks: chunks}
}

// defaultFormatter writes one timestamped line per event.
type defaultFormatter struct {
	writer io.Writer
	chunks bool
}

func (f *defaultFormatter) line(format string, a ...any) error {
	_, err := fmt.Fprintf(f.writer, "[%s] %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, a...))
	return err
}

func (f *defaultFormatter) FormatEvent(e blackboard.Event) error {
	switch e.Type {
	case blackboard.EventMessageStart:
		return f.line("🎙️  %s is speaking", e.Speaker)
	case blackboard.EventChunk:
		if !f.chunks {
			return nil
		}
		return f.line("   %s: …%s", e.Speaker, e.Delta)
	case blackboard.EventMessageEnd:
		return f.line("💬 %s: %s", e.Speaker, e.Text)
	case blackboard.EventDone:
		return f.line("🎉 Conversation finished")
	case blackboard.EventError:
		return f.line("❌ Conversation failed: %s", e.Detail)
	default:
		return f.line("❓ Unknown event: type=%s", e.Type)
	}
}

func (f *defaultFormatter) FormatRound(r *blackboard.RoundEvent) error {
	if r.Outcome == blackboard.RoundOutcomeNoViableBid {
		return f.line("⏭️  Round %d skipped: no viable bids (bids=%s)", r.Round, formatCounts(r.Bids))
	}
	return f.line("🏆 Round %d granted: winner=%s, bid=%d, bids=%s, credits=%s",
		r.Round, r.Winner, r.WinningBid, formatCounts(r.Bids), formatCounts(r.Credits))
}

func (f *defaultFormatter) FormatWarning(err error) error {
	return f.line("⚠️  Skipped malformed message: %v", err)
}

// formatCounts renders a map as "A:1,B:2" in key order.
func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%d", k, m[k])
	}
	return strings.Join(parts, ",")
}

// jsonFormatter writes line-delimited JSON objects tagged with "event".
type jsonFormatter struct {
	writer io.Writer
	chunks bool
}

func (f *jsonFormatter) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(f.writer, "%s\n", data)
	return err
}

func (f *jsonFormatter) FormatEvent(e blackboard.Event) error {
	if e.Type == blackboard.EventChunk && !f.chunks {
		return nil
	}
	return f.write(struct {
		Event string           `json:"event"`
		Data  blackboard.Event `json:"data"`
	}{"stream", e})
}

func (f *jsonFormatter) FormatRound(r *blackboard.RoundEvent) error {
	return f.write(struct {
		Event string                 `json:"event"`
		Data  *blackboard.RoundEvent `json:"data"`
	}{"round", r})
}

func (f *jsonFormatter) FormatWarning(err error) error {
	return f.write(struct {
		Event string `json:"event"`
		Error string `json:"error"`
	}{"malformed", err.Error()})
}

// Package ledger provides the append-only conversation history used by the
// agora turn scheduler.
//
// # Overview
//
// The ledger is the only durable state of a simulation. Every turn that the
// scheduler grants ends with exactly one entry appended to a newline-delimited
// JSON file:
//
//	{"role": "Anagha", "content": "I think we should start with the data."}
//	{"role": "Gaurav", "content": "Agreed, but which data?"}
//
// The file is never rewritten. It records the transcript and, implicitly, who
// spoke last: the scheduler reads the tail of the ledger on start-up to seed
// the self-repeat rule.
//
// # Tolerant Reading
//
// Older writers occasionally produced two records on one line, and a crashed
// writer can leave a half-written line at the end of the file. Readers
// therefore:
//
//   - decode every JSON object found on a line, in order
//   - skip records that are not valid JSON or have no role
//   - never consume a trailing line that has no terminating newline when reading
//     incrementally, so a writer that is mid-append is picked up on the next poll
//
// Malformed input is reported through an optional hook and never stops a read.
//
// # Incremental Reads
//
// Readers track their position with a Cursor, the byte offset just past the
// last complete line they consumed:
//
//	entries, next, err := l.ReadNewEntriesSince(ctx, cursor)
//
// A Tailer wraps this with fsnotify change notification and a polling fallback
// so that observers can follow a live ledger without the writer knowing about
// them.
package ledger

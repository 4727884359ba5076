package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// EncodeEntry renders an entry as one JSON line, including the trailing newline.
func EncodeEntry(e Entry) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid entry: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}

	return append(data, '\n'), nil
}

// DecodeLine decodes every record found on a single ledger line.
//
// Lines holding several concatenated objects yield one entry per object.
// Decoding stops at the first byte that is not valid JSON; entries decoded
// before that point are still returned alongside an ErrMalformedLine error.
// Objects without a role are skipped and also reported. Blank lines return
// no entries and no error.
func DecodeLine(line []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))

	var (
		entries []Entry
		skipped int
	)
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		if err := e.Validate(); err != nil {
			skipped++
			continue
		}
		entries = append(entries, e)
	}

	if skipped > 0 {
		return entries, fmt.Errorf("%w: %d record(s) without a role", ErrMalformedLine, skipped)
	}
	return entries, nil
}

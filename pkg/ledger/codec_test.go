package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEntry(t *testing.T) {
	t.Run("writes one terminated line", func(t *testing.T) {
		line, err := EncodeEntry(Entry{Role: "Anagha", Content: "hello\nthere"})
		require.NoError(t, err)
		assert.Equal(t, `{"role":"Anagha","content":"hello\nthere"}`+"\n", string(line))
	})

	t.Run("allows empty content", func(t *testing.T) {
		_, err := EncodeEntry(Entry{Role: "Anagha"})
		assert.NoError(t, err)
	})

	t.Run("rejects empty role", func(t *testing.T) {
		_, err := EncodeEntry(Entry{Role: "  ", Content: "x"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "role cannot be empty")
	})
}

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		want      []Entry
		malformed bool
	}{
		{
			name: "single record",
			line: `{"role": "A", "content": "one"}`,
			want: []Entry{{Role: "A", Content: "one"}},
		},
		{
			name: "blank line",
			line: "   ",
		},
		{
			name: "concatenated records with a space",
			line: `{"role": "A", "content": "one"} {"role": "B", "content": "two"}`,
			want: []Entry{{Role: "A", Content: "one"}, {Role: "B", Content: "two"}},
		},
		{
			name: "concatenated records without separator",
			line: `{"role":"A","content":"one"}{"role":"B","content":"two"}`,
			want: []Entry{{Role: "A", Content: "one"}, {Role: "B", Content: "two"}},
		},
		{
			name:      "not json",
			line:      "not-json",
			malformed: true,
		},
		{
			name:      "valid record then garbage",
			line:      `{"role": "A", "content": "one"} garbage`,
			want:      []Entry{{Role: "A", Content: "one"}},
			malformed: true,
		},
		{
			name:      "record without role is skipped",
			line:      `{"content": "orphan"} {"role": "B", "content": "two"}`,
			want:      []Entry{{Role: "B", Content: "two"}},
			malformed: true,
		},
		{
			name:      "truncated record",
			line:      `{"role": "A", "cont`,
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeLine([]byte(tt.line))
			assert.Equal(t, tt.want, got)
			if tt.malformed {
				assert.ErrorIs(t, err, ErrMalformedLine)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFormatTranscript(t *testing.T) {
	t.Run("empty history", func(t *testing.T) {
		assert.Equal(t, NoHistory, FormatTranscript(nil))
	})

	t.Run("capitalises roles", func(t *testing.T) {
		got := FormatTranscript([]Entry{
			{Role: "anagha", Content: "hi"},
			{Role: "GAURAV", Content: "hello"},
		})
		assert.Equal(t, "Anagha: hi\nGaurav: hello\n", got)
	})
}

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{
			name:  "error field wins",
			reply: `{"error":"rate limited","lambda":{"generated_text":"ignored"}}`,
			want:  "Error: rate limited",
		},
		{
			name:  "empty error is ignored",
			reply: `{"error":"","lambda":{"generated_text":"Hi"}}`,
			want:  "Hi",
		},
		{
			name:  "missing lambda",
			reply: `{}`,
			want:  NoResponseText,
		},
		{
			name:  "null lambda",
			reply: `{"lambda":null}`,
			want:  NoResponseText,
		},
		{
			name:  "body encoded object",
			reply: `{"lambda":{"statusCode":200,"body":"{\"generated_text\":\"Hi there\"}"}}`,
			want:  "Hi there",
		},
		{
			name:  "string encoded object",
			reply: `{"lambda":"{\"generated_text\":\"From string\"}"}`,
			want:  "From string",
		},
		{
			name:  "plain object",
			reply: `{"lambda":{"generated_text":"Plain"}}`,
			want:  "Plain",
		},
		{
			name:  "string that is not json",
			reply: `{"lambda":"just text"}`,
			want:  "just text",
		},
		{
			name:  "string encoding a json string",
			reply: `{"lambda":"\"quoted\""}`,
			want:  "quoted",
		},
		{
			name:  "body that is not json falls back to lambda dump",
			reply: `{"lambda":{"body":"oops"}}`,
			want:  "{\n  \"body\": \"oops\"\n}",
		},
		{
			name:  "object without generated_text is dumped",
			reply: `{"lambda":{"answer":42}}`,
			want:  "{\n  \"answer\": 42\n}",
		},
		{
			name:  "empty generated_text is dumped",
			reply: `{"lambda":{"generated_text":""}}`,
			want:  "{\n  \"generated_text\": \"\"\n}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize([]byte(tt.reply)))
		})
	}
}

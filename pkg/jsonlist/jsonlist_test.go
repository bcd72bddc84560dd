package jsonlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "valid list", raw: `["design","review"]`, want: []string{"design", "review"}},
		{name: "empty list", raw: `[]`, want: nil},
		{name: "malformed falls back to empty", raw: `design, review`, want: nil},
		{name: "wrong type falls back to empty", raw: `{"a":1}`, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.raw))
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	assert.Equal(t, "", Encode(nil))
	assert.Equal(t, "", Encode([]string{}))

	raw := Encode([]string{"crawl", "index"})
	assert.Equal(t, `["crawl","index"]`, raw)
	assert.Equal(t, []string{"crawl", "index"}, Decode(raw))
}

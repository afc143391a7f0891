package nfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"default key", DefaultKey, false},
		{"lower case", "a0a1a2a3a4a5", false},
		{"too short", "ffff", true},
		{"not hex", "zzzzzzzzzzzz", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k, err := ParseKey(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tc.in)/2, len(k))
		})
	}
}

func TestCardReadString(t *testing.T) {
	assert.Equal(t, "no card", CardRead{}.String())

	r := CardRead{Present: true, UID: []byte{0xde, 0xad, 0xbe, 0xef}, Capacity: 8, Block: []byte{1, 2}}
	assert.Equal(t, "deadbeef", r.ID())
	assert.Equal(t, "UID: [de ad be ef], capacity: 8, block: [01 02]", r.String())
}

package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeDate(t *testing.T) {
	tests := []struct {
		name     string
		date     string
		expected []int64
	}{
		{
			name:     "full date",
			date:     "2014-05-13",
			expected: []int64{2, 0, 1, 4, 14, 23, 25},
		},
		{
			name:     "january first",
			date:     "1999-01-01",
			expected: []int64{1, 9, 9, 9, 10, 22, 23},
		},
		{
			name:     "december thirty-first",
			date:     "2020-12-31",
			expected: []int64{2, 0, 2, 0, 21, 25, 23},
		},
		{
			name:     "year only",
			date:     "1987",
			expected: []int64{1, 9, 8, 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := TokenizeDate(tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tokens)
			for _, tok := range tokens {
				assert.Less(t, tok, int64(NumTimeTokens))
				assert.GreaterOrEqual(t, tok, int64(0))
			}
		})
	}
}

func TestTokenizeDateRejectsMalformed(t *testing.T) {
	for _, date := range []string{"", "14-05-13", "2014-13-01", "2014-00-10", "2014-05", "2014-05-1", "2014-05-32", "20a4-05-13", "2014/05/13"} {
		_, err := TokenizeDate(date)
		assert.Error(t, err, date)
	}
}

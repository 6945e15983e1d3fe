package knowledge

import (
	"fmt"
	"strconv"
	"strings"
)

// NumTimeTokens is the size of the time-token vocabulary: ten year digits,
// twelve months and ten day digits.
const NumTimeTokens = 32

const (
	yearTokenBase  = 0
	monthTokenBase = 10
	dayTokenBase   = 22
)

// TokenizeDate turns a "YYYY-MM-DD" or "YYYY" date into time-token ids.
// "2014-05-13" becomes [2y 0y 1y 4y 05m 1d 3d].
func TokenizeDate(date string) ([]int64, error) {
	parts := strings.Split(strings.TrimSpace(date), "-")
	if len(parts) != 1 && len(parts) != 3 {
		return nil, fmt.Errorf("date %q: want YYYY-MM-DD or YYYY", date)
	}

	year := parts[0]
	if len(year) != 4 {
		return nil, fmt.Errorf("date %q: year must have 4 digits", date)
	}
	tokens := make([]int64, 0, 7)
	for _, c := range year {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("date %q: invalid year digit %q", date, c)
		}
		tokens = append(tokens, yearTokenBase+int64(c-'0'))
	}
	if len(parts) == 1 {
		return tokens, nil
	}

	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 || len(parts[1]) != 2 {
		return nil, fmt.Errorf("date %q: invalid month %q", date, parts[1])
	}
	tokens = append(tokens, monthTokenBase+int64(month-1))

	day := parts[2]
	if len(day) != 2 {
		return nil, fmt.Errorf("date %q: day must have 2 digits", date)
	}
	if n, err := strconv.Atoi(day); err != nil || n < 1 || n > 31 {
		return nil, fmt.Errorf("date %q: invalid day %q", date, day)
	}
	for _, c := range day {
		tokens = append(tokens, dayTokenBase+int64(c-'0'))
	}
	return tokens, nil
}

package normalize

import (
	"strconv"
	"strings"
)

// ParseISODuration converts an ISO-8601 duration like "PT1H30M15S" to
// whole seconds. Malformed input yields 0; a bad duration should never
// sink a batch of otherwise good records.
func ParseISODuration(s string) int {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s[0] != 'P' {
		return 0
	}
	s = s[1:]

	var total float64
	inTime := false
	num := ""

	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r == '.':
			num += string(r)
		case r == 'T':
			if inTime || num != "" {
				return 0
			}
			inTime = true
		case r == 'D' && !inTime:
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0
			}
			total += v * 86400
			num = ""
		case r == 'H' && inTime:
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0
			}
			total += v * 3600
			num = ""
		case r == 'M' && inTime:
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0
			}
			total += v * 60
			num = ""
		case r == 'S' && inTime:
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0
			}
			total += v
			num = ""
		default:
			return 0
		}
	}

	if num != "" {
		// trailing digits with no unit designator
		return 0
	}
	return int(total)
}

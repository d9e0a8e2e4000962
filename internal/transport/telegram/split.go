package telegram

import "strings"

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries and, in HTML mode, never cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	html := strings.EqualFold(parseMode, "HTML")
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			// newline cut, unless it leaves a tiny chunk
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		if html && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

package epub

import (
	"strconv"
	"strings"
)

// candidate is one entry of a srcset attribute.
type candidate struct {
	URL   string
	Width int // 0 when no w descriptor was given
}

// parseSrcset splits a srcset value into its candidates in declaration
// order. Candidates without a URL are dropped; descriptors other than a
// positive width are ignored.
func parseSrcset(value string) []candidate {
	var out []candidate
	s := value
	for {
		s = strings.TrimLeft(s, " \t\n\r\f,")
		if s == "" {
			return out
		}

		end := strings.IndexAny(s, " \t\n\r\f")
		if end < 0 {
			end = len(s)
		}
		rawURL := s[:end]
		s = s[end:]

		var descriptors string
		if trimmed := strings.TrimRight(rawURL, ","); trimmed != rawURL {
			// A trailing comma ends the candidate with no descriptors.
			rawURL = trimmed
		} else {
			descriptors, s = splitDescriptors(s)
		}
		if rawURL == "" {
			continue
		}
		out = append(out, candidate{URL: rawURL, Width: widthDescriptor(descriptors)})
	}
}

// splitDescriptors returns the descriptor text up to the comma that ends the
// current candidate, skipping commas nested in parentheses.
func splitDescriptors(s string) (string, string) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				return s[:i], s[i+1:]
			}
		}
	}
	return s, ""
}

func widthDescriptor(descriptors string) int {
	for _, d := range strings.Fields(descriptors) {
		if !strings.HasSuffix(d, "w") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(d, "w"))
		if err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// selectCandidate picks the candidate with the strictly largest width,
// or the first candidate when none declares a width.
func selectCandidate(cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Width > best.Width {
			best = c
		}
	}
	return best, true
}

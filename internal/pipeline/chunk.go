package pipeline

import "strings"

// maxMessageLen is the platform per-message character limit.
const maxMessageLen = 2000

// Chunk splits content into messages of at most maxMessageLen runes,
// preferring sentence boundaries, then newlines, then spaces. Cut points
// in the first half of a chunk are ignored so chunks stay reasonably full.
func Chunk(content string) []string {
	runes := []rune(content)
	if len(runes) <= maxMessageLen {
		return []string{content}
	}

	var out []string
	for len(runes) > 0 {
		if len(runes) <= maxMessageLen {
			out = append(out, strings.TrimLeft(string(runes), " "))
			break
		}
		window := runes[:maxMessageLen]
		cut := cutPoint(window)
		out = append(out, strings.TrimLeft(string(runes[:cut]), " "))
		runes = runes[cut:]
	}
	return out
}

func cutPoint(window []rune) int {
	half := len(window) / 2
	if idx := lastSentenceEnd(window); idx > half {
		return idx
	}
	if idx := lastIndexRune(window, '\n'); idx > half {
		return idx + 1
	}
	if idx := lastIndexRune(window, ' '); idx > half {
		return idx + 1
	}
	return len(window)
}

// lastSentenceEnd finds the position after the final ". ", "! ", "? " or
// terminal punctuation followed by a newline.
func lastSentenceEnd(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		switch window[i] {
		case ' ', '\n':
			prev := window[i-1]
			if prev == '.' || prev == '!' || prev == '?' {
				return i + 1
			}
		}
	}
	return -1
}

func lastIndexRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

package traderepublic

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Answer codes of the subscription protocol: "<id> <code> <payload>"
const (
	codeAnswer   = "A" // full payload
	codeDelta    = "D" // edits against the previous payload of the subscription
	codeComplete = "C" // subscription closed by the server
	codeError    = "E" // subscription failed
)

// frame is one decoded server message
type frame struct {
	id      int
	code    string
	payload string
}

// parseFrame splits "<id> <code> <payload>". The payload may be absent.
func parseFrame(data string) (frame, error) {
	parts := strings.SplitN(data, " ", 3)
	if len(parts) < 2 {
		return frame{}, fmt.Errorf("malformed frame %q", truncate(data))
	}

	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return frame{}, fmt.Errorf("malformed subscription id in frame %q", truncate(data))
	}

	f := frame{id: id, code: parts[1]}
	if len(parts) == 3 {
		f.payload = parts[2]
	}
	return f, nil
}

// applyDelta rebuilds a payload from the previous one and a tab-separated
// list of edits: "=n" copies n characters, "-n" skips n characters and
// "+text" inserts URL-encoded text.
func applyDelta(previous, delta string) (string, error) {
	prev := []rune(previous)
	pos := 0

	var b strings.Builder
	for _, diff := range strings.Split(delta, "\t") {
		if diff == "" {
			continue
		}

		switch diff[0] {
		case '+':
			text, err := url.QueryUnescape(diff[1:])
			if err != nil {
				return "", fmt.Errorf("invalid delta insert %q: %w", truncate(diff), err)
			}
			b.WriteString(strings.TrimSpace(text))
		case '=', '-':
			n, err := strconv.Atoi(diff[1:])
			if err != nil || n < 0 {
				return "", fmt.Errorf("invalid delta length %q", truncate(diff))
			}
			if pos+n > len(prev) {
				return "", fmt.Errorf("delta %q runs past previous payload (%d chars)", truncate(diff), len(prev))
			}
			if diff[0] == '=' {
				b.WriteString(string(prev[pos : pos+n]))
			}
			pos += n
		default:
			return "", fmt.Errorf("unknown delta instruction %q", truncate(diff))
		}
	}
	return b.String(), nil
}

func truncate(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

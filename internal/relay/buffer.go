package relay

import "bytes"

// lineBuffer frames an incoming byte stream into newline-terminated lines.
// At every point rest holds exactly the suffix of all bytes fed so far that
// follows the last '\n'.
type lineBuffer struct {
	rest []byte
}

// Feed appends p and returns all newly completed lines, without their
// terminating newline. Empty lines are returned too, dropping them is the
// caller's policy.
func (b *lineBuffer) Feed(p []byte) []string {
	if len(p) == 0 {
		return nil
	}
	b.rest = append(b.rest, p...)

	var lines []string
	for {
		i := bytes.IndexByte(b.rest, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(b.rest[:i]))
		b.rest = b.rest[i+1:]
	}
	return lines
}

// Rest returns the unterminated trailing fragment.
func (b *lineBuffer) Rest() string {
	return string(b.rest)
}

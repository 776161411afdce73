package service

import (
	"regexp"
	"strings"
)

// fencedBlock matches one ``` fenced block with an optional language tag.
var fencedBlock = regexp.MustCompile("(?s)```[ \t]*[A-Za-z0-9_+.-]*[ \t]*\r?\n(.*?)```")

// StripCodeFence returns the contents of the first fenced block in s, or s
// itself when there is none. A fence that was opened but never closed is
// dropped along with its tag line.
func StripCodeFence(s string) string {
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}

	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = ""
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

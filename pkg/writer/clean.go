package writer

import (
	"regexp"
	"strings"
)

var (
	boldRe      = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe    = regexp.MustCompile(`\*(.*?)\*`)
	headingRe   = regexp.MustCompile(`#{1,6}\s+`)
	codeBlockRe = regexp.MustCompile("```[\\s\\S]*?```")
	newlinesRe  = regexp.MustCompile(`\n{3,}`)
	trailingRe  = regexp.MustCompile(`[ \t]+\n`)
)

// Clean normalizes a draft into plain prose: the leading subtitle (which
// models love to repeat, sometimes as a heading) is stripped, Markdown
// decoration is removed, fenced code blocks are dropped, and whitespace is
// normalized. Clean is idempotent: Clean(Clean(x)) == Clean(x).
func Clean(prose, subtitle string) string {
	s := prose
	// Stripping decoration can expose a fresh leading subtitle; run to a
	// fixpoint so a second Clean is a no-op.
	for i := 0; i < 4; i++ {
		next := cleanOnce(s, subtitle)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func cleanOnce(prose, subtitle string) string {
	s := strings.TrimSpace(prose)

	for {
		trimmed := strings.TrimLeft(s, "# ")
		if subtitle != "" && strings.HasPrefix(trimmed, subtitle) {
			s = strings.TrimSpace(trimmed[len(subtitle):])
			continue
		}
		break
	}

	s = codeBlockRe.ReplaceAllString(s, "")
	s = boldRe.ReplaceAllString(s, "$1")
	s = italicRe.ReplaceAllString(s, "$1")
	s = headingRe.ReplaceAllString(s, "")
	s = trailingRe.ReplaceAllString(s, "\n")
	s = newlinesRe.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

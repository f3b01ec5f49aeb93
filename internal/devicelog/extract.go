package devicelog

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/restartfu/minerfleet/internal/domain"
)

const (
	maxLines         = 200
	minWindowedLines = 10
	minTagTextLen    = 50
	minContentLen    = 10
	minLineLen       = 5

	timestampLayout = "2006-01-02 15:04:05"
	maxFractionLen  = 6
)

// contentTags are tried in order; the first element of each is the candidate.
var contentTags = []string{"pre", "textarea", "code", "div"}

// hiddenTags hold markup that is never rendered as page text.
var hiddenTags = map[string]bool{"script": true, "style": true, "noscript": true}

var (
	timestampPattern = regexp.MustCompile(`(\d{2}-\d{2} \d{2}:\d{2}:\d{2})(?:\.(\d+))?`)
	flagPattern      = regexp.MustCompile(`\bE\b`)
)

// ExtractAndWindow turns a syslog page into at most 200 display lines. Lines
// stamped inside the window are preferred when there are at least 10 of them,
// otherwise the raw tail is returned. Timestamps carry no year and are read in
// the year and zone of now.
func ExtractAndWindow(markup string, window time.Duration, now time.Time) []domain.LogLine {
	text := ExtractText(markup)
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minContentLen {
		return nil
	}

	chosen := Window(SplitLines(text), window, now)
	out := make([]domain.LogLine, 0, len(chosen))
	for _, line := range chosen {
		out = append(out, domain.LogLine{Text: line, Flagged: flagPattern.MatchString(line)})
	}
	return out
}

// ExtractText returns the text of the first pre, textarea, code or div element
// holding more than 50 characters, or the whole document text.
func ExtractText(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return markup
	}
	for _, tag := range contentTags {
		node := findFirst(doc, tag)
		if node == nil {
			continue
		}
		text := textOf(node)
		if utf8.RuneCountInString(strings.TrimSpace(text)) > minTagTextLen {
			return text
		}
	}
	return textOf(doc)
}

// SplitLines trims every line and drops blank and short ones.
func SplitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) > minLineLen {
			lines = append(lines, line)
		}
	}
	return lines
}

func Window(lines []string, window time.Duration, now time.Time) []string {
	cutoff := now.Add(-window)
	var recent []string
	for _, line := range lines {
		stamp, ok := parseTimestamp(line, now)
		if ok && !stamp.Before(cutoff) {
			recent = append(recent, line)
		}
	}
	if len(recent) >= minWindowedLines {
		return tail(recent, maxLines)
	}
	return tail(lines, maxLines)
}

func parseTimestamp(line string, now time.Time) (time.Time, bool) {
	match := timestampPattern.FindStringSubmatch(line)
	if match == nil || len(match[2]) > maxFractionLen {
		return time.Time{}, false
	}
	stamp, err := time.ParseInLocation(timestampLayout, fmt.Sprintf("%d-%s", now.Year(), match[1]), now.Location())
	if err != nil {
		return time.Time{}, false
	}
	return stamp, true
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func findFirst(node *html.Node, tag string) *html.Node {
	if node.Type == html.ElementNode && node.Data == tag {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func textOf(node *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hiddenTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return b.String()
}

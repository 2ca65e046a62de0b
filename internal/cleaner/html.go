package cleaner

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var htmlTag = regexp.MustCompile(`(?i)<(html|body|p|div|br|table|tr|td|li|ul|h[1-6]|span)[\s>/]`)

func looksLikeHTML(s string) bool {
	return htmlTag.MatchString(s)
}

// blockElements end a line when closed.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "ul": true, "ol": true,
}

// htmlToText flattens markup to text. Table cells are joined with " | " and
// list items get a "- " marker so structure detection still sees them.
func htmlToText(s string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				return "", err
			}
			return b.String(), nil
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch tag {
			case "script", "style":
				skip++
			case "td", "th":
				b.WriteString("| ")
			case "li":
				b.WriteString("- ")
			case "br":
				b.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "script" || tag == "style":
				if skip > 0 {
					skip--
				}
			case tag == "td" || tag == "th":
				b.WriteString(" ")
			case tag == "tr":
				b.WriteString("|\n")
			case blockElements[tag]:
				b.WriteString("\n")
			}
		}
	}
}

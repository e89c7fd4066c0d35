package mail

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Blockquote: true, atom.Br: true,
	atom.Div: true, atom.Footer: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true,
	atom.Li: true, atom.Ol: true, atom.P: true, atom.Section: true, atom.Table: true,
	atom.Tr: true, atom.Ul: true,
}

// HTMLToText strips markup from an HTML document and collapses whitespace.
// Block elements become line breaks, links keep their target as " [href]",
// and head, script and style contents are dropped. The result only depends
// on the input.
func HTMLToText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var b strings.Builder
	skip := 0
	href := ""

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapseWhitespace(b.String())

		case html.TextToken:
			if skip == 0 {
				// Source line breaks are layout, not content.
				b.WriteString(strings.Map(flattenSpace, string(z.Text())))
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Head, atom.Script, atom.Style:
				if tt == html.StartTagToken {
					skip++
				}
			case atom.A:
				href = attr(tok, "href")
			}
			if blockElements[tok.DataAtom] {
				b.WriteByte('\n')
			}

		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Head, atom.Script, atom.Style:
				if skip > 0 {
					skip--
				}
			case atom.A:
				if href != "" && skip == 0 {
					b.WriteString(" [" + href + "]")
				}
				href = ""
			}
			if blockElements[tok.DataAtom] {
				b.WriteByte('\n')
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func flattenSpace(r rune) rune {
	switch r {
	case '\n', '\r', '\t', '\f', '\v':
		return ' '
	}
	return r
}

// collapseWhitespace folds runs of blanks inside a line into one space and
// drops empty lines.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}

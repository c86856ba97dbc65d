package backlog

import (
	"bytes"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// markdown is shared; its configuration never changes.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

type heading struct {
	line  int
	title string
}

// sections maps line numbers to the heading in force at that line.
type sections []heading

// sectionAt returns the title of the last heading that starts before line.
func (s sections) sectionAt(line int) string {
	idx := sort.Search(len(s), func(i int) bool { return s[i].line >= line })
	if idx == 0 {
		return ""
	}
	return s[idx-1].title
}

// headingIndex walks the markdown AST and records every heading with the
// line it starts on. Headings inside code blocks are not reported since
// goldmark does not parse them as headings.
func headingIndex(src []byte) sections {
	if len(src) == 0 {
		return nil
	}

	lineStarts := []int{0}
	for i, b := range src {
		if b == '\n' {
			lineStarts = append(lineStarts, i+1)
		}
	}
	lineOf := func(offset int) int {
		return sort.Search(len(lineStarts), func(i int) bool { return lineStarts[i] > offset })
	}

	doc := markdown.Parser().Parse(text.NewReader(src))

	var out sections
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		lines := n.Lines()
		if lines.Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		var title bytes.Buffer
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if i > 0 {
				title.WriteByte(' ')
			}
			title.Write(bytes.TrimSpace(seg.Value(src)))
		}
		out = append(out, heading{
			line:  lineOf(lines.At(0).Start),
			title: strings.TrimSpace(title.String()),
		})
		return ast.WalkSkipChildren, nil
	})

	sort.SliceStable(out, func(i, j int) bool { return out[i].line < out[j].line })
	return out
}

package plaintext

import (
	"bytes"
	"context"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/toricodesthings/compound-association-service/internal/extract"
	"github.com/toricodesthings/compound-association-service/internal/tables"
)

// HTMLExtractor handles patent pages saved as HTML. Block elements become
// lines; <table> elements are also returned as tables.
type HTMLExtractor struct {
	maxBytes int64
}

func NewHTML(maxBytes int64) *HTMLExtractor { return &HTMLExtractor{maxBytes: maxBytes} }

func (e *HTMLExtractor) Name() string             { return "document/html" }
func (e *HTMLExtractor) MaxFileSize() int64       { return e.maxBytes }
func (e *HTMLExtractor) SupportedTypes() []string { return []string{"text/html"} }
func (e *HTMLExtractor) SupportedExtensions() []string {
	return []string{".html", ".htm", ".xhtml"}
}

func (e *HTMLExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{Success: false}, err
	}
	b, err := os.ReadFile(job.LocalPath)
	if err != nil {
		return extract.Failed(e.Name(), job.MIMEType, err), err
	}
	text, meta := htmlLines(b)
	w, c := extract.BuildCounts(text)
	return extract.Result{
		Success:   true,
		Text:      text,
		Method:    "native",
		FileType:  e.Name(),
		MIMEType:  job.MIMEType,
		Tables:    tables.ParseMarkdown(string(b), 1),
		Metadata:  meta,
		WordCount: w,
		CharCount: c,
	}, nil
}

var blockTags = map[string]bool{
	"p": true, "li": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"tr": true, "dt": true, "dd": true, "pre": true,
}

func htmlLines(b []byte) (string, map[string]string) {
	meta := map[string]string{}
	node, err := html.Parse(bytes.NewReader(b))
	if err != nil {
		return string(b), meta
	}
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			switch {
			case tag == "script" || tag == "style" || tag == "nav" || tag == "footer" || tag == "aside":
				return
			case tag == "title":
				meta["title"] = strings.TrimSpace(nodeText(n))
				return
			case blockTags[tag]:
				if t := strings.Join(strings.Fields(nodeText(n)), " "); t != "" {
					lines = append(lines, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	if len(lines) == 0 {
		if plain := strings.TrimSpace(nodeText(node)); plain != "" {
			lines = append(lines, plain)
		}
	}
	return strings.Join(lines, "\n"), meta
}

// nodeText concatenates descendant text, separating table cells by a space.
func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

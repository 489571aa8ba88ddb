package tables

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var separatorRow = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)

// ParseMarkdown returns the pipe tables and HTML <table> elements found in
// one page of markdown.
func ParseMarkdown(md string, page int) []Table {
	out := pipeTables(md, page)
	if strings.Contains(strings.ToLower(md), "<table") {
		out = append(out, htmlTables(md, page)...)
	}
	return out
}

func pipeTables(md string, page int) []Table {
	var (
		out []Table
		run [][]string
	)
	flush := func() {
		if len(run) >= 2 {
			out = append(out, Table{Page: page, Rows: run})
		}
		run = nil
	}
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			flush()
			continue
		}
		if separatorRow.MatchString(line) {
			continue
		}
		run = append(run, splitPipeRow(line))
	}
	flush()
	return out
}

func splitPipeRow(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func htmlTables(md string, page int) []Table {
	doc, err := html.Parse(strings.NewReader(md))
	if err != nil {
		return nil
	}
	var out []Table
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			if rows := tableRows(n); len(rows) >= 2 {
				out = append(out, Table{Page: page, Rows: rows})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func tableRows(table *html.Node) [][]string {
	var rows [][]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "table":
				if n != table {
					return
				}
			case "tr":
				var row []string
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
						row = append(row, strings.Join(strings.Fields(textOf(c)), " "))
					}
				}
				if len(row) > 0 {
					rows = append(rows, row)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
		b.WriteString(" ")
	}
	return b.String()
}

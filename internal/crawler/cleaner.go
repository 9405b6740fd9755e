package crawler

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const noiseSelector = `script:not([type="application/ld+json"]), style, img, svg, video, iframe`

// CleanHTML drops scripts (structured data excepted), styles, media and
// comments from a rendered page and collapses whitespace.
func CleanHTML(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse page html: %w", err)
	}
	doc.Find(noiseSelector).Remove()
	for _, n := range doc.Nodes {
		stripComments(n)
	}
	root := doc.Find("html").First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	out, err := goquery.OuterHtml(root)
	if err != nil {
		return "", fmt.Errorf("render page html: %w", err)
	}
	return collapseSpace(out), nil
}

func stripComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			stripComments(c)
		}
		c = next
	}
}

// SanitizeFolderName maps an item name to a filesystem-safe folder name:
// slashes become spaces and each of \:*?"<>| becomes an underscore.
func SanitizeFolderName(name string) string {
	name = strings.ReplaceAll(name, "/", " ")
	return reservedChars.Replace(name)
}

var reservedChars = strings.NewReplacer(
	`\`, "_",
	":", "_",
	"*", "_",
	"?", "_",
	`"`, "_",
	"<", "_",
	">", "_",
	"|", "_",
)

// folderFor returns the archive folder name for a record: the sanitized name
// exactly as SanitizeFolderName maps it, or the sanitized identifier when the
// name is blank, "." or "..".
func folderFor(rec Record) string {
	folder := SanitizeFolderName(rec.DisplayName())
	if trimmed := strings.TrimSpace(folder); trimmed == "" || trimmed == "." || trimmed == ".." {
		folder = SanitizeFolderName(rec.Identifier)
	}
	return folder
}

package process

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/ics-crawler/pkg/utils"
)

// Extraction is the visible text and raw link targets of one HTML page
type Extraction struct {
	Text  string
	Hrefs []string // a[href] values in document order, unresolved
}

// HTMLExtractor turns a page body into text and hrefs
type HTMLExtractor interface {
	Extract(content []byte) (Extraction, error)
}

// GoqueryExtractor extracts with goquery. Script-like elements are dropped from the text.
type GoqueryExtractor struct{}

var nonVisibleSelector = "script, style, noscript, template"

func (GoqueryExtractor) Extract(content []byte) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: HTML document: %w", utils.ErrParsing, err)
	}

	var out Extraction
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && strings.TrimSpace(href) != "" {
			out.Hrefs = append(out.Hrefs, href)
		}
	})

	doc.Find(nonVisibleSelector).Remove()
	var b strings.Builder
	collectText(doc.Selection, &b)
	out.Text = strings.Join(strings.Fields(b.String()), " ")
	return out, nil
}

// collectText appends text nodes in document order, separating adjacent elements with a space
func collectText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		switch goquery.NodeName(child) {
		case "#text":
			b.WriteString(child.Text())
			b.WriteByte(' ')
		case "#comment":
		default:
			collectText(child, b)
		}
	})
}

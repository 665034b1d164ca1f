// Package notice turns the product information section of a detail page
// into compact Markdown for the extraction capability.
package notice

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// noise is removed from the matched section before conversion.
const noise = "script, style, noscript, img, picture, svg, button, iframe, input, select, form"

// truncationMarker ends a notice that was cut to fit the token budget.
const truncationMarker = "\n\n…(truncated)"

// Extractor renders notice sections. The converter is created once and is
// safe for concurrent use.
type Extractor struct {
	conv *converter.Converter
}

// NewExtractor creates an Extractor configured for table-heavy notices.
func NewExtractor() *Extractor {
	return &Extractor{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(
					table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
				),
			),
		),
	}
}

// Extract selects the notice section of rawHTML with selector, strips
// non-text elements and converts the rest to Markdown capped at maxTokens
// (estimated). It returns "" when selector is empty or nothing matches.
func (e *Extractor) Extract(rawHTML, selector, pageURL string, maxTokens int) (string, error) {
	if strings.TrimSpace(selector) == "" || rawHTML == "" {
		return "", nil
	}

	section, err := selectSection(rawHTML, selector)
	if err != nil || section == "" {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(section))
	if err != nil {
		return "", err
	}
	doc.Find(noise).Remove()
	cleaned, err := doc.Find("body").Html()
	if err != nil {
		return "", err
	}

	md, err := e.conv.ConvertString(cleaned, converter.WithDomain(pageURL))
	if err != nil {
		return "", err
	}
	md = strings.TrimSpace(md)
	return Truncate(md, maxTokens), nil
}

// selectSection returns the concatenated outer HTML of every element
// matching selector, in document order. Unlike a general content filter it
// never falls back to the whole document.
func selectSection(rawHTML, selector string) (string, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return "", err
	}
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for _, node := range cascadia.QueryAll(doc, sel) {
		if err := html.Render(&buf, node); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// EstimateTokens approximates the token count of text as runes / 3, a
// middle ground between English (~4 chars/token) and Korean (~1.5).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return max(n/3, 1)
}

// Truncate cuts text so its estimated token count fits maxTokens, ending
// on a line boundary where possible. maxTokens <= 0 disables the cap.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:maxTokens*3])
	if i := strings.LastIndexByte(cut, '\n'); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n") + truncationMarker
}

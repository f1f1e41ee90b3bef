package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"sarkari-pulse/config"
	"sarkari-pulse/fetcher"
	"sarkari-pulse/models"

	"github.com/PuerkitoBio/goquery"
)

// Fields that may legitimately hold several values in one container
var multiValued = map[string]bool{
	"category": true,
	"tags":     true,
	"state":    true,
}

var (
	schemeWordRe = regexp.MustCompile(`(?i)scheme|yojana|program`)
	urlLikeRe    = regexp.MustCompile(`(?i)https?://|www\.`)
)

// Text fallback line length bounds, in characters
const (
	minFallbackLen = 10
	maxFallbackLen = 200
)

func (e *Extractor) extractHTML(payload *fetcher.Payload, hints Hints) ([]models.CandidateRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	containers := hints.Containers
	if len(containers) == 0 {
		containers = config.DefaultContainers
	}
	selectors := hints.FieldSelectors
	if len(selectors) == 0 {
		selectors = config.DefaultFieldSelectors
	}
	base := firstNonEmpty(hints.LinkBase, payload.URL)

	var candidates []models.CandidateRecord

	// The first container selector that matches anything wins
	for _, containerSel := range containers {
		matched := doc.Find(containerSel)
		if matched.Length() == 0 {
			continue
		}
		matched.Each(func(i int, s *goquery.Selection) {
			if c, ok := extractContainer(s, selectors, hints.Source, base, payload.URL); ok {
				candidates = append(candidates, c)
			}
		})
		e.logger.Debug("container selector matched", "selector", containerSel, "elements", matched.Length(), "candidates", len(candidates))
		break
	}

	if len(candidates) == 0 && !hints.NoTextFallback {
		candidates = textFallback(doc, hints.Source, payload.URL)
	}
	return candidates, nil
}

// extractContainer reads the logical fields of one container. Within a
// field the first selector yielding a non-empty value wins.
func extractContainer(s *goquery.Selection, selectors map[string][]string, source, base, pageURL string) (models.CandidateRecord, bool) {
	c := models.CandidateRecord{
		Fields:    make(map[string]any),
		Source:    source,
		SourceURL: pageURL,
	}

	for field, sels := range selectors {
		for _, sel := range sels {
			found := s.Find(sel)
			if found.Length() == 0 {
				continue
			}
			if field == "url" {
				if href := strings.TrimSpace(found.First().AttrOr("href", "")); href != "" {
					c.SourceURL = resolveLink(base, href)
					break
				}
				continue
			}
			if v := selectionValue(found, multiValued[field]); v != nil {
				c.Fields[field] = v
				break
			}
		}
	}

	// A container that is itself a link (e.g. <a class="card">) still names a page
	if c.SourceURL == pageURL {
		if href := strings.TrimSpace(s.AttrOr("href", "")); href != "" {
			c.SourceURL = resolveLink(base, href)
		}
	}

	if isEmpty(c.Get("name")) {
		return c, false
	}
	return c, true
}

func selectionValue(found *goquery.Selection, multi bool) any {
	if !multi || found.Length() == 1 {
		if text := cleanText(found.First().Text()); text != "" {
			return text
		}
		return nil
	}
	var values []string
	found.Each(func(i int, s *goquery.Selection) {
		if text := cleanText(s.Text()); text != "" {
			values = append(values, text)
		}
	})
	if len(values) == 0 {
		return nil
	}
	return values
}

// Elements that start a new line of visible text
var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true,
	"figcaption": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true,
	"ol": true, "option": true, "p": true, "pre": true, "section": true,
	"table": true, "tbody": true, "td": true, "tfoot": true, "th": true,
	"thead": true, "tr": true, "ul": true,
}

// textFallback scans visible text lines for scheme-like names when no
// structural selector matched
func textFallback(doc *goquery.Document, source, pageURL string) []models.CandidateRecord {
	var candidates []models.CandidateRecord
	seen := make(map[string]bool)

	for _, line := range visibleLines(doc.Find("body")) {
		n := utf8.RuneCountInString(line)
		if n < minFallbackLen || n > maxFallbackLen {
			continue
		}
		if !schemeWordRe.MatchString(line) || urlLikeRe.MatchString(line) || strings.Contains(line, "@") {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		candidates = append(candidates, models.CandidateRecord{
			Fields:    map[string]any{"name": line},
			Source:    source,
			SourceURL: pageURL,
		})
	}
	return candidates
}

// visibleLines renders the text under s the way a browser lays it out:
// block elements and <br> break lines, inline elements do not.
func visibleLines(s *goquery.Selection) []string {
	var b strings.Builder
	writeText(s, &b)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = cleanText(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func writeText(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch name := goquery.NodeName(c); {
		case name == "#text":
			b.WriteString(c.Text())
		case name == "br":
			b.WriteByte('\n')
		case blockTags[name]:
			b.WriteByte('\n')
			writeText(c, b)
			b.WriteByte('\n')
		case strings.HasPrefix(name, "#"):
			// comments and doctype
		default:
			writeText(c, b)
		}
	})
}

// cleanText collapses all whitespace, including non-breaking spaces, to single spaces
func cleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

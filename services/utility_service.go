package services

import (
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/anatech/leadscout/shared"
	"github.com/sirupsen/logrus"
)

const (
	// MaxPostContentRunes bounds the body text kept for a fetched post.
	MaxPostContentRunes = 2500
	// NoTextContent stands in for link and image posts without a body.
	NoTextContent = "[No text content]"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	printableRegex  = regexp.MustCompile(`[^\x20-\x7E\p{L}\p{N}\p{P}\p{S}\s]`)
)

// UtilityService provides text processing and normalization for post content
type UtilityService struct {
	serviceMetrics *shared.ServiceMetrics
}

// NewUtilityService creates a new utility service instance
func NewUtilityService() *UtilityService {
	return &UtilityService{
		serviceMetrics: shared.NewServiceMetrics("Utility_Service"),
	}
}

// ExtractPostText returns readable body text for a post. The rendered
// selftext_html is preferred because it resolves markdown links and entities;
// the raw selftext is the fallback.
func (s *UtilityService) ExtractPostText(selftext, selftextHTML string) string {
	start := time.Now()
	text := ""

	if strings.TrimSpace(selftextHTML) != "" {
		// Reddit double-escapes the HTML inside the JSON payload.
		unescaped := html.UnescapeString(selftextHTML)
		document, err := goquery.NewDocumentFromReader(strings.NewReader(unescaped))
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "UtilityService",
				"error":     err.Error(),
			}).Debug("Failed to parse selftext_html, falling back to raw selftext")
		} else {
			var paragraphs []string
			document.Find("p, li, pre, blockquote, h1, h2, h3").Each(func(_ int, selection *goquery.Selection) {
				if part := strings.TrimSpace(selection.Text()); part != "" {
					paragraphs = append(paragraphs, part)
				}
			})
			if len(paragraphs) == 0 {
				paragraphs = append(paragraphs, document.Text())
			}
			text = strings.Join(paragraphs, "\n")
		}
	}

	if strings.TrimSpace(text) == "" {
		text = selftext
	}

	cleaned := s.NormalizeTextContent(text)
	if cleaned == "" {
		cleaned = NoTextContent
	} else {
		cleaned = TruncateRunes(cleaned, MaxPostContentRunes)
	}

	s.RecordOperation(true, time.Since(start))
	return cleaned
}

// NormalizeTextContent strips leftover tags and non-printable characters and
// collapses runs of spaces while keeping paragraph breaks.
func (s *UtilityService) NormalizeTextContent(text string) string {
	if text == "" {
		return ""
	}

	text = htmlTagRegex.ReplaceAllString(text, "")
	text = printableRegex.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(whitespaceRegex.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// NormalizeTitle collapses whitespace in a post title
func (s *UtilityService) NormalizeTitle(title string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(html.UnescapeString(title), " "))
}

// TruncateRunes cuts text to at most limit runes without splitting a character
func TruncateRunes(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}

// RecordOperation records a utility service operation with metrics tracking
func (s *UtilityService) RecordOperation(success bool, processingTime time.Duration) {
	if s.serviceMetrics != nil {
		s.serviceMetrics.RecordRequest(success, processingTime)
	}
}

// Metrics returns the text extraction counters.
func (s *UtilityService) Metrics() *shared.ServiceMetrics {
	return s.serviceMetrics
}

package content

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonathan/seo-workflows/internal/llm"
	"github.com/jonathan/seo-workflows/internal/types"
)

// Section tags of a tagged article response
const (
	TagSEOTitle          = "SEO_TITLE"
	TagMetaDescription   = "META_DESCRIPTION"
	TagWordpressExcerpt  = "WORDPRESS_EXCERPT"
	TagHTMLContent       = "HTML_CONTENT"
	TagFAQJSON           = "FAQ_JSON"
	TagSecondaryKeywords = "SECONDARY_KEYWORDS"
	TagImagePrompt       = "IMAGE_PROMPT"
)

var knownTags = []string{
	TagSEOTitle, TagMetaDescription, TagWordpressExcerpt, TagHTMLContent,
	TagFAQJSON, TagSecondaryKeywords, TagImagePrompt,
	// sections older prompts still produce; they only terminate unclosed sections
	"FAQ_SECTION", "ENTITIES", "INTERNAL_LINKS_USED", "SCHEMA_MARKUP", "READABILITY_SCORE",
}

// ErrNoContent is returned when a response has no usable article body
var ErrNoContent = fmt.Errorf("model response has no %s section", TagHTMLContent)

// Section returns the text between <TAG> and </TAG>. Tag matching ignores case.
// When the closing tag is missing the section runs to the next known opening tag
// or the end of the response.
func Section(response, tag string) (string, bool) {
	lower := asciiLower(response)
	open := "<" + asciiLower(tag) + ">"
	start := strings.Index(lower, open)
	if start < 0 {
		return "", false
	}
	start += len(open)

	if end := strings.Index(lower[start:], "</"+asciiLower(tag)+">"); end >= 0 {
		return strings.TrimSpace(response[start : start+end]), true
	}

	end := len(response)
	for _, other := range knownTags {
		if idx := strings.Index(lower[start:], "<"+asciiLower(other)+">"); idx >= 0 && start+idx < end {
			end = start + idx
		}
	}
	return strings.TrimSpace(response[start:end]), true
}

// ParseArticle extracts an article from a tagged model response. Only the
// HTML body is mandatory; other sections default to empty values.
func ParseArticle(response string) (*types.Article, error) {
	body, ok := Section(response, TagHTMLContent)
	if !ok || body == "" {
		return nil, ErrNoContent
	}

	a := &types.Article{HTMLContent: stripFence(body)}
	a.SEOTitle, _ = Section(response, TagSEOTitle)
	a.MetaDescription, _ = Section(response, TagMetaDescription)
	a.WordpressExcerpt, _ = Section(response, TagWordpressExcerpt)
	a.ImagePrompt, _ = Section(response, TagImagePrompt)

	if raw, ok := Section(response, TagFAQJSON); ok {
		var faq []types.FAQEntry
		if err := json.Unmarshal([]byte(llm.CleanJSONBlock(raw)), &faq); err == nil {
			for _, e := range faq {
				if strings.TrimSpace(e.Question) != "" {
					a.FAQ = append(a.FAQ, e)
				}
			}
		}
	}
	if raw, ok := Section(response, TagSecondaryKeywords); ok {
		a.SecondaryKeywords = splitList(raw)
	}
	return a, nil
}

// finish fills fields the model left empty and counts words
func finish(a *types.Article, fallbackTitle string) {
	text := htmlText(a.HTMLContent)
	if a.SEOTitle == "" {
		a.SEOTitle = fallbackTitle
	}
	if a.MetaDescription == "" {
		a.MetaDescription = clip(text, 155)
	}
	if a.WordpressExcerpt == "" {
		a.WordpressExcerpt = a.MetaDescription
	}
	a.WordCount = len(strings.Fields(text))
}

// htmlText returns the visible text of an HTML fragment with block boundaries
// turned into spaces
func htmlText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	var sb strings.Builder
	collectText(doc.Selection, &sb)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func collectText(s *goquery.Selection, sb *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			sb.WriteString(c.Text())
			sb.WriteByte(' ')
		case "script", "style":
		default:
			collectText(c, sb)
		}
	})
}

func splitList(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, item := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' || r == ';' }) {
		item = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(item), "-*•"))
		key := strings.ToLower(item)
		if item != "" && !seen[key] {
			seen[key] = true
			out = append(out, item)
		}
	}
	return out
}

// stripFence removes a markdown code fence the model sometimes wraps HTML in
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && !strings.Contains(s[:idx], "<") {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// asciiLower lowercases ASCII letters only, keeping byte offsets stable
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func clip(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	cut := string(r[:n])
	if idx := strings.LastIndex(cut, " "); idx > n/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}

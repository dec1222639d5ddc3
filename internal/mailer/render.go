package mailer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/purell"
)

const normalizationFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagUppercaseEscapes |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagSortQuery

// Render resolves relative links in the HTML body against baseURL,
// normalizes them and fills Text from the HTML when it is empty.
func Render(e Email, baseURL string) (Email, error) {
	if e.HTML == "" {
		return e, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(e.HTML))
	if err != nil {
		return e, fmt.Errorf("parsing email html: %w", err)
	}

	var base *url.URL
	if baseURL != "" {
		if base, err = url.Parse(baseURL); err != nil {
			return e, fmt.Errorf("parsing base url %q: %w", baseURL, err)
		}
	}

	e.Links = rewriteLinks(doc, base)

	html, err := doc.Html()
	if err != nil {
		return e, fmt.Errorf("rendering email html: %w", err)
	}
	e.HTML = html

	if e.Text == "" {
		e.Text = ExtractText(doc)
	}
	return e, nil
}

// ExtractText returns the visible body text with whitespace collapsed.
// It removes non-visible elements from doc.
func ExtractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, iframe, head").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		sb.WriteString(strings.Join(strings.Fields(s.Text()), " "))
	})

	return sb.String()
}

func rewriteLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		// Leave non-web links alone
		if strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}

		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil {
			parsed = base.ResolveReference(parsed)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return
		}

		normalized := purell.NormalizeURL(parsed, normalizationFlags)
		s.SetAttr("href", normalized)

		if _, ok := seen[normalized]; ok {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})

	return links
}

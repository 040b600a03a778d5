package dispatch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document 页面抓取结果
type Document struct {
	StatusCode int               `json:"status_code"`
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Meta       map[string]string `json:"meta,omitempty"`
	CSRFToken  string            `json:"csrf_token,omitempty"`
	HTML       string            `json:"html"`
}

var csrfMetaNames = []string{"csrf-token", "_csrf", "csrf_token", "x-csrf-token"}

var csrfInputNames = []string{"csrf_token", "_csrf", "_token", "authenticity_token", "csrfmiddlewaretoken"}

// ParseDocument 解析页面HTML：标题、meta 与 CSRF 令牌
func ParseDocument(statusCode int, pageURL, html string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	out := &Document{
		StatusCode: statusCode,
		URL:        pageURL,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Meta:       make(map[string]string),
		HTML:       html,
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			name, ok = s.Attr("property")
		}
		if !ok || name == "" {
			return
		}
		content, _ := s.Attr("content")
		out.Meta[strings.ToLower(name)] = content
	})

	for _, name := range csrfMetaNames {
		if v := out.Meta[name]; v != "" {
			out.CSRFToken = v
			break
		}
	}
	if out.CSRFToken == "" {
		for _, name := range csrfInputNames {
			if v, ok := doc.Find("input[name='" + name + "']").First().Attr("value"); ok && v != "" {
				out.CSRFToken = v
				break
			}
		}
	}
	return out, nil
}

package solver

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var absoluteURLPattern = regexp.MustCompile(`https?://[^\s"'<>\\]+`)

// FindSubmitURL locates the endpoint answers should be posted to. It
// prefers an explicit form action, then any absolute URL mentioning
// submit or answer, then the first absolute URL on the page.
func FindSubmitURL(html []byte, pageURL string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}

	root, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	if action, ok := root.Find("form[action]").First().Attr("action"); ok {
		ref, err := url.Parse(strings.TrimSpace(action))
		if err == nil {
			return base.ResolveReference(ref).String(), nil
		}
	}

	urls := absoluteURLPattern.FindAllString(string(html), -1)
	for _, u := range urls {
		lower := strings.ToLower(u)
		if strings.Contains(lower, "submit") || strings.Contains(lower, "answer") {
			return u, nil
		}
	}
	if len(urls) > 0 {
		return urls[0], nil
	}
	return "", nil
}

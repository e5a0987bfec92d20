// Package content adapts the system document store to manual rendering:
// it resolves content ids to titles, revision numbers and bodies, and
// sanitizes bodies before they are inserted raw into rendered manuals.
package content

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips script, event handlers and javascript: URLs from content
// bodies. Safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds a UGC policy that keeps the class attributes diagram
// blocks and revision styling rely on.
func NewSanitizer() *Sanitizer {
	policy := bluemonday.UGCPolicy()
	policy.AllowDataURIImages()
	policy.AllowAttrs("class").Matching(regexp.MustCompile(`^[a-zA-Z0-9_\- ]+$`)).OnElements("pre", "code", "div", "span", "p", "table", "figure")
	policy.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3", "h4", "h5", "h6", "section")
	return &Sanitizer{policy: policy}
}

func (s *Sanitizer) Sanitize(html string) string {
	if s == nil {
		return html
	}
	return s.policy.Sanitize(html)
}

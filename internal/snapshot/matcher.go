package snapshot

import (
	"strings"

	"github.com/actionplane/browserctl/internal/backend"
)

// FindMatching walks the tree depth-first, first-match-wins, and
// returns the element_ref of the first node matching selector, per
// spec.md §4.7.
func FindMatching(node backend.AccessibilityNode, selector string) (string, bool) {
	if MatchesSelector(node, selector) {
		if node.ElementRef != "" {
			return node.ElementRef, true
		}
	}
	for _, child := range node.Children {
		if ref, ok := FindMatching(child, selector); ok {
			return ref, true
		}
	}
	return "", false
}

// MatchesSelector implements the CSS-like predicate language from
// spec.md §4.7: #id, .class, bare tag/role, [attr=value], [attr], and
// role:contains("text").
func MatchesSelector(node backend.AccessibilityNode, selector string) bool {
	selector = strings.TrimSpace(selector)

	if id, ok := strings.CutPrefix(selector, "#"); ok {
		return node.Name != "" && (node.Name == id || strings.Contains(node.Name, id))
	}

	if class, ok := strings.CutPrefix(selector, "."); ok {
		return node.Name != "" && strings.Contains(node.Name, class)
	}

	if !strings.Contains(selector, "[") && !strings.Contains(selector, ":") {
		return strings.EqualFold(node.Role, selector)
	}

	if strings.HasPrefix(selector, "[") && strings.HasSuffix(selector, "]") {
		return matchesAttributeSelector(node, selector)
	}

	if idx := strings.Index(selector, ":contains("); idx >= 0 {
		role := selector[:idx]
		if role != "" && !strings.EqualFold(node.Role, role) {
			return false
		}
		end := strings.LastIndex(selector, ")")
		if end < 0 {
			return false
		}
		text := selector[idx+len(":contains(") : end]
		text = strings.Trim(text, `"'`)
		return node.Name != "" && strings.Contains(node.Name, text)
	}

	return false
}

func matchesAttributeSelector(node backend.AccessibilityNode, selector string) bool {
	inner := selector[1 : len(selector)-1]

	if eq := strings.Index(inner, "="); eq >= 0 {
		attr := strings.TrimSpace(inner[:eq])
		value := strings.Trim(strings.TrimSpace(inner[eq+1:]), `"'`)

		switch attr {
		case "aria-label", "name":
			return node.Name != "" && (node.Name == value || strings.Contains(node.Name, value))
		case "role":
			return node.Role == value
		case "type":
			if node.Role == "textbox" && value == "text" {
				return true
			}
			if node.Role == "button" && value == "submit" {
				return true
			}
		}
		return false
	}

	attr := strings.TrimSpace(inner)
	switch attr {
	case "focusable":
		return node.Focusable != nil && *node.Focusable
	}
	return false
}

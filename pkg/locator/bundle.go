// Package locator resolves recorded element-locating strategies against a live
// page. A recording carries several alternative strategies for the same target;
// resolution tries them in a fixed priority order so that semantic locators
// (qa-id, role, test-id) win over brittle ones (css, xpath).
package locator

import (
	"fmt"
	"strings"
)

// RoleLocator identifies an element by ARIA role and accessible name.
type RoleLocator struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// Bundle is the set of optional strategies recorded for one element. The
// assertionType field rides along in the same JSON blob because the recorder
// stores it there.
type Bundle struct {
	QAID          string       `json:"qaId,omitempty"`
	Role          *RoleLocator `json:"role,omitempty"`
	TestID        string       `json:"testId,omitempty"`
	Label         string       `json:"label,omitempty"`
	Placeholder   string       `json:"placeholder,omitempty"`
	Text          string       `json:"text,omitempty"`
	AltText       string       `json:"altText,omitempty"`
	Title         string       `json:"title,omitempty"`
	CSS           string       `json:"css,omitempty"`
	XPath         string       `json:"xpath,omitempty"`
	AssertionType string       `json:"assertionType,omitempty"`
}

// Empty reports whether the bundle carries no element strategies at all.
// AssertionType alone does not count.
func (b *Bundle) Empty() bool {
	return b == nil || len(b.Selectors()) == 0
}

// QueryKind distinguishes how a compiled query is interpreted by the browser.
type QueryKind string

const (
	KindCSS   QueryKind = "css"
	KindXPath QueryKind = "xpath"
)

// Selector is one strategy compiled down to a concrete page query.
type Selector struct {
	Strategy string
	Kind     QueryKind
	Query    string
}

// Selectors compiles the present strategies into queries, in priority order.
// Role and name matching uses an explicit-role-or-implicit-element XPath since
// the wire protocol has no accessible-name engine of its own.
func (b *Bundle) Selectors() []Selector {
	if b == nil {
		return nil
	}
	var sels []Selector
	add := func(strategy string, kind QueryKind, query string) {
		sels = append(sels, Selector{Strategy: strategy, Kind: kind, Query: query})
	}
	if b.QAID != "" {
		add("qaId", KindCSS, fmt.Sprintf("[data-qa-id=%s]", cssString(b.QAID)))
	}
	if b.Role != nil && b.Role.Role != "" {
		add("role", KindXPath, roleXPath(b.Role))
	}
	if b.TestID != "" {
		add("testId", KindCSS, fmt.Sprintf("[data-testid=%s]", cssString(b.TestID)))
	}
	if b.Label != "" {
		add("label", KindXPath, labelXPath(b.Label))
	}
	if b.Placeholder != "" {
		add("placeholder", KindCSS, fmt.Sprintf("[placeholder=%s]", cssString(b.Placeholder)))
	}
	if b.Text != "" {
		add("text", KindXPath, fmt.Sprintf("//*[text()[contains(normalize-space(.), %s)]]", xpathString(b.Text)))
	}
	if b.AltText != "" {
		add("altText", KindCSS, fmt.Sprintf("[alt=%s]", cssString(b.AltText)))
	}
	if b.Title != "" {
		add("title", KindCSS, fmt.Sprintf("[title=%s]", cssString(b.Title)))
	}
	if b.CSS != "" {
		add("css", KindCSS, b.CSS)
	}
	if b.XPath != "" {
		add("xpath", KindXPath, b.XPath)
	}
	return sels
}

// implicitRoleElements maps ARIA roles to the HTML elements that carry them
// implicitly, so recordings made against untagged markup still resolve.
var implicitRoleElements = map[string][]string{
	"button":      {"button", "input[@type='button']", "input[@type='submit']"},
	"link":        {"a[@href]"},
	"textbox":     {"input[not(@type) or @type='text' or @type='email' or @type='password' or @type='search' or @type='url' or @type='tel']", "textarea"},
	"checkbox":    {"input[@type='checkbox']"},
	"radio":       {"input[@type='radio']"},
	"combobox":    {"select"},
	"heading":     {"h1", "h2", "h3", "h4", "h5", "h6"},
	"img":         {"img"},
	"list":        {"ul", "ol"},
	"listitem":    {"li"},
	"navigation":  {"nav"},
	"main":        {"main"},
	"form":        {"form"},
	"table":       {"table"},
	"row":         {"tr"},
	"cell":        {"td"},
	"article":     {"article"},
	"figure":      {"figure"},
	"separator":   {"hr"},
	"progressbar": {"progress"},
}

func roleXPath(r *RoleLocator) string {
	role := strings.ToLower(strings.TrimSpace(r.Role))
	branches := []string{fmt.Sprintf("//*[@role=%s]", xpathString(role))}
	for _, el := range implicitRoleElements[role] {
		branches = append(branches, "//"+el)
	}
	expr := strings.Join(branches, " | ")
	if r.Name == "" {
		return expr
	}
	name := xpathString(r.Name)
	cond := fmt.Sprintf("[normalize-space(.)=%s or @aria-label=%s or @value=%s]", name, name, name)
	for i, branch := range branches {
		branches[i] = "(" + branch + ")" + cond
	}
	return strings.Join(branches, " | ")
}

func labelXPath(label string) string {
	lit := xpathString(label)
	// Form controls referenced by a matching <label for=...>, nested inside the
	// label, or carrying the label as aria-label.
	return fmt.Sprintf(
		"//*[@id=//label[normalize-space(.)=%s]/@for] | //label[normalize-space(.)=%s]//input | //label[normalize-space(.)=%s]//select | //label[normalize-space(.)=%s]//textarea | //*[@aria-label=%s]",
		lit, lit, lit, lit, lit,
	)
}

// cssString quotes a value for use inside a CSS attribute selector.
func cssString(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

// xpathString quotes a value as an XPath string literal. XPath 1.0 has no
// escaping, so values containing both quote kinds fall back to concat().
func xpathString(v string) string {
	if !strings.Contains(v, `"`) {
		return `"` + v + `"`
	}
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	var parts []string
	for _, piece := range strings.SplitAfter(v, `"`) {
		if q := strings.TrimSuffix(piece, `"`); q != piece {
			if q != "" {
				parts = append(parts, `"`+q+`"`)
			}
			parts = append(parts, `'"'`)
		} else if piece != "" {
			parts = append(parts, `"`+piece+`"`)
		}
	}
	return "concat(" + strings.Join(parts, ", ") + ")"
}

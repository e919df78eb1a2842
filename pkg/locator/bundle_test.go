package locator

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSelectorsPriorityOrder(t *testing.T) {
	b := &Bundle{
		QAID:        "submit-btn",
		Role:        &RoleLocator{Role: "button", Name: "Submit"},
		TestID:      "submit",
		Label:       "Submit order",
		Placeholder: "Email",
		Text:        "Submit",
		AltText:     "submit icon",
		Title:       "Submit the order",
		CSS:         "#submit",
		XPath:       "//button[@id='submit']",
	}

	sels := b.Selectors()
	want := []string{"qaId", "role", "testId", "label", "placeholder", "text", "altText", "title", "css", "xpath"}
	if len(sels) != len(want) {
		t.Fatalf("got %d selectors, want %d", len(sels), len(want))
	}
	for i, strategy := range want {
		if sels[i].Strategy != strategy {
			t.Errorf("selector %d: got strategy %q, want %q", i, sels[i].Strategy, strategy)
		}
	}
}

func TestSelectorsSkipAbsentStrategies(t *testing.T) {
	b := &Bundle{TestID: "cart", CSS: ".cart"}
	sels := b.Selectors()
	if len(sels) != 2 {
		t.Fatalf("got %d selectors, want 2", len(sels))
	}
	if sels[0].Strategy != "testId" || sels[1].Strategy != "css" {
		t.Fatalf("got order %q, %q; want testId, css", sels[0].Strategy, sels[1].Strategy)
	}
}

func TestSelectorsCompiledQueries(t *testing.T) {
	tests := []struct {
		name   string
		bundle Bundle
		kind   QueryKind
		query  string
	}{
		{
			name:   "qaId",
			bundle: Bundle{QAID: "login"},
			kind:   KindCSS,
			query:  `[data-qa-id="login"]`,
		},
		{
			name:   "testId",
			bundle: Bundle{TestID: "nav-home"},
			kind:   KindCSS,
			query:  `[data-testid="nav-home"]`,
		},
		{
			name:   "placeholder",
			bundle: Bundle{Placeholder: "Search..."},
			kind:   KindCSS,
			query:  `[placeholder="Search..."]`,
		},
		{
			name:   "css passthrough",
			bundle: Bundle{CSS: "form > button.primary"},
			kind:   KindCSS,
			query:  "form > button.primary",
		},
		{
			name:   "xpath passthrough",
			bundle: Bundle{XPath: "//div[@id='x']"},
			kind:   KindXPath,
			query:  "//div[@id='x']",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sels := tt.bundle.Selectors()
			if len(sels) != 1 {
				t.Fatalf("got %d selectors, want 1", len(sels))
			}
			if sels[0].Kind != tt.kind {
				t.Errorf("kind = %q, want %q", sels[0].Kind, tt.kind)
			}
			if sels[0].Query != tt.query {
				t.Errorf("query = %q, want %q", sels[0].Query, tt.query)
			}
		})
	}
}

func TestTextSelectorUsesNormalizedContains(t *testing.T) {
	b := &Bundle{Text: "Add to cart"}
	sels := b.Selectors()
	if len(sels) != 1 {
		t.Fatalf("got %d selectors, want 1", len(sels))
	}
	if sels[0].Kind != KindXPath {
		t.Fatalf("kind = %q, want xpath", sels[0].Kind)
	}
	if !strings.Contains(sels[0].Query, "normalize-space") {
		t.Errorf("text query should normalize whitespace, got %q", sels[0].Query)
	}
	if !strings.Contains(sels[0].Query, `"Add to cart"`) {
		t.Errorf("text query should embed the literal, got %q", sels[0].Query)
	}
}

func TestRoleSelectorCoversImplicitElements(t *testing.T) {
	b := &Bundle{Role: &RoleLocator{Role: "button", Name: "Save"}}
	sels := b.Selectors()
	if len(sels) != 1 {
		t.Fatalf("got %d selectors, want 1", len(sels))
	}
	q := sels[0].Query
	if !strings.Contains(q, `@role="button"`) {
		t.Errorf("role query should match explicit role, got %q", q)
	}
	if !strings.Contains(q, "//button") {
		t.Errorf("role query should match implicit button element, got %q", q)
	}
	if !strings.Contains(q, `"Save"`) {
		t.Errorf("role query should constrain accessible name, got %q", q)
	}
}

func TestQuotingMixedQuotes(t *testing.T) {
	b := &Bundle{Text: `it's a "test"`}
	sels := b.Selectors()
	if len(sels) != 1 {
		t.Fatalf("got %d selectors, want 1", len(sels))
	}
	if !strings.Contains(sels[0].Query, "concat(") {
		t.Errorf("mixed quotes should fall back to concat(), got %q", sels[0].Query)
	}
}

func TestEmpty(t *testing.T) {
	var nilBundle *Bundle
	if !nilBundle.Empty() {
		t.Error("nil bundle should be empty")
	}
	if !(&Bundle{}).Empty() {
		t.Error("zero bundle should be empty")
	}
	if !(&Bundle{AssertionType: "visible"}).Empty() {
		t.Error("assertionType alone should not make a bundle non-empty")
	}
	if (&Bundle{CSS: ".x"}).Empty() {
		t.Error("bundle with css should not be empty")
	}
}

func TestBundleJSONRoundTrip(t *testing.T) {
	raw := `{"qaId":"q","role":{"role":"link","name":"Home"},"testId":"t","css":"#a","assertionType":"url_contains"}`
	var b Bundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if b.QAID != "q" || b.TestID != "t" || b.CSS != "#a" {
		t.Fatalf("unexpected bundle: %+v", b)
	}
	if b.Role == nil || b.Role.Role != "link" || b.Role.Name != "Home" {
		t.Fatalf("unexpected role: %+v", b.Role)
	}
	if b.AssertionType != "url_contains" {
		t.Fatalf("assertionType = %q", b.AssertionType)
	}
}

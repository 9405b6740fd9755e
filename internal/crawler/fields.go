package crawler

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FieldKind selects how matched elements are coerced.
type FieldKind string

// Field kinds understood by EvaluateFields.
const (
	KindText   FieldKind = "text"
	KindNumber FieldKind = "number"
	KindFloat  FieldKind = "float"
	KindList   FieldKind = "list"
	KindLink   FieldKind = "link"
)

// Valid reports whether k is a known kind.
func (k FieldKind) Valid() bool {
	switch k {
	case KindText, KindNumber, KindFloat, KindList, KindLink:
		return true
	}
	return false
}

// FieldSpec maps one field to its ordered fallback selectors.
type FieldSpec struct {
	Name      string    `mapstructure:"name"`
	Selectors []string  `mapstructure:"selectors"`
	Kind      FieldKind `mapstructure:"kind"`
}

// Field names understood by the item mapping.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldVersion     = "version"
	FieldAuthor      = "author"
	FieldRepository  = "repository"
	FieldLicense     = "license"
	FieldDownloads   = "downloads"
	FieldInstalls    = "installs"
	FieldLastUpdated = "last_updated"
	FieldCategories  = "categories"
	FieldTags        = "tags"
	FieldRating      = "rating"
)

// DefaultFieldMap targets the marketplace item page.
func DefaultFieldMap() []FieldSpec {
	return []FieldSpec{
		{Name: FieldName, Kind: KindText, Selectors: []string{".ux-item-name", `h1[itemprop="name"]`}},
		{Name: FieldDescription, Kind: KindText, Selectors: []string{".ux-item-shortdesc", `[itemprop="description"]`}},
		{Name: FieldVersion, Kind: KindText, Selectors: []string{"#version + td", ".ux-item-meta-version"}},
		{Name: FieldAuthor, Kind: KindText, Selectors: []string{".ux-item-publisher-link", `[itemprop="author"]`}},
		{Name: FieldRepository, Kind: KindLink, Selectors: []string{".ux-repository a", `.ux-section-resources a[href*="github.com"]`}},
		{Name: FieldLicense, Kind: KindText, Selectors: []string{".ux-item-license", `.ux-section-resources a[href*="license"]`}},
		{Name: FieldDownloads, Kind: KindNumber, Selectors: []string{".downloads-text", ".ux-item-downloads"}},
		{Name: FieldInstalls, Kind: KindNumber, Selectors: []string{".installs-text", ".ux-item-installs"}},
		{Name: FieldLastUpdated, Kind: KindText, Selectors: []string{"#last-updated + td", ".ux-item-last-updated"}},
		{Name: FieldCategories, Kind: KindList, Selectors: []string{".meta-data-list-link", ".ux-item-categories a"}},
		{Name: FieldTags, Kind: KindList, Selectors: []string{".meta-data-list .tag", ".ux-item-tags a"}},
		{Name: FieldRating, Kind: KindFloat, Selectors: []string{`[itemprop="ratingValue"]`, ".ux-item-review-rating"}},
	}
}

// EvaluateFields applies specs to a rendered document. Text and link fields
// take the first selector with a non-empty match. Number fields keep only the
// digits (0 when none); list fields collect every trimmed match of the first
// selector that matches anything. Fields with no value are omitted.
func EvaluateFields(doc *goquery.Document, base *url.URL, specs []FieldSpec) map[string]any {
	out := make(map[string]any, len(specs))
	for _, spec := range specs {
		switch spec.Kind {
		case KindText:
			if v, ok := firstText(doc, spec.Selectors); ok {
				out[spec.Name] = v
			}
		case KindNumber:
			text, _ := firstText(doc, spec.Selectors)
			if n, ok := parseCount(text); ok {
				out[spec.Name] = n
			}
		case KindFloat:
			text, _ := firstText(doc, spec.Selectors)
			if f, ok := parseDecimal(text); ok {
				out[spec.Name] = f
			}
		case KindList:
			if v := allText(doc, spec.Selectors); len(v) > 0 {
				out[spec.Name] = v
			}
		case KindLink:
			if v, ok := firstHref(doc, base, spec.Selectors); ok {
				out[spec.Name] = v
			}
		}
	}
	return out
}

// ValidateFieldMap rejects specs without a name, selector or known kind.
func ValidateFieldMap(specs []FieldSpec) error {
	for i, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("field %d: name is required", i)
		}
		if len(spec.Selectors) == 0 {
			return fmt.Errorf("field %q: at least one selector is required", spec.Name)
		}
		if !spec.Kind.Valid() {
			return fmt.Errorf("field %q: unknown kind %q", spec.Name, spec.Kind)
		}
	}
	return nil
}

func firstText(doc *goquery.Document, selectors []string) (string, bool) {
	for _, selector := range selectors {
		sel := doc.Find(selector)
		for i := range sel.Length() {
			node := sel.Eq(i)
			text := strings.TrimSpace(node.Text())
			if text == "" && goquery.NodeName(node) == "meta" {
				text = strings.TrimSpace(node.AttrOr("content", ""))
			}
			if text != "" {
				return collapseSpace(text), true
			}
		}
	}
	return "", false
}

func allText(doc *goquery.Document, selectors []string) []string {
	for _, selector := range selectors {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		var out []string
		sel.Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				out = append(out, collapseSpace(text))
			}
		})
		return out
	}
	return nil
}

func firstHref(doc *goquery.Document, base *url.URL, selectors []string) (string, bool) {
	for _, selector := range selectors {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, ok := s.Attr("href")
			if !ok {
				return true
			}
			found = NormalizeURL(base, href)
			return found == ""
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

var (
	nonDigits = regexp.MustCompile(`[^0-9]`)
	decimal   = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)
	spaceRuns = regexp.MustCompile(`\s+`)
)

// parseCount keeps only the digits of text. Empty input yields 0; a value
// that does not fit in int64 yields false.
func parseCount(text string) (int64, bool) {
	digits := nonDigits.ReplaceAllString(text, "")
	if digits == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseDecimal(text string) (float64, bool) {
	m := decimal.FindString(text)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))
}

// itemFieldsFrom maps evaluated values onto ItemFields.
func itemFieldsFrom(identifier, rawURL string, values map[string]any) ItemFields {
	f := ItemFields{Identifier: identifier, URL: rawURL}
	str := func(name string) string {
		s, _ := values[name].(string)
		return s
	}
	count := func(name string) *int64 {
		if n, ok := values[name].(int64); ok {
			return &n
		}
		return nil
	}
	list := func(name string) []string {
		l, _ := values[name].([]string)
		return l
	}
	f.Name = str(FieldName)
	f.Description = str(FieldDescription)
	f.Version = str(FieldVersion)
	f.Author = str(FieldAuthor)
	f.Repository = str(FieldRepository)
	f.License = str(FieldLicense)
	f.LastUpdated = str(FieldLastUpdated)
	f.Downloads = count(FieldDownloads)
	f.Installs = count(FieldInstalls)
	f.Categories = list(FieldCategories)
	f.Tags = list(FieldTags)
	if r, ok := values[FieldRating].(float64); ok {
		f.Rating = &r
	}
	return f
}

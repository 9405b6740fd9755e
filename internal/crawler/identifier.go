package crawler

import (
	"fmt"
	"regexp"
)

// DefaultIdentifierParam is the query parameter carrying the item identifier.
const DefaultIdentifierParam = "itemName"

// IdentifierParser pulls the stable item identifier out of an item URL.
type IdentifierParser struct {
	param string
	re    *regexp.Regexp
}

// NewIdentifierParser matches `<param>=<value>` up to the next `&` or `#`.
func NewIdentifierParser(param string) IdentifierParser {
	if param == "" {
		param = DefaultIdentifierParam
	}
	return IdentifierParser{
		param: param,
		re:    regexp.MustCompile(`[?&]` + regexp.QuoteMeta(param) + `=([^&#]+)`),
	}
}

// Param returns the query parameter name.
func (p IdentifierParser) Param() string {
	return p.param
}

// Parse returns the identifier or ErrMissingIdentifier.
func (p IdentifierParser) Parse(rawURL string) (string, error) {
	if p.re == nil {
		p = NewIdentifierParser(p.param)
	}
	m := p.re.FindStringSubmatch(rawURL)
	if len(m) < 2 || m[1] == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingIdentifier, rawURL)
	}
	return m[1], nil
}

// Matches reports whether rawURL looks like an item URL.
func (p IdentifierParser) Matches(rawURL string) bool {
	_, err := p.Parse(rawURL)
	return err == nil
}

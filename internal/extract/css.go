package extract

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Supports the subset of CSS the selector chains use:
//   - tag: "video", "h1"
//   - .class and #id: "div.caption", "#main"
//   - attribute tests: [attr], [attr=val], [attr*=val], [attr^=val], [attr$=val]
//   - compounds of the above: `meta[property="og:video"]`
//   - descendant combinator (space): "video source"

type attrTest struct {
	key string
	op  string // "", "=", "*=", "^=", "$="
	val string
}

type compound struct {
	tag   string
	id    string
	class []string
	attrs []attrTest
}

// cssSelector is a descendant chain; the last compound matches the element
type cssSelector []compound

func parseSelector(sel string) (cssSelector, error) {
	parts, err := splitDescendants(sel)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty selector")
	}

	out := make(cssSelector, 0, len(parts))
	for _, p := range parts {
		c, err := parseCompound(p)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", sel, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// splitDescendants splits on whitespace outside brackets and quotes
func splitDescendants(sel string) ([]string, error) {
	var (
		parts []string
		cur   strings.Builder
		quote rune
		depth int
	)
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}

	for _, r := range sel {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case depth == 0 && (r == ' ' || r == '\t' || r == '\n'):
			flush()
			continue
		case depth == 0 && (r == '>' || r == '+' || r == '~' || r == ','):
			return nil, fmt.Errorf("combinator %q not supported", r)
		}
		cur.WriteRune(r)
	}
	if quote != 0 || depth != 0 {
		return nil, fmt.Errorf("unbalanced selector %q", sel)
	}
	flush()
	return parts, nil
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	readIdent := func() string {
		start := i
		for i < len(s) && s[i] != '.' && s[i] != '#' && s[i] != '[' {
			i++
		}
		return s[start:i]
	}

	c.tag = strings.ToLower(readIdent())
	if c.tag == "*" {
		c.tag = ""
	}

	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			c.class = append(c.class, readIdent())
		case '#':
			i++
			c.id = readIdent()
		case '[':
			end := closingBracket(s, i)
			if end < 0 {
				return c, fmt.Errorf("unterminated attribute test")
			}
			c.attrs = append(c.attrs, parseAttrTest(s[i+1:end]))
			i = end + 1
		default:
			return c, fmt.Errorf("unexpected %q", s[i])
		}
	}
	return c, nil
}

func closingBracket(s string, open int) int {
	var quote byte
	for j := open + 1; j < len(s); j++ {
		switch {
		case quote != 0:
			if s[j] == quote {
				quote = 0
			}
		case s[j] == '"' || s[j] == '\'':
			quote = s[j]
		case s[j] == ']':
			return j
		}
	}
	return -1
}

func parseAttrTest(body string) attrTest {
	for _, op := range []string{"*=", "^=", "$=", "="} {
		if idx := strings.Index(body, op); idx >= 0 {
			return attrTest{
				key: strings.TrimSpace(body[:idx]),
				op:  op,
				val: strings.Trim(strings.TrimSpace(body[idx+len(op):]), `"'`),
			}
		}
	}
	return attrTest{key: strings.TrimSpace(body)}
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.id != "" && getAttr(n, "id") != c.id {
		return false
	}
	if len(c.class) > 0 {
		classes := strings.Fields(getAttr(n, "class"))
		for _, want := range c.class {
			if !contains(classes, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		val, ok := lookupAttr(n, a.key)
		if !ok {
			return false
		}
		switch a.op {
		case "=":
			ok = val == a.val
		case "*=":
			ok = a.val != "" && strings.Contains(val, a.val)
		case "^=":
			ok = a.val != "" && strings.HasPrefix(val, a.val)
		case "$=":
			ok = a.val != "" && strings.HasSuffix(val, a.val)
		}
		if !ok {
			return false
		}
	}
	return true
}

// matches reports whether n matches the full descendant chain
func (s cssSelector) matches(n *html.Node) bool {
	last := len(s) - 1
	if !s[last].matches(n) {
		return false
	}
	i := last - 1
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if s[i].matches(p) {
			i--
		}
	}
	return i < 0
}

// querySelector returns the first element in document order matching sel
func querySelector(doc *html.Node, sel cssSelector) *html.Node {
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if sel.matches(n) {
			found = n
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return found
}

// readValue mirrors reading a DOM property: URL properties resolve against
// base and "text" concatenates descendant text
func readValue(n *html.Node, attr string, base *url.URL) string {
	if attr == AttrText {
		return textContent(n)
	}

	v, ok := lookupAttr(n, attr)
	if !ok || v == "" {
		return ""
	}
	switch attr {
	case "src", "poster", "href":
		if base != nil {
			if u, err := base.Parse(strings.TrimSpace(v)); err == nil {
				return u.String()
			}
		}
	}
	return v
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// getAttr returns the value of an attribute on a node.
func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

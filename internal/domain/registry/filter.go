package registry

import (
	"fmt"
	"strings"
)

// Filter is a parsed boolean predicate over capability properties, in the
// parenthesized prefix form providers declare selectors in:
//
//	(key=value)  (key=*)  (key=pre*fix)
//	(&(a=1)(b=*))  (|(a=1)(a=2))  (!(a=1))
//
// The pseudo-key "type" matches the capability type.
type Filter struct {
	node node
	expr string
}

// MustFilter parses expr and panics on malformed input. For literals.
func MustFilter(expr string) *Filter {
	f, err := ParseFilter(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// ParseFilter parses an expression; malformed input is rejected here, not
// at match time.
func ParseFilter(expr string) (*Filter, error) {
	p := &parser{in: expr}
	n, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	p.skipSpace()
	if p.pos != len(p.in) {
		return nil, fmt.Errorf("filter %q: trailing input at %d", expr, p.pos)
	}
	return &Filter{node: n, expr: expr}, nil
}

// Matches evaluates the filter against a capability snapshot.
func (f *Filter) Matches(c Capability) bool { return f.node.matches(c) }

// MatchesProperties evaluates against a bare property map, with no
// capability type in scope.
func (f *Filter) MatchesProperties(props Properties) bool {
	return f.node.matches(Capability{Properties: props})
}

func (f *Filter) String() string { return f.expr }

// And combines filters conjunctively.
func And(filters ...*Filter) *Filter {
	nodes := make([]node, 0, len(filters))
	exprs := make([]string, 0, len(filters))
	for _, f := range filters {
		nodes = append(nodes, f.node)
		exprs = append(exprs, f.expr)
	}
	return &Filter{
		node: andNode(nodes),
		expr: "(&" + strings.Join(exprs, "") + ")",
	}
}

type node interface {
	matches(c Capability) bool
}

type andNode []node

func (n andNode) matches(c Capability) bool {
	for _, sub := range n {
		if !sub.matches(c) {
			return false
		}
	}
	return true
}

type orNode []node

func (n orNode) matches(c Capability) bool {
	for _, sub := range n {
		if sub.matches(c) {
			return true
		}
	}
	return false
}

type notNode struct{ sub node }

func (n notNode) matches(c Capability) bool { return !n.sub.matches(c) }

type itemNode struct {
	key     string
	pattern string // "*" is bare presence
}

func (n itemNode) matches(c Capability) bool {
	var values []string
	if n.key == "type" {
		if c.Type == "" {
			return false
		}
		values = []string{c.Type}
	} else {
		if _, ok := c.Properties[n.key]; !ok {
			return false
		}
		values = c.Properties.Strings(n.key)
	}
	if n.pattern == "*" {
		return true
	}
	for _, v := range values {
		if matchPattern(n.pattern, v) {
			return true
		}
	}
	return false
}

// matchPattern supports '*' wildcards within an equality value.
func matchPattern(pattern, value string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(value, part)
		if idx < 0 {
			return false
		}
		value = value[idx+len(part):]
	}
	return strings.HasSuffix(value, last)
}

type parser struct {
	in  string
	pos int
}

func (p *parser) parse() (node, error) {
	p.skipSpace()
	if !p.eat('(') {
		return nil, fmt.Errorf("expected '(' at %d", p.pos)
	}
	p.skipSpace()
	var n node
	var err error
	switch {
	case p.eat('&'):
		var subs []node
		subs, err = p.parseList()
		n = andNode(subs)
	case p.eat('|'):
		var subs []node
		subs, err = p.parseList()
		n = orNode(subs)
	case p.eat('!'):
		var sub node
		sub, err = p.parse()
		n = notNode{sub: sub}
	default:
		n, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eat(')') {
		return nil, fmt.Errorf("expected ')' at %d", p.pos)
	}
	return n, nil
}

func (p *parser) parseList() ([]node, error) {
	var subs []node
	for {
		p.skipSpace()
		if p.pos >= len(p.in) || p.in[p.pos] != '(' {
			break
		}
		sub, err := p.parse()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("empty composite at %d", p.pos)
	}
	return subs, nil
}

func (p *parser) parseItem() (node, error) {
	eq := strings.IndexByte(p.in[p.pos:], '=')
	end := strings.IndexByte(p.in[p.pos:], ')')
	if eq < 0 || end < 0 || eq > end {
		return nil, fmt.Errorf("expected key=value at %d", p.pos)
	}
	key := strings.TrimSpace(p.in[p.pos : p.pos+eq])
	value := p.in[p.pos+eq+1 : p.pos+end]
	if key == "" {
		return nil, fmt.Errorf("empty key at %d", p.pos)
	}
	p.pos += end
	return itemNode{key: key, pattern: value}, nil
}

func (p *parser) eat(c byte) bool {
	if p.pos < len(p.in) && p.in[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) skipSpace() {
	for p.pos < len(p.in) && (p.in[p.pos] == ' ' || p.in[p.pos] == '\t') {
		p.pos++
	}
}

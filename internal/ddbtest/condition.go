package ddbtest

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/versioned/internal/av"
)

// Evaluate reports whether a condition expression holds for item, which is
// nil when the item does not exist. It understands the subset used by
// conditional writes: comparisons with = and <>, attribute_exists,
// attribute_not_exists, AND, OR, NOT and parentheses.
func Evaluate(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	toks, err := tokenize(expr)
	if err != nil {
		return false, err
	}
	p := &condParser{toks: toks, names: names, values: values, item: item}
	ok, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("unexpected token %q in %q", p.toks[p.pos], expr)
	}
	return ok, nil
}

// Explain renders expr with placeholders replaced by attribute names and values.
func Explain(expr string, names map[string]string, values map[string]types.AttributeValue) string {
	toks, err := tokenize(expr)
	if err != nil {
		return expr
	}
	out := make([]string, len(toks))
	for i, tok := range toks {
		switch {
		case strings.HasPrefix(tok, "#"):
			if n, ok := names[tok]; ok {
				tok = n
			}
		case strings.HasPrefix(tok, ":"):
			if v, ok := values[tok]; ok {
				tok = describe(v)
			}
		}
		out[i] = tok
	}
	return strings.Join(out, " ")
}

func describe(v types.AttributeValue) string {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return fmt.Sprintf("S:%q", tv.Value)
	case *types.AttributeValueMemberN:
		return "N:" + tv.Value
	case *types.AttributeValueMemberBOOL:
		return fmt.Sprintf("BOOL:%t", tv.Value)
	default:
		return fmt.Sprintf("%T", v)
	}
}

func tokenize(expr string) ([]string, error) {
	var toks []string
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')' || c == ',' || c == '=':
			toks = append(toks, string(c))
			i++
		case c == '<' || c == '>':
			if i+1 < len(expr) && (expr[i+1] == '=' || (c == '<' && expr[i+1] == '>')) {
				toks = append(toks, expr[i:i+2])
				i += 2
			} else {
				toks = append(toks, string(c))
				i++
			}
		default:
			j := i
			for j < len(expr) && !strings.ContainsRune(" \t\n(),=<>", rune(expr[j])) {
				j++
			}
			toks = append(toks, expr[i:j])
			i = j
		}
	}
	return toks, nil
}

type condParser struct {
	toks   []string
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
	item   map[string]types.AttributeValue
}

func (p *condParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *condParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *condParser) expect(tok string) error {
	if got := p.next(); got != tok {
		return fmt.Errorf("expected %q, got %q", tok, got)
	}
	return nil
}

func (p *condParser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(p.peek(), "OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *condParser) parseAnd() (bool, error) {
	left, err := p.parseNot()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(p.peek(), "AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *condParser) parseNot() (bool, error) {
	if strings.EqualFold(p.peek(), "NOT") {
		p.next()
		v, err := p.parseNot()
		return !v, err
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (bool, error) {
	tok := p.peek()
	switch tok {
	case "":
		return false, fmt.Errorf("unexpected end of expression")
	case "(":
		p.next()
		v, err := p.parseOr()
		if err != nil {
			return false, err
		}
		return v, p.expect(")")
	case "attribute_exists", "attribute_not_exists":
		p.next()
		if err := p.expect("("); err != nil {
			return false, err
		}
		name, err := p.name(p.next())
		if err != nil {
			return false, err
		}
		if err := p.expect(")"); err != nil {
			return false, err
		}
		_, exists := p.item[name]
		return exists == (tok == "attribute_exists"), nil
	}

	left, err := p.operand(p.next())
	if err != nil {
		return false, err
	}
	op := p.next()
	right, err := p.operand(p.next())
	if err != nil {
		return false, err
	}
	if left == nil || right == nil {
		return false, nil
	}
	switch op {
	case "=":
		return av.Equal(left, right), nil
	case "<>":
		return !av.Equal(left, right), nil
	default:
		return false, fmt.Errorf("unsupported comparator %q", op)
	}
}

func (p *condParser) name(tok string) (string, error) {
	if !strings.HasPrefix(tok, "#") {
		return tok, nil
	}
	n, ok := p.names[tok]
	if !ok {
		return "", fmt.Errorf("undefined attribute name placeholder %s", tok)
	}
	return n, nil
}

func (p *condParser) operand(tok string) (types.AttributeValue, error) {
	if strings.HasPrefix(tok, ":") {
		v, ok := p.values[tok]
		if !ok {
			return nil, fmt.Errorf("undefined value placeholder %s", tok)
		}
		return v, nil
	}
	name, err := p.name(tok)
	if err != nil {
		return nil, err
	}
	return p.item[name], nil
}

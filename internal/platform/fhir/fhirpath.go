package fhir

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// PathEngine evaluates the constrained FHIRPath subset used by governed rule
// expressions and scope filters: field navigation, numeric indexing,
// where/exists/count/first/empty/not, string predicates, comparisons, and
// the and/or/implies operators. Resources are map[string]interface{}.
//
// The engine is stateless; one instance may be shared by concurrent callers.
type PathEngine struct{}

// NewPathEngine creates an expression engine.
func NewPathEngine() *PathEngine {
	return &PathEngine{}
}

// Evaluate runs an expression against a resource and returns the resulting
// collection. A path that resolves to nothing yields an empty collection,
// not an error; only malformed expressions error.
func (e *PathEngine) Evaluate(resource map[string]interface{}, expression string) ([]interface{}, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("fhirpath: empty expression")
	}
	toks, err := scanTokens(expression)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: %w", err)
	}
	p := &exprParser{toks: toks}
	root, err := p.parse(0)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: %w", err)
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("fhirpath: unexpected trailing token %q", p.peek().text)
	}
	if resource == nil {
		return nil, nil
	}
	ev := &exprEval{root: resource}
	return ev.eval(root, []interface{}{resource})
}

// EvaluateBool evaluates an expression and collapses the collection to a
// boolean: empty is false, a lone boolean is itself, anything else is true.
func (e *PathEngine) EvaluateBool(resource map[string]interface{}, expression string) (bool, error) {
	out, err := e.Evaluate(resource, expression)
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

// CheckSyntax parses an expression without evaluating it.
func (e *PathEngine) CheckSyntax(expression string) error {
	toks, err := scanTokens(strings.TrimSpace(expression))
	if err != nil {
		return err
	}
	p := &exprParser{toks: toks}
	if _, err := p.parse(0); err != nil {
		return err
	}
	if p.peek().kind != tokEOF {
		return fmt.Errorf("unexpected trailing token %q", p.peek().text)
	}
	return nil
}

// ---------------------------------------------------------------------------
// scanner
// ---------------------------------------------------------------------------

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokDot
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokComma
	tokOp // = != < > <= >=
)

type exprToken struct {
	kind tokKind
	text string
	pos  int
}

func scanTokens(input string) ([]exprToken, error) {
	var toks []exprToken
	i := 0
	for i < len(input) {
		ch := input[i]
		switch {
		case ch == ' ' || ch == '\t':
			i++
		case ch == '.':
			toks = append(toks, exprToken{tokDot, ".", i})
			i++
		case ch == '(':
			toks = append(toks, exprToken{tokLParen, "(", i})
			i++
		case ch == ')':
			toks = append(toks, exprToken{tokRParen, ")", i})
			i++
		case ch == '[':
			toks = append(toks, exprToken{tokLBrack, "[", i})
			i++
		case ch == ']':
			toks = append(toks, exprToken{tokRBrack, "]", i})
			i++
		case ch == ',':
			toks = append(toks, exprToken{tokComma, ",", i})
			i++
		case ch == '=':
			toks = append(toks, exprToken{tokOp, "=", i})
			i++
		case ch == '!':
			if i+1 >= len(input) || input[i+1] != '=' {
				return nil, fmt.Errorf("unexpected '!' at %d", i)
			}
			toks = append(toks, exprToken{tokOp, "!=", i})
			i += 2
		case ch == '<' || ch == '>':
			op := string(ch)
			i++
			if i < len(input) && input[i] == '=' {
				op += "="
				i++
			}
			toks = append(toks, exprToken{tokOp, op, i})
		case ch == '\'':
			j := i + 1
			var sb strings.Builder
			for j < len(input) && input[j] != '\'' {
				if input[j] == '\\' && j+1 < len(input) {
					j++
				}
				sb.WriteByte(input[j])
				j++
			}
			if j >= len(input) {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			toks = append(toks, exprToken{tokString, sb.String(), i})
			i = j + 1
		case ch >= '0' && ch <= '9':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9') {
				j++
			}
			if j+1 < len(input) && input[j] == '.' && input[j+1] >= '0' && input[j+1] <= '9' {
				j++
				for j < len(input) && input[j] >= '0' && input[j] <= '9' {
					j++
				}
			}
			toks = append(toks, exprToken{tokNumber, input[i:j], i})
			i = j
		case ch == '_' || unicode.IsLetter(rune(ch)):
			j := i
			for j < len(input) && (input[j] == '_' || input[j] == '-' ||
				unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j]))) {
				j++
			}
			toks = append(toks, exprToken{tokIdent, input[i:j], i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", string(ch), i)
		}
	}
	toks = append(toks, exprToken{tokEOF, "", len(input)})
	return toks, nil
}

// ---------------------------------------------------------------------------
// parser
// ---------------------------------------------------------------------------

type exprNodeKind int

const (
	exprLiteral exprNodeKind = iota
	exprField
	exprChain   // a.b
	exprIndex   // a[n]
	exprCall    // a.fn(args...)
	exprCompare // a op b
	exprAnd
	exprOr
	exprImplies
)

type exprNode struct {
	kind exprNodeKind
	lit  interface{} // literal value or field/function name or operator
	kids []*exprNode
}

type exprParser struct {
	toks []exprToken
	pos  int
}

func (p *exprParser) peek() exprToken { return p.toks[p.pos] }

func (p *exprParser) next() exprToken {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) expect(kind tokKind, what string) (exprToken, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s at %d, got %q", what, t.pos, t.text)
	}
	return t, nil
}

// binding precedence: implies < or < and < comparison < postfix
func precedenceOf(t exprToken) (int, exprNodeKind, string) {
	switch {
	case t.kind == tokIdent && t.text == "implies":
		return 1, exprImplies, ""
	case t.kind == tokIdent && t.text == "or":
		return 2, exprOr, ""
	case t.kind == tokIdent && t.text == "and":
		return 3, exprAnd, ""
	case t.kind == tokOp:
		return 4, exprCompare, t.text
	}
	return 0, 0, ""
}

func (p *exprParser) parse(minPrec int) (*exprNode, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for {
		prec, kind, op := precedenceOf(p.peek())
		if prec == 0 || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parse(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &exprNode{kind: kind, lit: op, kids: []*exprNode{left, right}}
	}
}

func (p *exprParser) parsePostfix() (*exprNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			ident, err := p.expect(tokIdent, "identifier after '.'")
			if err != nil {
				return nil, err
			}
			if p.peek().kind == tokLParen {
				p.next()
				args, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				node = &exprNode{kind: exprCall, lit: ident.text, kids: append([]*exprNode{node}, args...)}
			} else {
				node = &exprNode{kind: exprChain, kids: []*exprNode{node, {kind: exprField, lit: ident.text}}}
			}
		case tokLBrack:
			p.next()
			num, err := p.expect(tokNumber, "index")
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBrack, "']'"); err != nil {
				return nil, err
			}
			idx, _ := strconv.Atoi(num.text)
			node = &exprNode{kind: exprIndex, lit: idx, kids: []*exprNode{node}}
		default:
			return node, nil
		}
	}
}

func (p *exprParser) parsePrimary() (*exprNode, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.next()
		inner, err := p.parse(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokString:
		p.next()
		return &exprNode{kind: exprLiteral, lit: t.text}, nil
	case tokNumber:
		p.next()
		if strings.Contains(t.text, ".") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid decimal %q", t.text)
			}
			return &exprNode{kind: exprLiteral, lit: f}, nil
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", t.text)
		}
		return &exprNode{kind: exprLiteral, lit: n}, nil
	case tokIdent:
		p.next()
		switch t.text {
		case "true":
			return &exprNode{kind: exprLiteral, lit: true}, nil
		case "false":
			return &exprNode{kind: exprLiteral, lit: false}, nil
		}
		return &exprNode{kind: exprField, lit: t.text}, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected token %q at %d", t.text, t.pos)
	}
}

func (p *exprParser) parseArgs() ([]*exprNode, error) {
	var args []*exprNode
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parse(0)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind == tokComma {
			p.next()
			continue
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

// ---------------------------------------------------------------------------
// evaluator
// ---------------------------------------------------------------------------

type exprEval struct {
	root map[string]interface{}
}

func (ev *exprEval) eval(node *exprNode, input []interface{}) ([]interface{}, error) {
	switch node.kind {
	case exprLiteral:
		return []interface{}{node.lit}, nil
	case exprField:
		return ev.evalField(node.lit.(string), input), nil
	case exprChain:
		left, err := ev.eval(node.kids[0], input)
		if err != nil {
			return nil, err
		}
		return ev.eval(node.kids[1], left)
	case exprIndex:
		coll, err := ev.eval(node.kids[0], input)
		if err != nil {
			return nil, err
		}
		idx := node.lit.(int)
		if idx < 0 || idx >= len(coll) {
			return nil, nil
		}
		return []interface{}{coll[idx]}, nil
	case exprCall:
		return ev.evalCall(node, input)
	case exprCompare:
		return ev.evalCompare(node, input)
	case exprAnd, exprOr, exprImplies:
		return ev.evalLogic(node, input)
	}
	return nil, fmt.Errorf("unknown expression node")
}

func (ev *exprEval) evalField(name string, input []interface{}) []interface{} {
	// A leading capitalized identifier addresses the resource root when it
	// matches the resource type.
	if len(name) > 0 && unicode.IsUpper(rune(name[0])) {
		rt, _ := ev.root["resourceType"].(string)
		if rt == name {
			return []interface{}{ev.root}
		}
		return nil
	}
	var out []interface{}
	for _, item := range input {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		val, ok := m[name]
		if !ok {
			continue
		}
		if arr, isArr := val.([]interface{}); isArr {
			out = append(out, arr...)
		} else {
			out = append(out, val)
		}
	}
	return out
}

func (ev *exprEval) evalCall(node *exprNode, input []interface{}) ([]interface{}, error) {
	name := node.lit.(string)
	recv, err := ev.eval(node.kids[0], input)
	if err != nil {
		return nil, err
	}
	args := node.kids[1:]

	switch name {
	case "where":
		if len(args) != 1 {
			return nil, fmt.Errorf("where() takes one argument")
		}
		var out []interface{}
		for _, item := range recv {
			ok, err := ev.evalPredicate(args[0], item)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, item)
			}
		}
		return out, nil
	case "exists":
		if len(args) == 0 {
			return []interface{}{len(recv) > 0}, nil
		}
		for _, item := range recv {
			ok, err := ev.evalPredicate(args[0], item)
			if err != nil {
				return nil, err
			}
			if ok {
				return []interface{}{true}, nil
			}
		}
		return []interface{}{false}, nil
	case "all":
		if len(args) != 1 {
			return nil, fmt.Errorf("all() takes one argument")
		}
		for _, item := range recv {
			ok, err := ev.evalPredicate(args[0], item)
			if err != nil {
				return nil, err
			}
			if !ok {
				return []interface{}{false}, nil
			}
		}
		return []interface{}{true}, nil
	case "count":
		return []interface{}{int64(len(recv))}, nil
	case "first":
		if len(recv) == 0 {
			return nil, nil
		}
		return recv[:1], nil
	case "empty":
		return []interface{}{len(recv) == 0}, nil
	case "not":
		return []interface{}{!truthy(recv)}, nil
	case "hasValue":
		return []interface{}{len(recv) == 1 && recv[0] != nil}, nil
	case "startsWith", "endsWith", "contains":
		return ev.evalStringPredicate(name, recv, args, input)
	case "matches":
		if len(recv) == 0 || len(args) != 1 {
			return nil, nil
		}
		patColl, err := ev.eval(args[0], input)
		if err != nil {
			return nil, err
		}
		if len(patColl) == 0 {
			return nil, nil
		}
		re, err := regexp.Compile(stringify(patColl[0]))
		if err != nil {
			return nil, fmt.Errorf("matches(): %w", err)
		}
		return []interface{}{re.MatchString(stringify(recv[0]))}, nil
	case "length":
		if len(recv) == 0 {
			return nil, nil
		}
		return []interface{}{int64(len(stringify(recv[0])))}, nil
	case "lower":
		if len(recv) == 0 {
			return nil, nil
		}
		return []interface{}{strings.ToLower(stringify(recv[0]))}, nil
	case "upper":
		if len(recv) == 0 {
			return nil, nil
		}
		return []interface{}{strings.ToUpper(stringify(recv[0]))}, nil
	default:
		return nil, fmt.Errorf("unknown function %q", name)
	}
}

func (ev *exprEval) evalStringPredicate(name string, recv []interface{}, args []*exprNode, input []interface{}) ([]interface{}, error) {
	if len(recv) == 0 || len(args) != 1 {
		return nil, nil
	}
	argColl, err := ev.eval(args[0], input)
	if err != nil {
		return nil, err
	}
	if len(argColl) == 0 {
		return nil, nil
	}
	s, arg := stringify(recv[0]), stringify(argColl[0])
	switch name {
	case "startsWith":
		return []interface{}{strings.HasPrefix(s, arg)}, nil
	case "endsWith":
		return []interface{}{strings.HasSuffix(s, arg)}, nil
	default:
		return []interface{}{strings.Contains(s, arg)}, nil
	}
}

// evalPredicate evaluates an argument expression with a single item as the
// implicit focus, as where()/exists() require.
func (ev *exprEval) evalPredicate(node *exprNode, item interface{}) (bool, error) {
	out, err := ev.eval(node, []interface{}{item})
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

func (ev *exprEval) evalCompare(node *exprNode, input []interface{}) ([]interface{}, error) {
	op := node.lit.(string)
	left, err := ev.eval(node.kids[0], input)
	if err != nil {
		return nil, err
	}
	right, err := ev.eval(node.kids[1], input)
	if err != nil {
		return nil, err
	}
	// Empty operand propagates empty, per FHIRPath comparison semantics.
	if len(left) == 0 || len(right) == 0 {
		return nil, nil
	}
	return []interface{}{compareScalars(left[0], right[0], op)}, nil
}

func (ev *exprEval) evalLogic(node *exprNode, input []interface{}) ([]interface{}, error) {
	left, err := ev.eval(node.kids[0], input)
	if err != nil {
		return nil, err
	}
	lb := truthy(left)
	switch node.kind {
	case exprAnd:
		if !lb {
			return []interface{}{false}, nil
		}
	case exprOr:
		if lb {
			return []interface{}{true}, nil
		}
	case exprImplies:
		if !lb {
			return []interface{}{true}, nil
		}
	}
	right, err := ev.eval(node.kids[1], input)
	if err != nil {
		return nil, err
	}
	return []interface{}{truthy(right)}, nil
}

func compareScalars(l, r interface{}, op string) bool {
	if lf, lok := asFloat(l); lok {
		if rf, rok := asFloat(r); rok {
			switch op {
			case "=":
				return lf == rf
			case "!=":
				return lf != rf
			case "<":
				return lf < rf
			case ">":
				return lf > rf
			case "<=":
				return lf <= rf
			case ">=":
				return lf >= rf
			}
			return false
		}
	}
	if lb, lok := l.(bool); lok {
		if rb, rok := r.(bool); rok {
			if op == "=" {
				return lb == rb
			}
			if op == "!=" {
				return lb != rb
			}
			return false
		}
	}
	ls, rs := stringify(l), stringify(r)
	switch op {
	case "=":
		return ls == rs
	case "!=":
		return ls != rs
	case "<":
		return ls < rs
	case ">":
		return ls > rs
	case "<=":
		return ls <= rs
	case ">=":
		return ls >= rs
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// truthy collapses a collection to a boolean: empty is false, a singleton
// boolean is itself, any other non-empty collection is true.
func truthy(coll []interface{}) bool {
	if len(coll) == 0 {
		return false
	}
	if len(coll) == 1 {
		switch v := coll[0].(type) {
		case bool:
			return v
		case nil:
			return false
		}
	}
	return true
}

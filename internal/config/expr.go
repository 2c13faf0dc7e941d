package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Keyword identifies a reserved value expression.
type Keyword int

const (
	// KeywordNone means the expression is an arithmetic formula.
	KeywordNone Keyword = iota
	KeywordHeartRate
	KeywordToggle
	KeywordConnectionStatus
)

// Expr is a parsed value expression: either a reserved keyword or an
// arithmetic formula over heartRate. Formulas are parsed to an AST at
// config-load time and interpreted per sample; no string evaluation ever
// happens at runtime.
type Expr struct {
	Keyword Keyword
	Source  string
	root    node
}

// ParseExpr parses a value expression. Allowed inputs are the reserved
// keywords heartRate, toggle, and connectionStatus, or an arithmetic
// formula over heartRate using + - * / ( ) and numeric literals.
func ParseExpr(src string) (*Expr, error) {
	trimmed := strings.TrimSpace(src)
	switch trimmed {
	case "heartRate":
		return &Expr{Keyword: KeywordHeartRate, Source: trimmed}, nil
	case "toggle":
		return &Expr{Keyword: KeywordToggle, Source: trimmed}, nil
	case "connectionStatus":
		return &Expr{Keyword: KeywordConnectionStatus, Source: trimmed}, nil
	}
	if trimmed == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if err := checkCharset(trimmed); err != nil {
		return nil, err
	}
	p := &exprParser{toks: lex(trimmed)}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected %q", p.peek().text)
	}
	return &Expr{Keyword: KeywordNone, Source: trimmed, root: root}, nil
}

// checkCharset rejects anything outside the formula whitelist before the
// parser sees it. The parser would reject these too; the explicit check
// produces a clearer error and keeps the whitelist auditable in one place.
func checkCharset(src string) error {
	rest := strings.ReplaceAll(src, "heartRate", "")
	for _, r := range rest {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' || r == '+' || r == '-' || r == '*' || r == '/' || r == '(' || r == ')':
		case unicode.IsSpace(r):
		default:
			return fmt.Errorf("disallowed character %q", r)
		}
	}
	return nil
}

// Eval interprets an arithmetic formula for one heart-rate sample. It
// returns an error on any non-finite result (e.g. division by zero) so the
// evaluator can fall back rather than emit garbage. Calling Eval on a
// keyword expression is a programming error.
func (e *Expr) Eval(heartRate float64) (float64, error) {
	if e.Keyword != KeywordNone {
		return 0, fmt.Errorf("keyword expression %q has no arithmetic form", e.Source)
	}
	v := e.root.eval(heartRate)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite result evaluating %q", e.Source)
	}
	return v, nil
}

// AST nodes. Interpretation is a straight recursive walk.

type node interface {
	eval(hr float64) float64
}

type numNode float64

func (n numNode) eval(float64) float64 { return float64(n) }

type hrNode struct{}

func (hrNode) eval(hr float64) float64 { return hr }

type binNode struct {
	op   byte
	l, r node
}

func (n binNode) eval(hr float64) float64 {
	a, b := n.l.eval(hr), n.r.eval(hr)
	switch n.op {
	case '+':
		return a + b
	case '-':
		return a - b
	case '*':
		return a * b
	default:
		return a / b
	}
}

type negNode struct{ inner node }

func (n negNode) eval(hr float64) float64 { return -n.inner.eval(hr) }

// Lexer.

type tokKind int

const (
	tokNum tokKind = iota
	tokHR
	tokOp
	tokLParen
	tokRParen
	tokEOF
	tokBad
)

type token struct {
	kind tokKind
	text string
	num  float64
}

func lex(src string) []token {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case strings.HasPrefix(src[i:], "heartRate"):
			toks = append(toks, token{kind: tokHR, text: "heartRate"})
			i += len("heartRate")
		case c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case (c >= '0' && c <= '9') || c == '.':
			j := i
			for j < len(src) && ((src[j] >= '0' && src[j] <= '9') || src[j] == '.') {
				j++
			}
			text := src[i:j]
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				toks = append(toks, token{kind: tokBad, text: text})
			} else {
				toks = append(toks, token{kind: tokNum, text: text, num: num})
			}
			i = j
		default:
			toks = append(toks, token{kind: tokBad, text: string(c)})
			i++
		}
	}
	return append(toks, token{kind: tokEOF})
}

// Recursive-descent parser with standard precedence:
// expr := term (('+'|'-') term)*
// term := unary (('*'|'/') unary)*
// unary := '-' unary | factor
// factor := number | heartRate | '(' expr ')'

type exprParser struct {
	toks []token
	pos  int
}

func (p *exprParser) peek() token { return p.toks[p.pos] }

func (p *exprParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) done() bool { return p.peek().kind == tokEOF }

func (p *exprParser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
		op := p.next().text[0]
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *exprParser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "*" || p.peek().text == "/") {
		op := p.next().text[0]
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binNode{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (node, error) {
	if p.peek().kind == tokOp && p.peek().text == "-" {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negNode{inner: inner}, nil
	}
	return p.parseFactor()
}

func (p *exprParser) parseFactor() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return numNode(t.num), nil
	case tokHR:
		return hrNode{}, nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected %q", t.text)
	}
}

package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Bindings 表达式可读取的两个根绑定
type Bindings struct {
	State map[string]any
	Event map[string]any
}

// Roots 表达式允许引用的根标识符
var Roots = []string{"state", "event"}

// Expr 编译后的条件表达式，可并发复用
type Expr struct {
	src   string
	canon string
	root  node
}

// String 返回表达式源码
func (e *Expr) String() string {
	return e.src
}

// Compile 解析表达式。引用 state / event 以外的标识符视为编译错误。
// Supported operators: ==, !=, ===, !==, >, <, >=, <=, &&, ||, !
// Supported literals: numbers, quoted strings, true, false, null
func Compile(src string) (*Expr, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, fmt.Errorf("empty expression")
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}

	p := &exprParser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].value, p.pos)
	}
	return &Expr{src: trimmed, canon: canonical(tokens), root: root}, nil
}

// Canonical 返回忽略空白与引号风格差异的规范形式，用于判断两个表达式是否相同
func (e *Expr) Canonical() string {
	return e.canon
}

// Value 对绑定求值并返回原始结果（不做布尔转换）
func (e *Expr) Value(b Bindings) (any, error) {
	return e.root.eval(b)
}

// Eval 对绑定求值并转换为布尔值
func (e *Expr) Eval(b Bindings) (bool, error) {
	val, err := e.root.eval(b)
	if err != nil {
		return false, err
	}
	return toBool(val), nil
}

// Evaluate 编译并求值，便于一次性调用
func Evaluate(src string, b Bindings) (bool, error) {
	expr, err := Compile(src)
	if err != nil {
		return false, err
	}
	return expr.Eval(b)
}

// Validate 只检查语法与根标识符
func Validate(src string) error {
	_, err := Compile(src)
	return err
}

func canonical(tokens []token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		if t.kind == tkString {
			parts[i] = strconv.Quote(t.value)
			continue
		}
		parts[i] = t.value
	}
	return strings.Join(parts, " ")
}

// --- Token types ---

type tokenKind int

const (
	tkNumber   tokenKind = iota // 42, 0.8, -3.14
	tkString                    // "hello" 'hello'
	tkIdent                     // identifier or keyword
	tkOp                        // ==, !=, >, <, >=, <=, &&, ||, !
	tkLParen                    // (
	tkRParen                    // )
	tkLBracket                  // [
	tkRBracket                  // ]
	tkDot                       // .
)

type token struct {
	kind  tokenKind
	value string
}

// --- Tokenizer ---

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	runes := []rune(expr)

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		switch ch {
		case '(':
			tokens = append(tokens, token{tkLParen, "("})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tkRParen, ")"})
			i++
			continue
		case '[':
			tokens = append(tokens, token{tkLBracket, "["})
			i++
			continue
		case ']':
			tokens = append(tokens, token{tkRBracket, "]"})
			i++
			continue
		case '.':
			if i+1 < len(runes) && isDigit(runes[i+1]) && isNumberStart(tokens) {
				break
			}
			tokens = append(tokens, token{tkDot, "."})
			i++
			continue
		case '"', '\'':
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s})
			i = n
			continue
		}

		// === 与 !== 按 == / != 处理
		if i+2 < len(runes) {
			three := string(runes[i : i+3])
			if three == "===" || three == "!==" {
				tokens = append(tokens, token{tkOp, three[:2]})
				i += 3
				continue
			}
		}

		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", ">=", "<=", "&&", "||":
				tokens = append(tokens, token{tkOp, two})
				i += 2
				continue
			}
		}

		if ch == '>' || ch == '<' || ch == '!' {
			tokens = append(tokens, token{tkOp, string(ch)})
			i++
			continue
		}

		// 路径中的数字段（items.0.name）只读整数，'.' 留给下一个段
		if isDigit(ch) && len(tokens) > 0 && tokens[len(tokens)-1].kind == tkDot {
			n := i
			for n < len(runes) && isDigit(runes[n]) {
				n++
			}
			tokens = append(tokens, token{tkNumber, string(runes[i:n])})
			i = n
			continue
		}

		// 负号只在表达式开头、运算符或左括号之后才视为数字前缀
		if isDigit(ch) || ch == '.' || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && isNumberStart(tokens)) {
			num, n := readNumber(runes, i)
			tokens = append(tokens, token{tkNumber, num})
			i = n
			continue
		}

		if isIdentStart(ch) {
			ident, n := readIdent(runes, i)
			tokens = append(tokens, token{tkIdent, ident})
			i = n
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
	}

	return tokens, nil
}

func readString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i += 2
			continue
		}
		if runes[i] == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	if i < len(runes) && runes[i] == '-' {
		i++
	}
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' || ch == '$' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '$' || ch == '-'
}

func isNumberStart(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1]
	return last.kind == tkOp || last.kind == tkLParen
}

// --- Recursive descent parser ---

type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *exprParser) peekOp(op string) bool {
	t := p.peek()
	return t != nil && t.kind == tkOp && t.value == op
}

func (p *exprParser) advance() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

// parseOr handles: expr || expr
func (p *exprParser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekOp("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "||", left: left, right: right}
	}
	return left, nil
}

// parseAnd handles: expr && expr
func (p *exprParser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peekOp("&&") {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

// parseComparison handles: expr (==|!=|>|<|>=|<=) expr
func (p *exprParser) parseComparison() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil && t.kind == tkOp {
		switch op := t.value; op {
		case "==", "!=", ">", "<", ">=", "<=":
			p.advance()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &compareNode{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

// parseUnary handles: !expr, primary
func (p *exprParser) parseUnary() (node, error) {
	if p.peekOp("!") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles: literals, paths, parenthesized expressions
func (p *exprParser) parsePrimary() (node, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case tkNumber:
		p.advance()
		f, err := parseNumber(t.value)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.value, err)
		}
		return &literalNode{value: f}, nil

	case tkString:
		p.advance()
		return &literalNode{value: t.value}, nil

	case tkIdent:
		p.advance()
		switch t.value {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null", "undefined", "nil":
			return &literalNode{value: nil}, nil
		case "state", "event":
			return p.parsePath(t.value)
		default:
			return nil, fmt.Errorf("unknown identifier %q: expressions may only reference %s",
				t.value, strings.Join(Roots, " and "))
		}

	case tkLParen:
		p.advance()
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.peek(); t == nil || t.kind != tkRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.advance()
		return val, nil

	default:
		return nil, fmt.Errorf("unexpected token %q", t.value)
	}
}

// parsePath 解析根标识符之后的 .name 与 ["key"] 访问
func (p *exprParser) parsePath(root string) (node, error) {
	path := &pathNode{root: root}
	for {
		t := p.peek()
		if t == nil {
			return path, nil
		}
		switch t.kind {
		case tkDot:
			p.advance()
			name := p.peek()
			if name == nil || (name.kind != tkIdent && name.kind != tkNumber) {
				return nil, fmt.Errorf("expected field name after '.' in %s path", root)
			}
			p.advance()
			path.segments = append(path.segments, segment{key: name.value})
		case tkLBracket:
			p.advance()
			key := p.peek()
			if key == nil || (key.kind != tkString && key.kind != tkNumber) {
				return nil, fmt.Errorf("expected string or number index in %s path", root)
			}
			p.advance()
			if end := p.peek(); end == nil || end.kind != tkRBracket {
				return nil, fmt.Errorf("expected ']' in %s path", root)
			}
			p.advance()
			path.segments = append(path.segments, segment{key: key.value, exact: true})
		default:
			return path, nil
		}
	}
}

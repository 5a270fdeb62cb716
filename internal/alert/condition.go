// 本文件用于告警条件表达式的解析与求值
// 条件是配置数据而非代码 语法被限制为字段引用 字面量 比较与布尔组合
// 不允许函数调用与白名单之外的字段 避免把规则配置变成任意代码执行入口
package alert

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr 表示编译后的条件表达式
type Expr struct {
	source string
	root   condNode
}

// Compile 将条件字符串编译为表达式 编译期完成字段白名单校验
func Compile(condition string) (*Expr, error) {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return nil, fmt.Errorf("条件表达式不能为空")
	}
	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}
	parser := &condParser{tokens: tokens}
	root, err := parser.parseOr()
	if err != nil {
		return nil, err
	}
	if !parser.atEnd() {
		return nil, fmt.Errorf("条件表达式存在多余内容: %q", parser.peek().text)
	}
	return &Expr{source: trimmed, root: root}, nil
}

// Eval 对快照求值 类型不匹配等运行期错误显式返回 由调用方决定降级
func (e *Expr) Eval(snap Snapshot) (bool, error) {
	if e == nil || e.root == nil {
		return false, fmt.Errorf("条件表达式未编译")
	}
	return e.root.eval(snap)
}

// Source 返回原始条件字符串
func (e *Expr) Source() string {
	if e == nil {
		return ""
	}
	return e.source
}

// --- 词法分析 ---

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		ch := runes[i]
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")"})
			i++
		case ch == '\'' || ch == '"':
			quote := ch
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("字符串字面量未闭合: %q", string(runes[i:]))
			}
			tokens = append(tokens, token{tokString, string(runes[i+1 : j])})
			i = j + 1
		case ch == '<' || ch == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokOp, string(runes[i : i+2])})
				i += 2
			} else {
				tokens = append(tokens, token{tokOp, string(ch)})
				i++
			}
		case ch == '=' || ch == '!':
			if i+1 >= len(runes) || runes[i+1] != '=' {
				return nil, fmt.Errorf("无效的比较运算符: %q", string(ch))
			}
			tokens = append(tokens, token{tokOp, string(runes[i : i+2])})
			i += 2
		case unicode.IsDigit(ch) || ch == '.':
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			text := string(runes[i:j])
			if _, err := strconv.ParseFloat(text, 64); err != nil {
				return nil, fmt.Errorf("无效的数字字面量: %q", text)
			}
			tokens = append(tokens, token{tokNumber, text})
			i = j
		case unicode.IsLetter(ch) || ch == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokIdent, string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("无法识别的字符: %q", string(ch))
		}
	}
	tokens = append(tokens, token{tokEOF, ""})
	return tokens, nil
}

// --- 语法分析 ---
// expr := and { "or" and }
// and  := unary { "and" unary }
// unary := "not" unary | "(" expr ")" | comparison
// comparison := operand op operand

type condParser struct {
	tokens []token
	pos    int
}

func (p *condParser) peek() token {
	return p.tokens[p.pos]
}

func (p *condParser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *condParser) atEnd() bool {
	return p.peek().kind == tokEOF
}

func (p *condParser) matchKeyword(word string) bool {
	tok := p.peek()
	if tok.kind == tokIdent && strings.EqualFold(tok.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *condParser) parseOr() (condNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseAnd() (condNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseUnary() (condNode, error) {
	if p.matchKeyword("not") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("缺少右括号")
		}
		p.next()
		return inner, nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (condNode, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	opTok := p.peek()
	if opTok.kind != tokOp {
		return nil, fmt.Errorf("缺少比较运算符 位置: %q", opTok.text)
	}
	p.next()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &cmpNode{left: left, op: opTok.text, right: right}, nil
}

func (p *condParser) parseOperand() (operand, error) {
	tok := p.peek()
	switch tok.kind {
	case tokNumber:
		p.next()
		value, _ := strconv.ParseFloat(tok.text, 64)
		return operand{kind: operandNumber, num: value}, nil
	case tokString:
		p.next()
		return operand{kind: operandString, str: tok.text}, nil
	case tokIdent:
		if strings.EqualFold(tok.text, "and") || strings.EqualFold(tok.text, "or") || strings.EqualFold(tok.text, "not") {
			return operand{}, fmt.Errorf("关键字不能作为操作数: %q", tok.text)
		}
		if !IsKnownField(tok.text) {
			return operand{}, fmt.Errorf("未知的快照字段: %q", tok.text)
		}
		p.next()
		return operand{kind: operandField, field: tok.text}, nil
	default:
		return operand{}, fmt.Errorf("无效的操作数: %q", tok.text)
	}
}

// --- 求值 ---

type condNode interface {
	eval(snap Snapshot) (bool, error)
}

type orNode struct {
	left, right condNode
}

func (n *orNode) eval(snap Snapshot) (bool, error) {
	left, err := n.left.eval(snap)
	if err != nil {
		return false, err
	}
	if left {
		return true, nil
	}
	return n.right.eval(snap)
}

type andNode struct {
	left, right condNode
}

func (n *andNode) eval(snap Snapshot) (bool, error) {
	left, err := n.left.eval(snap)
	if err != nil {
		return false, err
	}
	if !left {
		return false, nil
	}
	return n.right.eval(snap)
}

type notNode struct {
	inner condNode
}

func (n *notNode) eval(snap Snapshot) (bool, error) {
	inner, err := n.inner.eval(snap)
	if err != nil {
		return false, err
	}
	return !inner, nil
}

type operandKind int

const (
	operandField operandKind = iota
	operandNumber
	operandString
)

type operand struct {
	kind  operandKind
	field string
	num   float64
	str   string
}

// isString 返回操作数是否为字符串取值
func (o operand) isString() bool {
	switch o.kind {
	case operandString:
		return true
	case operandField:
		return stringFields[o.field]
	default:
		return false
	}
}

func (o operand) numberValue(snap Snapshot) float64 {
	if o.kind == operandField {
		return snap.Number(o.field)
	}
	return o.num
}

func (o operand) stringValue(snap Snapshot) string {
	if o.kind == operandField {
		return snap.String(o.field)
	}
	return o.str
}

type cmpNode struct {
	left  operand
	op    string
	right operand
}

func (n *cmpNode) eval(snap Snapshot) (bool, error) {
	leftIsString := n.left.isString()
	rightIsString := n.right.isString()
	if leftIsString != rightIsString {
		return false, fmt.Errorf("比较双方类型不一致: %s", n.op)
	}
	if leftIsString {
		if n.op != "==" && n.op != "!=" {
			return false, fmt.Errorf("字符串只支持相等比较: %s", n.op)
		}
		left := n.left.stringValue(snap)
		right := n.right.stringValue(snap)
		if n.op == "==" {
			return left == right, nil
		}
		return left != right, nil
	}

	left := n.left.numberValue(snap)
	right := n.right.numberValue(snap)
	switch n.op {
	case "<":
		return left < right, nil
	case "<=":
		return left <= right, nil
	case ">":
		return left > right, nil
	case ">=":
		return left >= right, nil
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	default:
		return false, fmt.Errorf("无效的比较运算符: %s", n.op)
	}
}

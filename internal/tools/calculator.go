package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

const errInvalidExpression = "Invalid mathematical expression"

var calculatorCharset = regexp.MustCompile(`^[0-9+\-*/().\s]+$`)

var errDivisionByZero = errors.New("division by zero")

// Calculator evaluates arithmetic expressions.
type Calculator struct {
	base
}

// NewCalculator creates the calculator tool.
func NewCalculator() *Calculator {
	return &Calculator{base{schema: Schema{
		Name:        "calculator",
		Description: "Realiza cálculos matemáticos básicos. Soporta suma (+), resta (-), multiplicación (*), división (/) y paréntesis.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"expression": {Type: "string", Description: `Expresión matemática a evaluar, por ejemplo "15 * 23 + 100"`},
			},
			Required: []string{"expression"},
		},
	}}}
}

func (c *Calculator) Execute(_ context.Context, args Args) (Result, error) {
	expr := args.String("expression")
	fail := Result{"success": false, "error": errInvalidExpression, "expression": expr}

	if expr == "" || !calculatorCharset.MatchString(expr) {
		return fail, nil
	}
	v, err := Evaluate(expr)
	if err != nil {
		if errors.Is(err, errDivisionByZero) {
			fail["error"] = "Division by zero"
		}
		return fail, nil
	}
	return Result{"success": true, "result": v, "expression": expr}, nil
}

// Evaluate parses and computes an arithmetic expression with + - * /,
// parentheses, unary minus and decimals.
func Evaluate(expr string) (float64, error) {
	p := &exprParser{src: expr}
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return 0, fmt.Errorf("unexpected %q at %d", p.src[p.pos], p.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("result is not finite")
	}
	return v, nil
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
			continue
		}
		if right == 0 {
			return 0, errDivisionByZero
		}
		left /= right
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	c := p.peek()
	if c == '(' {
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		if c == 0 {
			return 0, errors.New("unexpected end of expression")
		}
		return 0, fmt.Errorf("unexpected %q at %d", c, p.pos)
	}
	return strconv.ParseFloat(p.src[start:p.pos], 64)
}

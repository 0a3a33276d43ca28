package grammar

// #region imports
import (
	"strconv"
	"strings"

	"github.com/danielpatrickdp/noe-kernel/internal/canonical"
	"github.com/danielpatrickdp/noe-kernel/internal/errs"
)

// #endregion imports

// #region keywords

// glyphKeywords are words a glyph may never be. They keep implicit
// juxtaposition from swallowing operators and scope markers.
var glyphKeywords = newSet(
	"an", "ur", "nai", "nex", "shi", "vek", "sha", "tor", "da",
	"nau", "ret", "tri", "qer", "eni", "sem", "mun", "fiu",
	"khi", "kra", "sek", "mek", "men", "nel", "tel", "xel", "kos", "til",
	"qua", "soi", "fek", "kru", "nek", "true", "false", "undefined",
	"ko", "dia", "doq", "en", "tra", "fra", "noq",
	"lef", "rai", "sup", "bel", "fai", "ban", "rel",
)

// #endregion keywords

// #region lexer

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLiteral
	tokNumber
	tokWord
	tokSym
)

type token struct {
	kind tokenKind
	text string
	pos  int // byte offset in the canonical chain
}

func lex(chain string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(chain) {
		c := chain[i]
		switch {
		case c == ' ':
			i++
		case c == '@':
			start := i
			i++
			for i < len(chain) && isLiteralByte(chain[i]) {
				i++
			}
			if i == start+1 {
				return nil, errs.New(errs.CodeParseFailed, "bare '@' at position %d", start)
			}
			toks = append(toks, token{tokLiteral, chain[start:i], start})
		case c >= 'a' && c <= 'z':
			start := i
			for i < len(chain) && chain[i] >= 'a' && chain[i] <= 'z' {
				i++
			}
			toks = append(toks, token{tokWord, chain[start:i], start})
		case c >= '0' && c <= '9', (c == '+' || c == '-') && i+1 < len(chain) && chain[i+1] >= '0' && chain[i+1] <= '9':
			start := i
			i = scanNumber(chain, i)
			toks = append(toks, token{tokNumber, chain[start:i], start})
		case c == '<' || c == '>':
			if i+1 < len(chain) && chain[i+1] == '=' {
				toks = append(toks, token{tokSym, chain[i : i+2], i})
				i += 2
			} else {
				toks = append(toks, token{tokSym, chain[i : i+1], i})
				i++
			}
		case c == '=' || c == '(' || c == ')' || c == '"' || c == '\'':
			toks = append(toks, token{tokSym, chain[i : i+1], i})
			i++
		default:
			if strings.HasPrefix(chain[i:], "·") {
				toks = append(toks, token{tokSym, "·", i})
				i += len("·")
				break
			}
			if strings.HasPrefix(chain[i:], "°") {
				toks = append(toks, token{tokSym, "°", i})
				i += len("°")
				break
			}
			return nil, errs.New(errs.CodeParseFailed, "unexpected character %q at position %d", chain[i:i+1], i)
		}
	}
	toks = append(toks, token{tokEOF, "", len(chain)})
	return toks, nil
}

func isLiteralByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')
}

func scanNumber(chain string, i int) int {
	if chain[i] == '+' || chain[i] == '-' {
		i++
	}
	for i < len(chain) && chain[i] >= '0' && chain[i] <= '9' {
		i++
	}
	if i+1 < len(chain) && chain[i] == '.' && chain[i+1] >= '0' && chain[i+1] <= '9' {
		i++
		for i < len(chain) && chain[i] >= '0' && chain[i] <= '9' {
			i++
		}
	}
	if i < len(chain) && (chain[i] == 'e' || chain[i] == 'E') {
		j := i + 1
		if j < len(chain) && (chain[j] == '+' || chain[j] == '-') {
			j++
		}
		if j < len(chain) && chain[j] >= '0' && chain[j] <= '9' {
			for j < len(chain) && chain[j] >= '0' && chain[j] <= '9' {
				j++
			}
			i = j
		}
	}
	return i
}

// #endregion lexer

// #region parser

type parser struct {
	toks []token
	pos  int
}

// Parse canonicalizes and parses a chain into its tree form.
// Parsing is purely syntactic; all context resolution happens at
// evaluation time, so a parsed tree is reusable across contexts.
func Parse(chain string) (*ChainNode, error) {
	canon := canonical.CanonicalizeChain(chain)
	if canon == "" {
		return nil, errs.New(errs.CodeParseFailed, "empty chain")
	}
	toks, err := lex(canon)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseChain()
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) atWord(w string) bool {
	t := p.cur()
	return t.kind == tokWord && t.text == w
}

func (p *parser) atSym(s string) bool {
	t := p.cur()
	return t.kind == tokSym && t.text == s
}

func (p *parser) fail(format string, args ...any) error {
	return errs.New(errs.CodeParseFailed, format+" at position %d", append(args, p.cur().pos)...)
}

func (p *parser) parseChain() (*ChainNode, error) {
	if p.atWord("qua") {
		return p.parseQuestionChain()
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	terminated := false
	if p.atWord("nek") {
		p.next()
		terminated = true
	}
	if p.cur().kind != tokEOF {
		return nil, p.fail("unexpected trailing token %q", p.cur().text)
	}
	return &ChainNode{Expr: expr, Terminated: terminated}, nil
}

func (p *parser) parseQuestionChain() (*ChainNode, error) {
	p.next() // qua
	qType := ""
	if p.atWord("soi") || p.atWord("fek") || p.atWord("kru") {
		qType = p.next().text
	}
	body, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.atWord("nek") {
		return nil, p.fail("question chain must end with 'nek'")
	}
	p.next()
	if p.cur().kind != tokEOF {
		return nil, p.fail("unexpected trailing token %q", p.cur().text)
	}
	return &ChainNode{Expr: &QuestionNode{Type: qType, Body: body}, Terminated: true}, nil
}

func (p *parser) parseExpression() (Node, error) {
	left, err := p.parseDisjunction()
	if err != nil {
		return nil, err
	}
	if !p.atWord("khi") {
		return left, nil
	}
	p.next()
	if !p.atWord("sek") {
		return nil, p.fail("'khi' requires a 'sek' scope")
	}
	p.next()
	inner, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.atWord("sek") {
		return nil, p.fail("unterminated 'sek' scope")
	}
	p.next()
	return &GuardNode{Cond: left, Consequence: &SekScopeNode{Inner: inner}}, nil
}

func (p *parser) parseDisjunction() (Node, error) {
	left, err := p.parseConjunction()
	if err != nil {
		return nil, err
	}
	for p.atWord("ur") {
		p.next()
		right, err := p.parseConjunction()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: "ur", Left: left, Right: right}
	}
	return left, nil
}

// parseConjunction folds "unary (op unary | unary)*" left-associatively.
// Juxtaposed operands with no operator between them accumulate into a
// list node.
func (p *parser) parseConjunction() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		if op, ok := p.peekConjunctionOp(); ok {
			save := p.pos
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				p.pos = save
				break
			}
			left = &BinaryNode{Op: op, Left: left, Right: right}
			continue
		}
		save := p.pos
		item, err := p.parseUnary()
		if err != nil {
			p.pos = save
			break
		}
		if jux, ok := left.(*JuxtNode); ok {
			jux.Items = append(jux.Items, item)
		} else {
			left = &JuxtNode{Items: []Node{left, item}}
		}
	}
	return left, nil
}

func (p *parser) peekConjunctionOp() (string, bool) {
	t := p.cur()
	switch t.kind {
	case tokWord:
		if t.text != "ur" && ConjunctionOps[t.text] {
			return t.text, true
		}
	case tokSym:
		if ConjunctionOps[t.text] {
			return t.text, true
		}
	}
	return "", false
}

// parseUnary consumes stacked prefix operators. An operator word with no
// parsable operand after it backtracks to being a plain glyph, which is
// how "vus" alone stays an atom while "vus @pkg" is a delivery check.
func (p *parser) parseUnary() (Node, error) {
	t := p.cur()
	if t.kind == tokWord && UnaryOps[t.text] {
		save := p.pos
		p.next()
		operand, err := p.parseUnary()
		if err == nil {
			return mergeUnary(t.text, operand), nil
		}
		p.pos = save
	}
	return p.parsePrimary()
}

func mergeUnary(op string, operand Node) Node {
	if u, ok := operand.(*UnaryNode); ok {
		u.Ops = append([]string{op}, u.Ops...)
		return u
	}
	raw := ""
	if lit, ok := operand.(*LiteralNode); ok {
		raw = lit.Raw
	}
	return &UnaryNode{Ops: []string{op}, Operand: operand, RawOperand: raw}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.cur()
	if t.kind == tokWord && (t.text == "mek" || t.text == "men") {
		save := p.pos
		p.next()
		target, err := p.parseUnary()
		if err == nil {
			return &ActionNode{Verb: t.text, Target: target}, nil
		}
		p.pos = save
		return nil, err
	}
	if p.atWord("sek") {
		p.next()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if !p.atWord("sek") {
			return nil, p.fail("unterminated 'sek' scope")
		}
		p.next()
		return &SekScopeNode{Inner: inner}, nil
	}
	if p.atSym("(") {
		p.next()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if !p.atSym(")") {
			return nil, p.fail("unbalanced parenthesis")
		}
		p.next()
		return &ParenNode{Inner: inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Node, error) {
	base, err := p.parseAtomBase()
	if err != nil {
		return nil, err
	}
	var parts []string
	tokenText := atomSurface(base)
	for {
		if p.atSym("·") {
			p.next()
			w := p.cur()
			if w.kind != tokWord || glyphKeywords[w.text] {
				return nil, p.fail("fusion marker must be followed by a glyph")
			}
			p.next()
			parts = append(parts, "·"+w.text)
			tokenText += "·" + w.text
			continue
		}
		if p.atWord("tok") || p.atWord("al") {
			w := p.next()
			parts = append(parts, w.text)
			tokenText += w.text
			continue
		}
		break
	}
	intensity := ""
	if p.atSym("°") || p.atSym("\"") || p.atSym("'") {
		intensity = p.next().text
	}
	if len(parts) == 0 && intensity == "" {
		return base, nil
	}
	return &MorphNode{Base: base, Parts: parts, Intensity: intensity, Token: tokenText}, nil
}

func atomSurface(base Node) string {
	switch v := base.(type) {
	case *LiteralNode:
		return v.Raw
	case *BoolNode:
		if v.Val {
			return "true"
		}
		return "false"
	case *UndefinedNode:
		return "undefined"
	case *NumberNode:
		return strconv.FormatFloat(v.Val, 'g', -1, 64)
	case *GlyphNode:
		return v.Name
	case *DemonstrativeNode:
		return v.Op
	default:
		return ""
	}
}

func (p *parser) parseAtomBase() (Node, error) {
	t := p.cur()
	switch t.kind {
	case tokLiteral:
		p.next()
		return &LiteralNode{Key: canonical.LiteralKey(t.text), Raw: t.text}, nil
	case tokNumber:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, errs.New(errs.CodeParseFailed, "bad number %q at position %d", t.text, t.pos)
		}
		return &NumberNode{Val: f}, nil
	case tokWord:
		switch t.text {
		case "true":
			p.next()
			return &BoolNode{Val: true}, nil
		case "false":
			p.next()
			return &BoolNode{Val: false}, nil
		case "undefined":
			p.next()
			return &UndefinedNode{}, nil
		case "dia", "doq":
			p.next()
			return &DemonstrativeNode{Op: t.text}, nil
		}
		if glyphKeywords[t.text] {
			return nil, p.fail("unexpected keyword %q", t.text)
		}
		p.next()
		return &GlyphNode{Name: t.text}, nil
	}
	return nil, p.fail("expected atom, got %q", t.text)
}

// #endregion parser

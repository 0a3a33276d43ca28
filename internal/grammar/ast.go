package grammar

import (
	"fmt"
	"strings"
)

// #region ast-nodes

// Node is a parsed chain fragment. Nodes are immutable after parse so
// cached trees can be shared across evaluations.
type Node interface {
	node()
}

// LiteralNode is a context reference atom, e.g. "@door_open".
type LiteralNode struct {
	Key string // canonical key without the '@' prefix
	Raw string // source token including the '@' prefix
}

// BoolNode is a "true" or "false" atom.
type BoolNode struct {
	Val bool
}

// UndefinedNode is the explicit "undefined" atom.
type UndefinedNode struct{}

// NumberNode is a numeric atom. All numbers parse to float64.
type NumberNode struct {
	Val float64
}

// GlyphNode is a phonetic identifier atom.
type GlyphNode struct {
	Name string
}

// DemonstrativeNode is "dia" (proximal) or "doq" (distal).
type DemonstrativeNode struct {
	Op string
}

// MorphNode wraps an atom that carries fusion/inversion/suffix parts or
// an intensity marker. Token is the reconstructed surface form used for
// morphology validation.
type MorphNode struct {
	Base      Node
	Parts     []string // each part as written: "·x", "·nei", "tok", "al"
	Intensity string   // "°", `"`, "'" or empty
	Token     string
}

// UnaryNode applies stacked prefix operators to an operand, innermost
// first. RawOperand preserves the operand's source text so epistemic and
// delivery operators can recover the literal key.
type UnaryNode struct {
	Ops        []string
	Operand    Node
	RawOperand string
}

// ActionNode is an action event: "mek X" or "men X".
type ActionNode struct {
	Verb   string
	Target Node
}

// ParenNode is a pure grouping, transparent to evaluation.
type ParenNode struct {
	Inner Node
}

// SekScopeNode is "sek X sek", the canonical list constructor.
type SekScopeNode struct {
	Inner Node
}

// BinaryNode is a conjunction- or disjunction-level operator application.
type BinaryNode struct {
	Op    string
	Left  Node
	Right Node
}

// JuxtNode is implicit juxtaposition, evaluated as list construction.
type JuxtNode struct {
	Items []Node
}

// GuardNode is "Cond khi sek Consequence sek". The consequence scope is
// stored unwrapped.
type GuardNode struct {
	Cond        Node
	Consequence Node
}

// QuestionNode is "qua [soi|fek|kru] Body nek".
type QuestionNode struct {
	Type string // "", "soi", "fek", "kru"
	Body Node
}

// ChainNode is the parse root.
type ChainNode struct {
	Expr       Node
	Terminated bool // trailing "nek" present
}

func (*LiteralNode) node()       {}
func (*BoolNode) node()          {}
func (*UndefinedNode) node()     {}
func (*NumberNode) node()        {}
func (*GlyphNode) node()         {}
func (*DemonstrativeNode) node() {}
func (*MorphNode) node()         {}
func (*UnaryNode) node()         {}
func (*ActionNode) node()        {}
func (*ParenNode) node()         {}
func (*SekScopeNode) node()      {}
func (*BinaryNode) node()        {}
func (*JuxtNode) node()          {}
func (*GuardNode) node()         {}
func (*QuestionNode) node()      {}
func (*ChainNode) node()         {}

// #endregion ast-nodes

// #region depth

// Depth returns the height of the tree rooted at n. The runtime rejects
// chains whose depth exceeds its recursion limit before evaluating them.
func Depth(n Node) int {
	switch v := n.(type) {
	case nil:
		return 0
	case *MorphNode:
		return 1 + Depth(v.Base)
	case *UnaryNode:
		return len(v.Ops) + Depth(v.Operand)
	case *ActionNode:
		return 1 + Depth(v.Target)
	case *ParenNode:
		return 1 + Depth(v.Inner)
	case *SekScopeNode:
		return 1 + Depth(v.Inner)
	case *BinaryNode:
		return 1 + max(Depth(v.Left), Depth(v.Right))
	case *JuxtNode:
		deepest := 0
		for _, item := range v.Items {
			if d := Depth(item); d > deepest {
				deepest = d
			}
		}
		return 1 + deepest
	case *GuardNode:
		return 1 + max(Depth(v.Cond), Depth(v.Consequence))
	case *QuestionNode:
		return 1 + Depth(v.Body)
	case *ChainNode:
		return 1 + Depth(v.Expr)
	default:
		return 1
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// #endregion depth

// #region repr

// Repr renders a stable s-expression for a parsed tree. Two chains that
// parse to the same structure produce the same string, so the rendering
// can be hashed to identify the tree independently of surface spacing.
func Repr(n Node) string {
	switch v := n.(type) {
	case nil:
		return "()"
	case *LiteralNode:
		return "(lit @" + v.Key + ")"
	case *BoolNode:
		if v.Val {
			return "(bool true)"
		}
		return "(bool false)"
	case *UndefinedNode:
		return "(undefined)"
	case *NumberNode:
		return fmt.Sprintf("(num %g)", v.Val)
	case *GlyphNode:
		return "(glyph " + v.Name + ")"
	case *DemonstrativeNode:
		return "(deixis " + v.Op + ")"
	case *MorphNode:
		return "(morph " + v.Token + " " + Repr(v.Base) + ")"
	case *UnaryNode:
		return "(unary " + strings.Join(v.Ops, " ") + " " + Repr(v.Operand) + ")"
	case *ActionNode:
		return "(" + v.Verb + " " + Repr(v.Target) + ")"
	case *ParenNode:
		return Repr(v.Inner)
	case *SekScopeNode:
		return "(sek " + Repr(v.Inner) + ")"
	case *BinaryNode:
		return "(" + v.Op + " " + Repr(v.Left) + " " + Repr(v.Right) + ")"
	case *JuxtNode:
		parts := make([]string, len(v.Items))
		for i, item := range v.Items {
			parts[i] = Repr(item)
		}
		return "(juxt " + strings.Join(parts, " ") + ")"
	case *GuardNode:
		return "(khi " + Repr(v.Cond) + " " + Repr(v.Consequence) + ")"
	case *QuestionNode:
		qt := v.Type
		if qt == "" {
			qt = "plain"
		}
		return "(qua " + qt + " " + Repr(v.Body) + ")"
	case *ChainNode:
		term := "open"
		if v.Terminated {
			term = "nek"
		}
		return "(chain " + term + " " + Repr(v.Expr) + ")"
	default:
		return "(unknown)"
	}
}

// #endregion repr

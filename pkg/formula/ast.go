package formula

// Node is a node of a parsed formula.
type Node interface {
	Position() int
}

type Literal struct {
	Value interface{}
	Pos   int
}

// Identifier references a context value. Path holds the dot separated segments.
type Identifier struct {
	Name string
	Path []string
	Pos  int
}

type BinaryOp struct {
	Op    string
	Left  Node
	Right Node
	Pos   int
}

type UnaryOp struct {
	Op      string
	Operand Node
	Pos     int
}

type FunctionCall struct {
	Name string
	Args []Node
	Pos  int
}

type Conditional struct {
	Cond Node
	Then Node
	Else Node
	Pos  int
}

type ArrayLiteral struct {
	Elements []Node
	Pos      int
}

// ObjectLiteral keeps keys in source order so evaluation is deterministic.
type ObjectLiteral struct {
	Keys   []string
	Values []Node
	Pos    int
}

func (n *Literal) Position() int       { return n.Pos }
func (n *Identifier) Position() int    { return n.Pos }
func (n *BinaryOp) Position() int      { return n.Pos }
func (n *UnaryOp) Position() int       { return n.Pos }
func (n *FunctionCall) Position() int  { return n.Pos }
func (n *Conditional) Position() int   { return n.Pos }
func (n *ArrayLiteral) Position() int  { return n.Pos }
func (n *ObjectLiteral) Position() int { return n.Pos }

// Walk visits n and its children depth first. Returning false from fn stops descent below that node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch t := n.(type) {
	case *BinaryOp:
		Walk(t.Left, fn)
		Walk(t.Right, fn)
	case *UnaryOp:
		Walk(t.Operand, fn)
	case *FunctionCall:
		for _, a := range t.Args {
			Walk(a, fn)
		}
	case *Conditional:
		Walk(t.Cond, fn)
		Walk(t.Then, fn)
		Walk(t.Else, fn)
	case *ArrayLiteral:
		for _, e := range t.Elements {
			Walk(e, fn)
		}
	case *ObjectLiteral:
		for _, v := range t.Values {
			Walk(v, fn)
		}
	}
}

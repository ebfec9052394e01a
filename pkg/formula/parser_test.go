package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Precedence(t *testing.T) {
	node, err := Parse("1 + 2 * 3")
	require.NoError(t, err)

	add, ok := node.(*BinaryOp)
	require.True(t, ok)
	assert.Equal(t, "+", add.Op)
	assert.Equal(t, &Literal{Value: 1.0, Pos: 0}, add.Left)

	mul, ok := add.Right.(*BinaryOp)
	require.True(t, ok)
	assert.Equal(t, "*", mul.Op)
}

func TestParse_LeftAssociative(t *testing.T) {
	node, err := Parse("10 - 4 - 3")
	require.NoError(t, err)

	outer := node.(*BinaryOp)
	inner, ok := outer.Left.(*BinaryOp)
	require.True(t, ok)
	assert.Equal(t, "-", inner.Op)
	assert.Equal(t, 3.0, outer.Right.(*Literal).Value)
}

func TestParse_Nodes(t *testing.T) {
	tests := []struct {
		name   string
		source string
		check  func(t *testing.T, n Node)
	}{
		{
			name:   "dotted identifier",
			source: "lead.address.city",
			check: func(t *testing.T, n Node) {
				id := n.(*Identifier)
				assert.Equal(t, []string{"lead", "address", "city"}, id.Path)
			},
		},
		{
			name:   "function call",
			source: `concat("a", lead.name, 3)`,
			check: func(t *testing.T, n Node) {
				call := n.(*FunctionCall)
				assert.Equal(t, "concat", call.Name)
				assert.Len(t, call.Args, 3)
			},
		},
		{
			name:   "empty call",
			source: "now()",
			check: func(t *testing.T, n Node) {
				assert.Empty(t, n.(*FunctionCall).Args)
			},
		},
		{
			name:   "conditional",
			source: "score > 50 ? 'hot' : 'cold'",
			check: func(t *testing.T, n Node) {
				c := n.(*Conditional)
				assert.Equal(t, "hot", c.Then.(*Literal).Value)
				assert.Equal(t, "cold", c.Else.(*Literal).Value)
			},
		},
		{
			name:   "unary",
			source: "!-x",
			check: func(t *testing.T, n Node) {
				u := n.(*UnaryOp)
				assert.Equal(t, "!", u.Op)
				assert.Equal(t, "-", u.Operand.(*UnaryOp).Op)
			},
		},
		{
			name:   "keywords",
			source: "[true, false, null]",
			check: func(t *testing.T, n Node) {
				arr := n.(*ArrayLiteral)
				require.Len(t, arr.Elements, 3)
				assert.Equal(t, true, arr.Elements[0].(*Literal).Value)
				assert.Equal(t, false, arr.Elements[1].(*Literal).Value)
				assert.Nil(t, arr.Elements[2].(*Literal).Value)
			},
		},
		{
			name:   "object literal",
			source: `{name: payload.lead.name, "full name": 1}`,
			check: func(t *testing.T, n Node) {
				obj := n.(*ObjectLiteral)
				assert.Equal(t, []string{"name", "full name"}, obj.Keys)
			},
		},
		{
			name:   "string escapes",
			source: `"say \"hi\"\n"`,
			check: func(t *testing.T, n Node) {
				assert.Equal(t, "say \"hi\"\n", n.(*Literal).Value)
			},
		},
		{
			name:   "numbers",
			source: "1.5e2",
			check: func(t *testing.T, n Node) {
				assert.Equal(t, 150.0, n.(*Literal).Value)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.source)
			require.NoError(t, err)
			tt.check(t, n)
		})
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		message string
	}{
		{"empty", "   ", "formula is empty"},
		{"unterminated string", `concat("abc`, "unterminated string literal"},
		{"missing paren", "upper(name", "missing ')'"},
		{"extra paren", "(1 + 2))", "unexpected ')'"},
		{"dangling operator", "1 +", "unexpected end of formula"},
		{"unknown char", "1 # 2", "unexpected character"},
		{"bad escape", `"\q"`, "invalid escape"},
		{"trailing dot", "lead.", "expected field name"},
		{"missing colon", "a ? b", "expected ':'"},
		{"dotted function", "lead.upper(x)", "not a valid function name"},
		{"duplicate key", "{a: 1, a: 2}", "duplicate object key"},
		{"adjacent values", "1 2", "unexpected token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.source)
			require.Error(t, err)
			var syntaxErr *SyntaxError
			require.ErrorAs(t, err, &syntaxErr)
			assert.Contains(t, syntaxErr.Message, tt.message)
		})
	}
}

func TestParse_DepthLimit(t *testing.T) {
	source := ""
	for i := 0; i < 300; i++ {
		source += "("
	}
	source += "1"
	for i := 0; i < 300; i++ {
		source += ")"
	}
	_, err := Parse(source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested too deeply")
}

func TestParse_Deterministic(t *testing.T) {
	sources := []string{
		`concat("Hello ", lead.firstName)`,
		"a && b || !c",
		"round(lead.score * 1.1, 2) >= 10 ? upper(lead.tier) : lower(lead.tier)",
		`{id: payload.id, tags: [1, "two", null]}`,
	}
	for _, s := range sources {
		first, err := Parse(s)
		require.NoError(t, err)
		second, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, first, second, s)
	}
}

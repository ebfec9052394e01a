package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Evaluator walks a parsed formula against a data context. It holds no per-call state and is safe for concurrent use.
type Evaluator struct {
	now func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock replaces the time source used by now().
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		e.now = now
	}
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEvaluator = NewEvaluator()

// Evaluate runs node against context with the default evaluator.
func Evaluate(node Node, context map[string]interface{}) (interface{}, error) {
	return defaultEvaluator.Evaluate(node, context)
}

// Evaluate runs node against context. Neither the node nor the context is modified.
func (e *Evaluator) Evaluate(node Node, context map[string]interface{}) (interface{}, error) {
	if node == nil {
		return nil, &EvaluationError{Message: "nothing to evaluate"}
	}
	env := &callEnv{now: e.now}
	return e.eval(node, context, env)
}

func (e *Evaluator) eval(node Node, ctx map[string]interface{}, env *callEnv) (interface{}, error) {
	switch n := node.(type) {
	case *Literal:
		return n.Value, nil

	case *Identifier:
		return resolve(ctx, n.Path), nil

	case *UnaryOp:
		v, err := e.eval(n.Operand, ctx, env)
		if err != nil {
			return nil, err
		}
		return unary(n.Op, v)

	case *BinaryOp:
		return e.binary(n, ctx, env)

	case *Conditional:
		cond, err := e.eval(n.Cond, ctx, env)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return e.eval(n.Then, ctx, env)
		}
		return e.eval(n.Else, ctx, env)

	case *FunctionCall:
		fn, ok := builtins[n.Name]
		if !ok {
			return nil, &UnknownFunctionError{Name: n.Name, Pos: n.Pos}
		}
		if err := fn.spec.CheckArity(len(n.Args)); err != nil {
			return nil, err
		}
		if fn.lazy != nil {
			return fn.lazy(func(arg Node) (interface{}, error) {
				return e.eval(arg, ctx, env)
			}, n.Args)
		}
		args := make([]interface{}, len(n.Args))
		for i, a := range n.Args {
			v, err := e.eval(a, ctx, env)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		result := fn.eager(env, args)
		if f, ok := result.(float64); ok {
			return checkFinite(f)
		}
		return result, nil

	case *ArrayLiteral:
		out := make([]interface{}, len(n.Elements))
		for i, el := range n.Elements {
			v, err := e.eval(el, ctx, env)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *ObjectLiteral:
		out := make(map[string]interface{}, len(n.Keys))
		for i, k := range n.Keys {
			v, err := e.eval(n.Values[i], ctx, env)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, &EvaluationError{Message: fmt.Sprintf("unsupported node %T", node)}
}

// resolve walks a dotted path. A leading "lead" segment refers to the context itself
// unless the context has its own "lead" key.
func resolve(ctx map[string]interface{}, path []string) interface{} {
	if len(path) > 0 && path[0] == "lead" {
		if _, ok := ctx["lead"]; !ok {
			path = path[1:]
			if len(path) == 0 {
				return ctx
			}
		}
	}

	var cur interface{} = ctx
	for _, seg := range path {
		switch t := cur.(type) {
		case map[string]interface{}:
			v, ok := t[seg]
			if !ok {
				return nil
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil
			}
			cur = t[idx]
		default:
			return nil
		}
	}
	return normalize(cur)
}

func unary(op string, v interface{}) (interface{}, error) {
	switch op {
	case "!":
		return !Truthy(v), nil
	case "-":
		if v == nil {
			return nil, nil
		}
		n, ok := ToNumber(v)
		if !ok {
			return nil, &TypeError{Operator: "unary -", Operand: v}
		}
		return -n, nil
	}
	return nil, &EvaluationError{Message: "unknown unary operator " + op}
}

func (e *Evaluator) binary(n *BinaryOp, ctx map[string]interface{}, env *callEnv) (interface{}, error) {
	left, err := e.eval(n.Left, ctx, env)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "&&":
		if !Truthy(left) {
			return false, nil
		}
		right, err := e.eval(n.Right, ctx, env)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	case "||":
		if Truthy(left) {
			return true, nil
		}
		right, err := e.eval(n.Right, ctx, env)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	right, err := e.eval(n.Right, ctx, env)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "==":
		return Equal(left, right), nil
	case "!=":
		return !Equal(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(n.Op, left, right)
	case "+":
		return add(left, right)
	case "-", "*", "/":
		return arithmetic(n.Op, left, right)
	}
	return nil, &EvaluationError{Message: "unknown operator " + n.Op}
}

func add(left, right interface{}) (interface{}, error) {
	left, right = normalize(left), normalize(right)
	if left == nil || right == nil {
		return nil, nil
	}
	ls, lIsStr := left.(string)
	rs, rIsStr := right.(string)
	if lIsStr && rIsStr {
		return ls + rs, nil
	}
	ln, lok := ToNumber(left)
	rn, rok := ToNumber(right)
	if lok && rok {
		return checkFinite(ln + rn)
	}
	if lIsStr || rIsStr {
		if isScalar(left) && isScalar(right) {
			return ToText(left) + ToText(right), nil
		}
	}
	if !lok {
		return nil, &TypeError{Operator: "+", Operand: left}
	}
	return nil, &TypeError{Operator: "+", Operand: right}
}

func arithmetic(op string, left, right interface{}) (interface{}, error) {
	if left == nil || right == nil {
		return nil, nil
	}
	ln, ok := ToNumber(left)
	if !ok {
		return nil, &TypeError{Operator: op, Operand: left}
	}
	rn, ok := ToNumber(right)
	if !ok {
		return nil, &TypeError{Operator: op, Operand: right}
	}
	switch op {
	case "-":
		return checkFinite(ln - rn)
	case "*":
		return checkFinite(ln * rn)
	default:
		if rn == 0 {
			return nil, &EvaluationError{Message: "division by zero"}
		}
		return checkFinite(ln / rn)
	}
}

func checkFinite(f float64) (interface{}, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, &EvaluationError{Message: "numeric result out of range"}
	}
	return f, nil
}

func compare(op string, left, right interface{}) (interface{}, error) {
	left, right = normalize(left), normalize(right)
	if left == nil || right == nil {
		return false, nil
	}

	var cmp int
	_, lTime := left.(time.Time)
	_, rTime := right.(time.Time)
	ls, lIsStr := left.(string)
	rs, rIsStr := right.(string)

	switch {
	case lTime || rTime:
		lt, ok := ToTime(left)
		if !ok {
			return nil, &TypeError{Operator: op, Operand: left}
		}
		rt, ok := ToTime(right)
		if !ok {
			return nil, &TypeError{Operator: op, Operand: right}
		}
		cmp = lt.Compare(rt)
	default:
		ln, lok := ToNumber(left)
		rn, rok := ToNumber(right)
		switch {
		case lok && rok:
			switch {
			case ln < rn:
				cmp = -1
			case ln > rn:
				cmp = 1
			}
		case lIsStr && rIsStr:
			cmp = strings.Compare(ls, rs)
		case !lok:
			return nil, &TypeError{Operator: op, Operand: left}
		default:
			return nil, &TypeError{Operator: op, Operand: right}
		}
	}

	switch op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case string, float64, bool, time.Time:
		return true
	}
	return false
}

package formula

import (
	"fmt"
	"regexp"
	"strings"
)

// TransformParam is the only identifier a transform script may reference.
const TransformParam = "payload"

var (
	arrowPrefix  = regexp.MustCompile(`^\(?\s*([A-Za-z_][A-Za-z0-9_]*)\s*\)?\s*=>`)
	returnPrefix = regexp.MustCompile(`^return\b`)
)

// Transform is a compiled payload transform: one expression over the single argument payload.
type Transform struct {
	node      Node
	evaluator *Evaluator
}

// CompileTransform accepts "expr", "return expr;" or "payload => expr".
func CompileTransform(script string) (*Transform, error) {
	body := strings.TrimSpace(script)
	if m := arrowPrefix.FindStringSubmatch(body); m != nil {
		if m[1] != TransformParam {
			return nil, &SyntaxError{Message: fmt.Sprintf("transform parameter must be named %q", TransformParam), Pos: 0}
		}
		body = strings.TrimSpace(body[len(m[0]):])
	}
	body = strings.TrimSpace(returnPrefix.ReplaceAllString(body, ""))
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))

	node, err := Compile(body)
	if err != nil {
		return nil, err
	}

	var bad *Identifier
	Walk(node, func(n Node) bool {
		if id, ok := n.(*Identifier); ok && bad == nil && id.Path[0] != TransformParam {
			bad = id
		}
		return bad == nil
	})
	if bad != nil {
		return nil, &SyntaxError{Message: fmt.Sprintf("unknown identifier %q, transforms can only read %s", bad.Name, TransformParam), Pos: bad.Pos}
	}

	return &Transform{node: node, evaluator: defaultEvaluator}, nil
}

// ValidateTransform reports whether script compiles as a transform.
func ValidateTransform(script string) ValidationResult {
	if _, err := CompileTransform(script); err != nil {
		return ValidationResult{Valid: false, Error: err.Error()}
	}
	return ValidationResult{Valid: true}
}

// Apply evaluates the transform against payload.
func (t *Transform) Apply(payload interface{}) (interface{}, error) {
	return t.evaluator.Evaluate(t.node, map[string]interface{}{TransformParam: payload})
}

package formula

// ValidationResult is the outcome of a static check.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Validate parses source and checks every function call against the catalogue.
// Identifiers are not checked because the data context differs per lead.
func Validate(source string) ValidationResult {
	if _, err := Compile(source); err != nil {
		return ValidationResult{Valid: false, Error: err.Error()}
	}
	return ValidationResult{Valid: true}
}

// Compile parses source and runs the static checks, returning the tree ready for evaluation.
func Compile(source string) (Node, error) {
	node, err := Parse(source)
	if err != nil {
		return nil, err
	}
	if err := CheckFunctions(node); err != nil {
		return nil, err
	}
	return node, nil
}

// CheckFunctions reports the first call to an unknown function or with a wrong argument count.
func CheckFunctions(node Node) error {
	var firstErr error
	Walk(node, func(n Node) bool {
		if firstErr != nil {
			return false
		}
		call, ok := n.(*FunctionCall)
		if !ok {
			return true
		}
		fn, ok := builtins[call.Name]
		if !ok {
			firstErr = &UnknownFunctionError{Name: call.Name, Pos: call.Pos}
			return false
		}
		if err := fn.spec.CheckArity(len(call.Args)); err != nil {
			firstErr = err
			return false
		}
		return true
	})
	return firstErr
}

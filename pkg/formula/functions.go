package formula

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Variadic marks a function without an upper bound on its argument count.
const Variadic = -1

// FunctionSpec describes a catalogue entry.
type FunctionSpec struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	MinArgs     int    `json:"min_args"`
	MaxArgs     int    `json:"max_args"`
	Signature   string `json:"signature"`
	Description string `json:"description"`
}

// expected renders the accepted argument count for error messages.
func (s FunctionSpec) expected() string {
	switch {
	case s.MaxArgs == Variadic:
		return "at least " + itoa(s.MinArgs)
	case s.MinArgs == s.MaxArgs:
		return itoa(s.MinArgs)
	default:
		return itoa(s.MinArgs) + " to " + itoa(s.MaxArgs)
	}
}

// CheckArity returns an ArgumentError when n arguments do not fit the signature.
func (s FunctionSpec) CheckArity(n int) error {
	if n < s.MinArgs || (s.MaxArgs != Variadic && n > s.MaxArgs) {
		return &ArgumentError{Function: s.Name, Expected: s.expected(), Actual: n}
	}
	return nil
}

type callEnv struct {
	now func() time.Time
}

type builtin struct {
	spec FunctionSpec
	// eager receives already evaluated arguments
	eager func(env *callEnv, args []interface{}) interface{}
	// lazy decides itself which arguments to evaluate
	lazy func(eval func(Node) (interface{}, error), args []Node) (interface{}, error)
}

var builtins map[string]*builtin

func register(b *builtin) {
	builtins[b.spec.Name] = b
}

func init() {
	builtins = make(map[string]*builtin)

	// string
	register(&builtin{
		spec:  FunctionSpec{Name: "concat", Category: "string", MinArgs: 1, MaxArgs: Variadic, Signature: "concat(value, ...)", Description: "Joins values as text"},
		eager: fnConcat,
	})
	register(&builtin{
		spec: FunctionSpec{Name: "upper", Category: "string", MinArgs: 1, MaxArgs: 1, Signature: "upper(text)", Description: "Uppercases text"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			return strings.ToUpper(ToText(args[0]))
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "lower", Category: "string", MinArgs: 1, MaxArgs: 1, Signature: "lower(text)", Description: "Lowercases text"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			return strings.ToLower(ToText(args[0]))
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "trim", Category: "string", MinArgs: 1, MaxArgs: 1, Signature: "trim(text)", Description: "Removes surrounding whitespace"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			return strings.TrimSpace(ToText(args[0]))
		},
	})
	register(&builtin{
		spec:  FunctionSpec{Name: "substring", Category: "string", MinArgs: 2, MaxArgs: 3, Signature: "substring(text, start, [end])", Description: "Characters from start up to end, clamped to the text"},
		eager: fnSubstring,
	})
	register(&builtin{
		spec:  FunctionSpec{Name: "length", Category: "string", MinArgs: 1, MaxArgs: 1, Signature: "length(value)", Description: "Number of characters, or items of a list"},
		eager: fnLength,
	})
	register(&builtin{
		spec:  FunctionSpec{Name: "contains", Category: "string", MinArgs: 2, MaxArgs: 2, Signature: "contains(text_or_list, search)", Description: "Whether the text contains search, or the list contains the value"},
		eager: fnContains,
	})

	// numeric
	register(&builtin{
		spec:  FunctionSpec{Name: "round", Category: "numeric", MinArgs: 1, MaxArgs: 2, Signature: "round(number, [digits])", Description: "Rounds half away from zero"},
		eager: fnRound,
	})
	register(&builtin{
		spec: FunctionSpec{Name: "abs", Category: "numeric", MinArgs: 1, MaxArgs: 1, Signature: "abs(number)", Description: "Absolute value"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			n, ok := ToNumber(args[0])
			if !ok {
				return nil
			}
			return math.Abs(n)
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "min", Category: "numeric", MinArgs: 1, MaxArgs: Variadic, Signature: "min(number, ...)", Description: "Smallest numeric argument"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			return extreme(args, func(a, b float64) bool { return a < b })
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "max", Category: "numeric", MinArgs: 1, MaxArgs: Variadic, Signature: "max(number, ...)", Description: "Largest numeric argument"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			return extreme(args, func(a, b float64) bool { return a > b })
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "sum", Category: "numeric", MinArgs: 1, MaxArgs: Variadic, Signature: "sum(number, ...)", Description: "Total of numeric arguments, lists included"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			total := 0.0
			for _, v := range flatten(args) {
				if n, ok := ToNumber(v); ok {
					total += n
				}
			}
			return total
		},
	})

	// logical
	register(&builtin{
		spec: FunctionSpec{Name: "and", Category: "logical", MinArgs: 1, MaxArgs: Variadic, Signature: "and(condition, ...)", Description: "True when every condition is true"},
		lazy: func(eval func(Node) (interface{}, error), args []Node) (interface{}, error) {
			for _, a := range args {
				v, err := eval(a)
				if err != nil {
					return nil, err
				}
				if !Truthy(v) {
					return false, nil
				}
			}
			return true, nil
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "or", Category: "logical", MinArgs: 1, MaxArgs: Variadic, Signature: "or(condition, ...)", Description: "True when any condition is true"},
		lazy: func(eval func(Node) (interface{}, error), args []Node) (interface{}, error) {
			for _, a := range args {
				v, err := eval(a)
				if err != nil {
					return nil, err
				}
				if Truthy(v) {
					return true, nil
				}
			}
			return false, nil
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "not", Category: "logical", MinArgs: 1, MaxArgs: 1, Signature: "not(condition)", Description: "Negates a condition"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			return !Truthy(args[0])
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "if", Category: "logical", MinArgs: 2, MaxArgs: 3, Signature: "if(condition, then, [else])", Description: "Chooses a value; only the chosen branch is evaluated"},
		lazy: func(eval func(Node) (interface{}, error), args []Node) (interface{}, error) {
			cond, err := eval(args[0])
			if err != nil {
				return nil, err
			}
			if Truthy(cond) {
				return eval(args[1])
			}
			if len(args) == 3 {
				return eval(args[2])
			}
			return nil, nil
		},
	})

	// date
	register(&builtin{
		spec: FunctionSpec{Name: "now", Category: "date", MinArgs: 0, MaxArgs: 0, Signature: "now()", Description: "Current time in UTC"},
		eager: func(env *callEnv, _ []interface{}) interface{} {
			return env.now().UTC()
		},
	})
	register(&builtin{
		spec:  FunctionSpec{Name: "daysBetween", Category: "date", MinArgs: 2, MaxArgs: 2, Signature: "daysBetween(from, to)", Description: "Whole days from the first date to the second"},
		eager: fnDaysBetween,
	})
	register(&builtin{
		spec:  FunctionSpec{Name: "formatDate", Category: "date", MinArgs: 1, MaxArgs: 2, Signature: "formatDate(date, [format])", Description: "Formats a date with YYYY MM DD HH mm ss tokens"},
		eager: fnFormatDate,
	})

	// helpers
	register(&builtin{
		spec: FunctionSpec{Name: "coalesce", Category: "logical", MinArgs: 1, MaxArgs: Variadic, Signature: "coalesce(value, ...)", Description: "First value that is not empty"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			for _, a := range args {
				if !isEmpty(a) {
					return normalize(a)
				}
			}
			return nil
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "isEmpty", Category: "logical", MinArgs: 1, MaxArgs: 1, Signature: "isEmpty(value)", Description: "True for null, empty text and empty lists"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			return isEmpty(args[0])
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "toNumber", Category: "numeric", MinArgs: 1, MaxArgs: 1, Signature: "toNumber(value)", Description: "Converts to a number, null when not numeric"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			if n, ok := ToNumber(args[0]); ok {
				return n
			}
			return nil
		},
	})
	register(&builtin{
		spec: FunctionSpec{Name: "toText", Category: "string", MinArgs: 1, MaxArgs: 1, Signature: "toText(value)", Description: "Converts to text"},
		eager: func(_ *callEnv, args []interface{}) interface{} {
			return ToText(args[0])
		},
	})
}

// Functions lists the catalogue sorted by category then name.
func Functions() []FunctionSpec {
	specs := make([]FunctionSpec, 0, len(builtins))
	for _, b := range builtins {
		specs = append(specs, b.spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		if specs[i].Category != specs[j].Category {
			return specs[i].Category < specs[j].Category
		}
		return specs[i].Name < specs[j].Name
	})
	return specs
}

// LookupFunction returns the catalogue entry for name.
func LookupFunction(name string) (FunctionSpec, bool) {
	b, ok := builtins[name]
	if !ok {
		return FunctionSpec{}, false
	}
	return b.spec, true
}

func fnConcat(_ *callEnv, args []interface{}) interface{} {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(ToText(a))
	}
	return sb.String()
}

func fnSubstring(_ *callEnv, args []interface{}) interface{} {
	runes := []rune(ToText(args[0]))
	start, ok := ToNumber(args[1])
	if !ok {
		return ""
	}
	end := float64(len(runes))
	if len(args) == 3 && args[2] != nil {
		if end, ok = ToNumber(args[2]); !ok {
			return ""
		}
	}
	s, e := clampIndex(start, len(runes)), clampIndex(end, len(runes))
	if s > e {
		s, e = e, s
	}
	return string(runes[s:e])
}

func clampIndex(f float64, n int) int {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > float64(n) {
		return n
	}
	return int(f)
}

func fnLength(_ *callEnv, args []interface{}) interface{} {
	switch t := normalize(args[0]).(type) {
	case nil:
		return 0.0
	case string:
		return float64(utf8.RuneCountInString(t))
	case []interface{}:
		return float64(len(t))
	case map[string]interface{}:
		return float64(len(t))
	default:
		return float64(utf8.RuneCountInString(ToText(t)))
	}
}

func fnContains(_ *callEnv, args []interface{}) interface{} {
	switch t := normalize(args[0]).(type) {
	case nil:
		return false
	case []interface{}:
		for _, item := range t {
			if Equal(item, args[1]) {
				return true
			}
		}
		return false
	default:
		if args[1] == nil {
			return false
		}
		return strings.Contains(ToText(t), ToText(args[1]))
	}
}

func fnRound(_ *callEnv, args []interface{}) interface{} {
	n, ok := ToNumber(args[0])
	if !ok {
		return nil
	}
	digits := 0.0
	if len(args) == 2 {
		if d, ok := ToNumber(args[1]); ok {
			digits = math.Max(0, math.Min(10, math.Trunc(d)))
		}
	}
	scale := math.Pow(10, digits)
	return math.Round(n*scale) / scale
}

func extreme(args []interface{}, better func(a, b float64) bool) interface{} {
	var best *float64
	for _, v := range flatten(args) {
		n, ok := ToNumber(v)
		if !ok {
			continue
		}
		if best == nil || better(n, *best) {
			n := n
			best = &n
		}
	}
	if best == nil {
		return nil
	}
	return *best
}

func flatten(args []interface{}) []interface{} {
	out := make([]interface{}, 0, len(args))
	for _, a := range args {
		if list, ok := a.([]interface{}); ok {
			out = append(out, flatten(list)...)
			continue
		}
		out = append(out, a)
	}
	return out
}

func fnDaysBetween(_ *callEnv, args []interface{}) interface{} {
	from, ok := ToTime(args[0])
	if !ok {
		return nil
	}
	to, ok := ToTime(args[1])
	if !ok {
		return nil
	}
	return math.Trunc(to.Sub(from).Hours() / 24)
}

// dateTokens are matched longest first at each position; every other rune is copied through.
var dateTokens = []struct {
	token  string
	render func(t time.Time) string
}{
	{"YYYY", func(t time.Time) string { return fmt.Sprintf("%04d", t.Year()) }},
	{"MM", func(t time.Time) string { return fmt.Sprintf("%02d", int(t.Month())) }},
	{"DD", func(t time.Time) string { return fmt.Sprintf("%02d", t.Day()) }},
	{"HH", func(t time.Time) string { return fmt.Sprintf("%02d", t.Hour()) }},
	{"mm", func(t time.Time) string { return fmt.Sprintf("%02d", t.Minute()) }},
	{"ss", func(t time.Time) string { return fmt.Sprintf("%02d", t.Second()) }},
}

func formatDate(t time.Time, format string) string {
	var b strings.Builder
	for i := 0; i < len(format); {
		matched := false
		for _, tok := range dateTokens {
			if strings.HasPrefix(format[i:], tok.token) {
				b.WriteString(tok.render(t))
				i += len(tok.token)
				matched = true
				break
			}
		}
		if !matched {
			r, size := utf8.DecodeRuneInString(format[i:])
			b.WriteRune(r)
			i += size
		}
	}
	return b.String()
}

func fnFormatDate(_ *callEnv, args []interface{}) interface{} {
	t, ok := ToTime(args[0])
	if !ok {
		return nil
	}
	format := "YYYY-MM-DD"
	if len(args) == 2 && args[1] != nil {
		format = ToText(args[1])
	}
	return formatDate(t.UTC(), format)
}

func isEmpty(v interface{}) bool {
	switch t := normalize(v).(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func itoa(n int) string {
	return formatNumber(float64(n))
}

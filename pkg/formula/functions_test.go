package formula

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctions_Results(t *testing.T) {
	ctx := map[string]interface{}{
		"name":      "  Ana Lima  ",
		"email":     "ana@example.com",
		"amounts":   []interface{}{10.0, "5", "n/a", 2.5},
		"signup":    "2024-01-15T08:30:00Z",
		"closed":    "2024-02-14",
		"empty":     "",
		"stageList": []interface{}{"new", "won"},
	}

	tests := []struct {
		source   string
		expected interface{}
	}{
		{`concat("a", 1, true, null)`, "a1true"},
		{"upper(trim(name))", "ANA LIMA"},
		{"lower('ABC')", "abc"},
		{"trim(null)", ""},
		{"substring('hello', 1, 3)", "el"},
		{"substring('hello', 3)", "lo"},
		{"substring('hello', 4, 1)", "ell"},
		{"substring('hello', -5, 99)", "hello"},
		{"substring('hello', 'x')", ""},
		{"substring('héllo', 1, 2)", "é"},
		{"length('héllo')", 5.0},
		{"length(null)", 0.0},
		{"length(stageList)", 2.0},
		{"contains(email, '@example.com')", true},
		{"contains(stageList, 'won')", true},
		{"contains(stageList, 'lost')", false},
		{"contains(null, 'a')", false},
		{"round(2.346, 2)", 2.35},
		{"round(2.5)", 3.0},
		{"round('abc')", nil},
		{"abs(-3)", 3.0},
		{"abs('x')", nil},
		{"min(3, 1, 2)", 1.0},
		{"max(amounts)", 10.0},
		{"min('x')", nil},
		{"sum(amounts)", 17.5},
		{"sum(1, [2, [3]])", 6.0},
		{"and(true, 1, 'x')", true},
		{"and(true, 0)", false},
		{"or(false, null, 'x')", true},
		{"not(empty)", true},
		{"if(length(email) > 3, 'ok')", "ok"},
		{"if(false, 'ok')", nil},
		{"daysBetween(signup, closed)", 29.0},
		{"daysBetween(closed, signup)", -29.0},
		{"daysBetween('nope', closed)", nil},
		{"formatDate(signup)", "2024-01-15"},
		{"formatDate(signup, 'DD/MM/YYYY HH:mm')", "15/01/2024 08:30"},
		{"formatDate('garbage')", nil},
		{"formatDate('2024-03-05', 'Q1 YYYY')", "Q1 2024"},
		{"formatDate('2024-03-05', 'DD Jan')", "05 Jan"},
		{"formatDate('2024-03-05', 'YYYY, day 2')", "2024, day 2"},
		{"formatDate('2024-03-05', 'Monday MM')", "Monday 03"},
		{"coalesce(empty, missing, 'fallback')", "fallback"},
		{"isEmpty(empty)", true},
		{"isEmpty(stageList)", false},
		{"toNumber(' 12.5 ')", 12.5},
		{"toNumber('abc')", nil},
		{"toText(3)", "3"},
		{"toText(2.5)", "2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got, err := eval(t, tt.source, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFunctions_Now(t *testing.T) {
	got, err := eval(t, "now()", nil)
	require.NoError(t, err)
	ts, ok := got.(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)
}

func TestFunctions_Arity(t *testing.T) {
	tests := []struct {
		source   string
		expected string
		actual   int
	}{
		{"concat()", "at least 1", 0},
		{"substring('a')", "2 to 3", 1},
		{"now(1)", "0", 1},
		{"if(true)", "2 to 3", 1},
		{"daysBetween(1, 2, 3)", "2", 3},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			_, err := eval(t, tt.source, nil)
			var argErr *ArgumentError
			require.ErrorAs(t, err, &argErr)
			assert.Equal(t, tt.expected, argErr.Expected)
			assert.Equal(t, tt.actual, argErr.Actual)
		})
	}
}

func TestFunctions_Catalogue(t *testing.T) {
	specs := Functions()
	names := make(map[string]bool)
	for _, s := range specs {
		names[s.Name] = true
	}
	for _, required := range []string{
		"concat", "upper", "lower", "trim", "substring", "length", "contains",
		"round", "abs", "min", "max", "sum",
		"and", "or", "not", "if",
		"now", "daysBetween", "formatDate",
	} {
		assert.True(t, names[required], required)
	}

	for i := 1; i < len(specs); i++ {
		prev, cur := specs[i-1], specs[i]
		assert.True(t, prev.Category < cur.Category || (prev.Category == cur.Category && prev.Name < cur.Name))
	}

	spec, ok := LookupFunction("round")
	require.True(t, ok)
	assert.Equal(t, 2, spec.MaxArgs)

	_, ok = LookupFunction("eval")
	assert.False(t, ok)
}

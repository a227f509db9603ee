package diagnostic

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {{name}} markers inside commands, URLs, and
// request bodies.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// MissingParamError reports a placeholder with no bound value. Binding is
// all-or-nothing: a step never executes with a partially substituted command.
type MissingParamError struct {
	Name string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("no value bound for parameter %q", e.Name)
}

// bindSQL replaces each placeholder with a positional marker and returns the
// values in order, so the statement reaches the store fully parameterized.
func bindSQL(command string, params map[string]string) (string, []any, error) {
	var args []any
	var missing *MissingParamError

	bound := placeholderPattern.ReplaceAllStringFunc(command, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		val, ok := params[name]
		if !ok {
			if missing == nil {
				missing = &MissingParamError{Name: name}
			}
			return m
		}
		args = append(args, val)
		return "?"
	})
	if missing != nil {
		return "", nil, missing
	}
	return bound, args, nil
}

// bindText substitutes placeholders in URLs and request bodies.
func bindText(text string, params map[string]string) (string, error) {
	var missing *MissingParamError

	bound := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		val, ok := params[name]
		if !ok {
			if missing == nil {
				missing = &MissingParamError{Name: name}
			}
			return m
		}
		return val
	})
	if missing != nil {
		return "", missing
	}
	return bound, nil
}

// promoteRow copies the first result row's scalar columns into the parameter
// set, without overwriting values the caller already bound. This is how a
// looked-up correlation id becomes available to later steps.
func promoteRow(params map[string]string, row map[string]any) {
	for col, val := range row {
		if val == nil {
			continue
		}
		if _, exists := params[col]; exists {
			continue
		}
		switch v := val.(type) {
		case string:
			params[col] = v
		case []byte:
			params[col] = string(v)
		case int64, float64, bool:
			params[col] = fmt.Sprint(v)
		}
	}
}

// fieldValue resolves a dotted expectation field against a JSON-like object.
func fieldValue(obj map[string]any, field string) (any, bool) {
	parts := strings.Split(field, ".")
	var cur any = obj
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Package expressions hosts the expression engines used by route conditions,
// action conditions and the data generators.
package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Engine evaluates expressions against a data map.
// Three implementations: CEL (conditions), GoJQ (JSON queries), Expr (logic).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Stringify renders an evaluation result as parameter text. Whole floats drop
// their fraction; composite values are rendered as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

package dsl

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// --- AST ---

type node interface {
	eval(b Bindings) (any, error)
}

type literalNode struct {
	value any
}

func (n *literalNode) eval(Bindings) (any, error) { return n.value, nil }

type segment struct {
	key   string
	exact bool // ["a.b"] 下标访问只做精确匹配
}

type pathNode struct {
	root     string
	segments []segment
}

func (n *pathNode) eval(b Bindings) (any, error) {
	var current any
	switch n.root {
	case "state":
		current = b.State
	case "event":
		current = b.Event
	default:
		return nil, fmt.Errorf("unknown root %q", n.root)
	}
	return resolvePath(current, n.segments), nil
}

type notNode struct {
	operand node
}

func (n *notNode) eval(b Bindings) (any, error) {
	v, err := n.operand.eval(b)
	if err != nil {
		return nil, err
	}
	return !toBool(v), nil
}

type logicalNode struct {
	op          string
	left, right node
}

func (n *logicalNode) eval(b Bindings) (any, error) {
	l, err := n.left.eval(b)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "&&":
		if !toBool(l) {
			return false, nil
		}
	case "||":
		if toBool(l) {
			return true, nil
		}
	}
	r, err := n.right.eval(b)
	if err != nil {
		return nil, err
	}
	return toBool(r), nil
}

type compareNode struct {
	op          string
	left, right node
}

func (n *compareNode) eval(b Bindings) (any, error) {
	l, err := n.left.eval(b)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(b)
	if err != nil {
		return nil, err
	}
	return evalComparison(l, n.op, r), nil
}

// --- Evaluation helpers ---

// resolvePath walks segments through nested maps. At each level the longest
// dotted run of remaining segments that exists as a flat key wins, so
// state.step1.taskId finds state["step1.taskId"] as well as
// state["step1"]["taskId"].
func resolvePath(current any, segments []segment) any {
	for len(segments) > 0 {
		m, ok := asMap(current)
		if !ok {
			if s, ok := asSlice(current); ok {
				idx, err := strconv.Atoi(segments[0].key)
				if err != nil || idx < 0 || idx >= len(s) {
					return nil
				}
				current = s[idx]
				segments = segments[1:]
				continue
			}
			return nil
		}

		matched := 0
		for i := flatRun(segments); i >= 1; i-- {
			key := joinKeys(segments[:i])
			if v, ok := m[key]; ok {
				current = v
				matched = i
				break
			}
		}
		if matched == 0 {
			return nil
		}
		segments = segments[matched:]
	}
	return current
}

// flatRun 返回从开头起可以拼接为扁平键的段数：下标段只能单独匹配
func flatRun(segments []segment) int {
	if segments[0].exact {
		return 1
	}
	n := 0
	for _, s := range segments {
		if s.exact {
			break
		}
		n++
	}
	return n
}

func joinKeys(segments []segment) string {
	if len(segments) == 1 {
		return segments[0].key
	}
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.key
	}
	return strings.Join(parts, ".")
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	default:
		return nil, false
	}
}

// evalComparison evaluates a comparison between two values.
// nil is treated as less than any non-nil value; two nils are equal.
func evalComparison(left any, op string, right any) bool {
	if left == nil && right == nil {
		return op == "==" || op == ">=" || op == "<="
	}
	if left == nil || right == nil {
		switch op {
		case "!=":
			return true
		case "==":
			return false
		}
		if left == nil {
			return op == "<" || op == "<="
		}
		return op == ">" || op == ">="
	}

	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			switch op {
			case "==":
				return lb == rb
			case "!=":
				return lb != rb
			}
			return false
		}
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
	}

	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	}
	return false
}

// toBool converts a value to boolean with JavaScript-like truthiness.
func toBool(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case map[string]any:
		return true
	case []any:
		return true
	}
	if f, ok := toFloat64(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// toFloat64 attempts to convert a value to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// parseNumber parses a number string to float64.
func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

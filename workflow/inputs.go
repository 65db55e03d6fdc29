package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/agentcoord/workflow/dsl"
)

// {{ state.step1.taskId }} 形式的输入占位符
var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// resolveInputs 展开节点输入中的占位符。整个字符串恰为一个占位符时保留原始类型，
// 否则按字符串插值（nil 展开为空串）。
func resolveInputs(inputs map[string]any, b dsl.Bindings) (map[string]any, error) {
	if inputs == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		resolved, err := resolveInputValue(v, b)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveInputValue(v any, b dsl.Bindings) (any, error) {
	switch val := v.(type) {
	case string:
		return interpolate(val, b)
	case map[string]any:
		return resolveInputs(val, b)
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			r, err := resolveInputValue(x, b)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func interpolate(s string, b dsl.Bindings) (any, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return evalPlaceholder(s[matches[0][2]:matches[0][3]], b)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])
		v, err := evalPlaceholder(s[m[2]:m[3]], b)
		if err != nil {
			return nil, err
		}
		if v != nil {
			sb.WriteString(fmt.Sprint(v))
		}
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

func evalPlaceholder(src string, b dsl.Bindings) (any, error) {
	expr, err := dsl.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("placeholder {{%s}}: %w", src, err)
	}
	return expr.Value(b)
}

// validatePlaceholders 编译期检查输入中的占位符语法
func validatePlaceholders(v any) error {
	switch val := v.(type) {
	case string:
		for _, m := range placeholderRe.FindAllStringSubmatch(val, -1) {
			if err := dsl.Validate(m[1]); err != nil {
				return fmt.Errorf("placeholder {{%s}}: %w", m[1], err)
			}
		}
	case map[string]any:
		for _, x := range val {
			if err := validatePlaceholders(x); err != nil {
				return err
			}
		}
	case []any:
		for _, x := range val {
			if err := validatePlaceholders(x); err != nil {
				return err
			}
		}
	}
	return nil
}

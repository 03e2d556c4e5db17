package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrPathNotFound 路径解析失败哨兵错误（对外导出）
var ErrPathNotFound = errors.New("step输出路径不存在")

// ErrMalformedPlaceholder 占位符格式错误哨兵错误（对外导出）
var ErrMalformedPlaceholder = errors.New("占位符格式错误")

// placeholderPattern 匹配内嵌的 {{ steps.<key>.<path> }} 占位符
var placeholderPattern = regexp.MustCompile(`\{\{\s*(steps\.[^{}\s]+)\s*\}\}`)

// ExtractSinglePlaceholder 提取整串占位符（对外导出）
// 仅当整个字符串（去除首尾空白后）恰好是一个 {{steps.<key>.<path>}} 时返回内部路径
func ExtractSinglePlaceholder(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
	if !strings.HasPrefix(inner, "steps.") || strings.ContainsAny(inner, "{} \t") {
		return "", false
	}
	// steps.<key>.<path> 至少三段
	if len(strings.Split(inner, ".")) < 3 {
		return "", false
	}
	return inner, true
}

// ResolveStepOutputPath 按点分路径在已有Step输出中取值（对外导出）
// 路径形如 steps.<key>.<segment>...；每段是对象字段查找，
// 或当前值为数组且段为数字时按下标查找；缺失时返回ErrPathNotFound
func ResolveStepOutputPath(path string, outputs map[string]interface{}) (interface{}, error) {
	segments := strings.Split(path, ".")
	if len(segments) < 2 || segments[0] != "steps" {
		return nil, fmt.Errorf("%w: %q 不是 steps.<key>.<path> 形式", ErrMalformedPlaceholder, path)
	}

	stepKey := segments[1]
	current, exists := outputs[stepKey]
	if !exists {
		return nil, fmt.Errorf("%w: 未找到step %q 的输出", ErrPathNotFound, stepKey)
	}

	for _, segment := range segments[2:] {
		switch value := current.(type) {
		case map[string]interface{}:
			next, exists := value[segment]
			if !exists {
				return nil, fmt.Errorf("%w: 路径 %q 中的字段 %q 不存在", ErrPathNotFound, path, segment)
			}
			current = next
		case []interface{}:
			index, err := strconv.Atoi(segment)
			if err != nil {
				return nil, fmt.Errorf("%w: 路径 %q 中的 %q 不是数组下标", ErrPathNotFound, path, segment)
			}
			if index < 0 || index >= len(value) {
				return nil, fmt.Errorf("%w: 路径 %q 的下标 %d 越界（长度%d）", ErrPathNotFound, path, index, len(value))
			}
			current = value[index]
		default:
			return nil, fmt.Errorf("%w: 路径 %q 在 %q 处无法继续（值不是对象或数组）", ErrPathNotFound, path, segment)
		}
	}
	return current, nil
}

// ResolveTemplateValue 解析单个字符串模板（对外导出）
// 整串恰为一个占位符时保留解析值的原生JSON类型（数字/布尔不转字符串）；
// 否则将文本中所有内嵌占位符替换为其字符串形式，其余文本原样保留
func ResolveTemplateValue(text string, outputs map[string]interface{}) (interface{}, error) {
	if path, ok := ExtractSinglePlaceholder(text); ok {
		return ResolveStepOutputPath(path, outputs)
	}

	matches := placeholderPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var builder strings.Builder
	last := 0
	for _, match := range matches {
		path := text[match[2]:match[3]]
		value, err := ResolveStepOutputPath(path, outputs)
		if err != nil {
			return nil, err
		}
		builder.WriteString(text[last:match[0]])
		builder.WriteString(stringify(value))
		last = match[1]
	}
	builder.WriteString(text[last:])
	return builder.String(), nil
}

// stringify 将解析值转换为内嵌替换用的字符串形式
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// ResolvePayload 递归解析任意JSON值中的所有字符串叶子（对外导出）
// 对象/数组递归，字符串叶子走ResolveTemplateValue，其他叶子原样保留；
// 遇到第一个解析错误立即中止，不产生部分结果
func ResolvePayload(value interface{}, outputs map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		resolved := make(map[string]interface{}, len(v))
		for key, item := range v {
			result, err := ResolvePayload(item, outputs)
			if err != nil {
				return nil, err
			}
			resolved[key] = result
		}
		return resolved, nil
	case []interface{}:
		resolved := make([]interface{}, len(v))
		for i, item := range v {
			result, err := ResolvePayload(item, outputs)
			if err != nil {
				return nil, err
			}
			resolved[i] = result
		}
		return resolved, nil
	case string:
		return ResolveTemplateValue(v, outputs)
	default:
		return value, nil
	}
}

// DecodeOutputs 将step_key -> 原始JSON的输出映射解码为可解析的值映射（对外导出）
func DecodeOutputs(raw map[string]json.RawMessage) (map[string]interface{}, error) {
	outputs := make(map[string]interface{}, len(raw))
	for stepKey, data := range raw {
		var value interface{}
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("解码step %q 的输出失败: %w", stepKey, err)
		}
		outputs[stepKey] = value
	}
	return outputs, nil
}

// ResolveRawPayload 解析原始JSON形式的Step Payload模板（对外导出）
func ResolveRawPayload(payload json.RawMessage, outputs map[string]interface{}) (json.RawMessage, error) {
	if len(payload) == 0 {
		return payload, nil
	}
	var value interface{}
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, fmt.Errorf("解码Step Payload失败: %w", err)
	}
	resolved, err := ResolvePayload(value, outputs)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("编码解析结果失败: %w", err)
	}
	return encoded, nil
}

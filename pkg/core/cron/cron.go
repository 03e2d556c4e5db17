package cron

import (
	"fmt"
	"strconv"
	"strings"

	robfig "github.com/robfig/cron/v3"
)

// 五字段cron中各字段的名称与取值范围
var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// ParseCronField 解析单个cron字段，返回具体的整数集合（升序、去重）（对外导出）
// 支持 `*`、`*/N`、`a-b`、`a,b,c` 四种形式（不支持组合）
func ParseCronField(expr string, min, max int) ([]int, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron字段为空")
	}

	// 通配符：全部取值
	if expr == "*" {
		values := make([]int, 0, max-min+1)
		for v := min; v <= max; v++ {
			values = append(values, v)
		}
		return values, nil
	}

	// 步进：*/N
	if strings.HasPrefix(expr, "*/") {
		step, err := strconv.Atoi(expr[2:])
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("cron字段 %q 的步进值无效", expr)
		}
		values := make([]int, 0, (max-min)/step+1)
		for v := min; v <= max; v += step {
			values = append(values, v)
		}
		return values, nil
	}

	// 列表：a,b,c
	if strings.Contains(expr, ",") {
		parts := strings.Split(expr, ",")
		seen := make(map[int]struct{}, len(parts))
		values := make([]int, 0, len(parts))
		for _, part := range parts {
			v, err := parseValue(part, min, max)
			if err != nil {
				return nil, fmt.Errorf("cron字段 %q 无效: %w", expr, err)
			}
			if _, exists := seen[v]; exists {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
		sortInts(values)
		return values, nil
	}

	// 区间：a-b
	if strings.Contains(expr, "-") {
		bounds := strings.SplitN(expr, "-", 2)
		low, err := parseValue(bounds[0], min, max)
		if err != nil {
			return nil, fmt.Errorf("cron字段 %q 无效: %w", expr, err)
		}
		high, err := parseValue(bounds[1], min, max)
		if err != nil {
			return nil, fmt.Errorf("cron字段 %q 无效: %w", expr, err)
		}
		if low > high {
			return nil, fmt.Errorf("cron字段 %q 的区间下界大于上界", expr)
		}
		values := make([]int, 0, high-low+1)
		for v := low; v <= high; v++ {
			values = append(values, v)
		}
		return values, nil
	}

	// 单值
	v, err := parseValue(expr, min, max)
	if err != nil {
		return nil, fmt.Errorf("cron字段 %q 无效: %w", expr, err)
	}
	return []int{v}, nil
}

func parseValue(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q 不是整数", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%d 超出范围 [%d, %d]", v, min, max)
	}
	return v, nil
}

func sortInts(values []int) {
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j] < values[j-1]; j-- {
			values[j], values[j-1] = values[j-1], values[j]
		}
	}
}

// ValidateCronExpression 验证cron表达式（对外导出）
// 要求恰好五个空白分隔字段；仅分钟和小时允许非通配，
// 日/月/星期字段必须为 `*`，否则显式报错（不做静默忽略）
func ValidateCronExpression(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("cron表达式必须为5个字段（分 时 日 月 星期），实际为%d个: %q", len(fields), expr)
	}

	// 先用robfig/cron做一遍整体语法检查
	parser := robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("cron表达式语法错误: %w", err)
	}

	for i := 2; i < 5; i++ {
		if fields[i] != "*" {
			return fmt.Errorf("cron表达式的%s字段仅支持 `*`，实际为 %q", fieldNames[i], fields[i])
		}
	}

	if _, err := ParseCronField(fields[0], 0, 59); err != nil {
		return fmt.Errorf("cron表达式的minute字段无效: %w", err)
	}
	if _, err := ParseCronField(fields[1], 0, 23); err != nil {
		return fmt.Errorf("cron表达式的hour字段无效: %w", err)
	}
	return nil
}

// Schedule 已解析的调度表（对外导出）
type Schedule struct {
	minutes map[int]struct{}
	hours   map[int]struct{}
}

// ParseSchedule 解析cron表达式为调度表（对外导出）
func ParseSchedule(expr string) (*Schedule, error) {
	if err := ValidateCronExpression(expr); err != nil {
		return nil, err
	}
	fields := strings.Fields(expr)

	minuteValues, err := ParseCronField(fields[0], 0, 59)
	if err != nil {
		return nil, err
	}
	hourValues, err := ParseCronField(fields[1], 0, 23)
	if err != nil {
		return nil, err
	}

	s := &Schedule{
		minutes: make(map[int]struct{}, len(minuteValues)),
		hours:   make(map[int]struct{}, len(hourValues)),
	}
	for _, v := range minuteValues {
		s.minutes[v] = struct{}{}
	}
	for _, v := range hourValues {
		s.hours[v] = struct{}{}
	}
	return s, nil
}

// IsDue 当前(分钟, 小时)是否到期：分钟 ∈ 分钟集合 且 小时 ∈ 小时集合
func (s *Schedule) IsDue(minute, hour int) bool {
	if _, ok := s.minutes[minute]; !ok {
		return false
	}
	_, ok := s.hours[hour]
	return ok
}

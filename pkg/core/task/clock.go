package task

import "time"

// Clock 时钟抽象（对外导出）
// 调度到期判断与时间戳都通过Clock获取，测试时可注入固定时钟
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock 返回系统时钟（对外导出）
func SystemClock() Clock {
	return systemClock{}
}

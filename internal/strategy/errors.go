package strategy

import "fmt"

// ConfigurationError 策略定义有结构性问题：未知指标、悬空引用、
// 非法比较符等。构造阶段即失败，绝不进入回测循环后才暴露。
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "strategy configuration: " + e.Reason
}

func configErrf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

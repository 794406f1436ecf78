package strategy

import (
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Factory 按参数表构造策略实例。
type Factory func(params map[string]any) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register 注册一个策略工厂，重复注册直接覆盖。
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(strings.TrimSpace(name))] = factory
}

// New 构造命名策略，名称未注册时返回 ConfigurationError。
func New(name string, params map[string]any) (Strategy, error) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	registryMu.RUnlock()
	if !ok {
		return nil, configErrf("unknown strategy %q (registered: %s)", name, strings.Join(Names(), ", "))
	}
	return factory(params)
}

// Names 已注册的策略名，排序稳定。
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register("ma_crossover", NewMovingAverageCrossover)
	Register("rsi_reversion", NewRSIMeanReversion)
	Register("macd_crossover", NewMACDCrossover)
}

// decodeParams 宽松解码参数表（字符串数字也能进数值字段）。
func decodeParams(params map[string]any, target any) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return configErrf("decode params: %v", err)
	}
	return nil
}

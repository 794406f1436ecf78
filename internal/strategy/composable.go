package strategy

import (
	"strings"

	"backlab/internal/market"
)

// Comparator 条件比较符。
type Comparator string

const (
	CompareGT Comparator = "gt"
	CompareLT Comparator = "lt"
	CompareEQ Comparator = "eq"
)

// Operand 条件操作数：要么引用一列（指标 ID 或价格字段），
// 要么是一个字面量。两者必须恰好设置其一。
type Operand struct {
	Ref   string   `json:"ref,omitempty" yaml:"ref,omitempty" mapstructure:"ref"`
	Value *float64 `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`
}

// Condition 一条逐根比较。
type Condition struct {
	Left  Operand    `json:"left" yaml:"left" mapstructure:"left"`
	Op    Comparator `json:"op" yaml:"op" mapstructure:"op"`
	Right Operand    `json:"right" yaml:"right" mapstructure:"right"`
}

// Group 一组条件，组内按 Logic 合并（and/or，默认 and）。
type Group struct {
	Logic      string      `json:"logic,omitempty" yaml:"logic,omitempty" mapstructure:"logic"`
	Conditions []Condition `json:"conditions" yaml:"conditions" mapstructure:"conditions"`
}

// Rules 多个条件组，组间恒为 OR。
type Rules struct {
	Groups []Group `json:"groups" yaml:"groups" mapstructure:"groups"`
}

// Definition 声明式策略：指标集 + 入场/出场规则树。
type Definition struct {
	ID         string          `json:"id" yaml:"id" mapstructure:"id"`
	Name       string          `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Indicators []IndicatorDecl `json:"indicators" yaml:"indicators" mapstructure:"indicators"`
	Entry      Rules           `json:"entry" yaml:"entry" mapstructure:"entry"`
	Exit       Rules           `json:"exit" yaml:"exit" mapstructure:"exit"`
}

// Composable 把 Definition 变成可评估策略。构造时做全部结构校验，
// Evaluate 阶段只剩纯计算。
type Composable struct {
	def Definition
}

// NewComposable 校验定义并构造。任何结构问题都是 ConfigurationError。
func NewComposable(def Definition) (*Composable, error) {
	if strings.TrimSpace(def.ID) == "" {
		return nil, configErrf("definition missing id")
	}
	refs, err := declaredColumns(def.Indicators)
	if err != nil {
		return nil, err
	}
	if len(def.Entry.Groups) == 0 {
		return nil, configErrf("definition %q: entry rules empty", def.ID)
	}
	if err := validateRules(def.ID, "entry", def.Entry, refs); err != nil {
		return nil, err
	}
	if err := validateRules(def.ID, "exit", def.Exit, refs); err != nil {
		return nil, err
	}
	return &Composable{def: def}, nil
}

func (c *Composable) Name() string {
	if c.def.Name != "" {
		return c.def.Name
	}
	return c.def.ID
}

// Evaluate 计算指标帧并逐根求信号。出场规则在入场之后求值，
// 同一根 K 线同时命中时出场优先。
func (c *Composable) Evaluate(bars market.Series) (*Frame, []int, error) {
	f, err := buildFrame(bars, c.def.Indicators)
	if err != nil {
		return nil, nil, err
	}
	n := len(bars)
	signals := make([]int, n)

	entry, err := evalRules(f, c.def.Entry, n)
	if err != nil {
		return nil, nil, err
	}
	exit, err := evalRules(f, c.def.Exit, n)
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i < n; i++ {
		if entry[i] {
			signals[i] = SignalBuy
		}
		if exit[i] {
			signals[i] = SignalSell
		}
	}
	return f, signals, nil
}

// declaredColumns 展开指标声明会产出的全部列名。
func declaredColumns(decls []IndicatorDecl) (map[string]struct{}, error) {
	refs := map[string]struct{}{
		"open": {}, "high": {}, "low": {}, "close": {}, "volume": {},
	}
	seen := make(map[string]struct{}, len(decls))
	for _, decl := range decls {
		id := strings.TrimSpace(decl.ID)
		if id == "" {
			return nil, configErrf("indicator declaration missing id")
		}
		if _, dup := seen[id]; dup {
			return nil, configErrf("duplicate indicator id %q", id)
		}
		seen[id] = struct{}{}
		refs[id] = struct{}{}
		if strings.EqualFold(strings.TrimSpace(decl.Kind), "macd") {
			refs[id+"_signal"] = struct{}{}
			refs[id+"_hist"] = struct{}{}
		}
	}
	return refs, nil
}

func validateRules(defID, stage string, rules Rules, refs map[string]struct{}) error {
	for gi, group := range rules.Groups {
		switch strings.ToLower(strings.TrimSpace(group.Logic)) {
		case "", "and", "or":
		default:
			return configErrf("definition %q: %s group #%d has unknown logic %q", defID, stage, gi+1, group.Logic)
		}
		if len(group.Conditions) == 0 {
			return configErrf("definition %q: %s group #%d has no conditions", defID, stage, gi+1)
		}
		for ci, cond := range group.Conditions {
			switch cond.Op {
			case CompareGT, CompareLT, CompareEQ:
			default:
				return configErrf("definition %q: %s group #%d condition #%d has unknown comparator %q",
					defID, stage, gi+1, ci+1, cond.Op)
			}
			for _, op := range []Operand{cond.Left, cond.Right} {
				hasRef := strings.TrimSpace(op.Ref) != ""
				hasValue := op.Value != nil
				if hasRef == hasValue {
					return configErrf("definition %q: %s group #%d condition #%d operand needs exactly one of ref/value",
						defID, stage, gi+1, ci+1)
				}
				if hasRef {
					if _, ok := refs[strings.TrimSpace(op.Ref)]; !ok {
						return configErrf("definition %q: %s references unknown column %q", defID, stage, op.Ref)
					}
				}
			}
		}
	}
	return nil
}

// evalRules 组间 OR，组内按 Logic。空规则集恒为 false。
func evalRules(f *Frame, rules Rules, n int) ([]bool, error) {
	out := make([]bool, n)
	for _, group := range rules.Groups {
		gv, err := evalGroup(f, group, n)
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = out[i] || gv[i]
		}
	}
	return out, nil
}

func evalGroup(f *Frame, group Group, n int) ([]bool, error) {
	useOr := strings.EqualFold(strings.TrimSpace(group.Logic), "or")
	var acc []bool
	for _, cond := range group.Conditions {
		cv, err := evalCondition(f, cond, n)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = cv
			continue
		}
		for i := range acc {
			if useOr {
				acc[i] = acc[i] || cv[i]
			} else {
				acc[i] = acc[i] && cv[i]
			}
		}
	}
	return acc, nil
}

func evalCondition(f *Frame, cond Condition, n int) ([]bool, error) {
	left, err := operandSeries(f, cond.Left, n)
	if err != nil {
		return nil, err
	}
	right, err := operandSeries(f, cond.Right, n)
	if err != nil {
		return nil, err
	}
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		switch cond.Op {
		case CompareGT:
			out[i] = left[i] > right[i]
		case CompareLT:
			out[i] = left[i] < right[i]
		case CompareEQ:
			out[i] = left[i] == right[i]
		}
	}
	return out, nil
}

func operandSeries(f *Frame, op Operand, n int) ([]float64, error) {
	if ref := strings.TrimSpace(op.Ref); ref != "" {
		col, ok := f.series(ref)
		if !ok {
			return nil, configErrf("unknown column %q", ref)
		}
		return col, nil
	}
	if op.Value == nil {
		return nil, configErrf("operand needs ref or value")
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = *op.Value
	}
	return out, nil
}

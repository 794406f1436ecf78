package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func validDefinition() Definition {
	return Definition{
		ID: "trend",
		Indicators: []IndicatorDecl{
			{ID: "fast", Kind: "sma", Period: 2},
			{ID: "slow", Kind: "sma", Period: 3},
		},
		Entry: Rules{Groups: []Group{{
			Conditions: []Condition{{
				Left:  Operand{Ref: "fast"},
				Op:    CompareGT,
				Right: Operand{Ref: "slow"},
			}},
		}}},
		Exit: Rules{Groups: []Group{{
			Conditions: []Condition{{
				Left:  Operand{Ref: "fast"},
				Op:    CompareLT,
				Right: Operand{Ref: "slow"},
			}},
		}}},
	}
}

func TestComposableEvaluate(t *testing.T) {
	c, err := NewComposable(validDefinition())
	require.NoError(t, err)

	bars := seriesFromCloses([]float64{1, 2, 3, 4, 5, 6, 5, 4, 3, 2, 1})
	frame, signals, err := c.Evaluate(bars)
	require.NoError(t, err)
	require.Len(t, signals, len(bars))

	_, ok := frame.Column("fast")
	assert.True(t, ok)

	// 上涨段快线在上 → 买入；下跌段快线在下 → 卖出。
	assert.Equal(t, SignalBuy, signals[4])
	assert.Equal(t, SignalSell, signals[8])
}

func TestComposableExitWinsSameBar(t *testing.T) {
	def := Definition{
		ID: "always_both",
		Entry: Rules{Groups: []Group{{
			Conditions: []Condition{{
				Left: Operand{Ref: "close"}, Op: CompareGT, Right: Operand{Value: floatPtr(0)},
			}},
		}}},
		Exit: Rules{Groups: []Group{{
			Conditions: []Condition{{
				Left: Operand{Ref: "close"}, Op: CompareLT, Right: Operand{Value: floatPtr(1e9)},
			}},
		}}},
	}
	c, err := NewComposable(def)
	require.NoError(t, err)

	_, signals, err := c.Evaluate(seriesFromCloses([]float64{10, 20, 30}))
	require.NoError(t, err)
	for _, sig := range signals {
		assert.Equal(t, SignalSell, sig, "exit overrides entry on the same bar")
	}
}

func TestComposableGroupLogic(t *testing.T) {
	// 单组 OR：任一条件命中即可。
	def := Definition{
		ID: "or_group",
		Entry: Rules{Groups: []Group{{
			Logic: "or",
			Conditions: []Condition{
				{Left: Operand{Ref: "close"}, Op: CompareGT, Right: Operand{Value: floatPtr(25)}},
				{Left: Operand{Ref: "close"}, Op: CompareLT, Right: Operand{Value: floatPtr(15)}},
			},
		}}},
	}
	c, err := NewComposable(def)
	require.NoError(t, err)

	_, signals, err := c.Evaluate(seriesFromCloses([]float64{10, 20, 30}))
	require.NoError(t, err)
	assert.Equal(t, []int{SignalBuy, SignalHold, SignalBuy}, signals)
}

func TestComposableMultipleGroupsAreORed(t *testing.T) {
	def := Definition{
		ID: "two_groups",
		Entry: Rules{Groups: []Group{
			{Conditions: []Condition{{
				Left: Operand{Ref: "close"}, Op: CompareGT, Right: Operand{Value: floatPtr(25)},
			}}},
			{Conditions: []Condition{{
				Left: Operand{Ref: "close"}, Op: CompareLT, Right: Operand{Value: floatPtr(15)},
			}}},
		}},
	}
	c, err := NewComposable(def)
	require.NoError(t, err)

	_, signals, err := c.Evaluate(seriesFromCloses([]float64{10, 20, 30}))
	require.NoError(t, err)
	assert.Equal(t, []int{SignalBuy, SignalHold, SignalBuy}, signals)
}

func TestComposableConfigurationErrors(t *testing.T) {
	var cfgErr *ConfigurationError

	t.Run("unknown ref", func(t *testing.T) {
		def := validDefinition()
		def.Entry.Groups[0].Conditions[0].Left.Ref = "nope"
		_, err := NewComposable(def)
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("unknown comparator", func(t *testing.T) {
		def := validDefinition()
		def.Entry.Groups[0].Conditions[0].Op = "gte"
		_, err := NewComposable(def)
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("duplicate indicator id", func(t *testing.T) {
		def := validDefinition()
		def.Indicators = append(def.Indicators, IndicatorDecl{ID: "fast", Kind: "ema", Period: 5})
		_, err := NewComposable(def)
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("unknown indicator kind", func(t *testing.T) {
		def := validDefinition()
		def.Indicators[0].Kind = "hull"
		c, err := NewComposable(def)
		require.NoError(t, err, "kind is checked at compute time")
		_, _, err = c.Evaluate(seriesFromCloses([]float64{1, 2, 3}))
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("operand with both ref and value", func(t *testing.T) {
		def := validDefinition()
		def.Entry.Groups[0].Conditions[0].Right = Operand{Ref: "slow", Value: floatPtr(1)}
		_, err := NewComposable(def)
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("empty entry", func(t *testing.T) {
		def := validDefinition()
		def.Entry = Rules{}
		_, err := NewComposable(def)
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("unknown group logic", func(t *testing.T) {
		def := validDefinition()
		def.Entry.Groups[0].Logic = "xor"
		_, err := NewComposable(def)
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestComposableMACDDerivedColumns(t *testing.T) {
	def := Definition{
		ID: "macd_ref",
		Indicators: []IndicatorDecl{
			{ID: "m", Kind: "macd"},
		},
		Entry: Rules{Groups: []Group{{
			Conditions: []Condition{{
				Left: Operand{Ref: "m"}, Op: CompareGT, Right: Operand{Ref: "m_signal"},
			}},
		}}},
	}
	_, err := NewComposable(def)
	assert.NoError(t, err, "macd declarations expose <id>_signal and <id>_hist")
}

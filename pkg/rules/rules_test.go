package rules

import (
	"testing"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_PairConfigResolution(t *testing.T) {
	s := NewSet(nil, map[string]models.PairConfig{
		Wildcard:  {BuyEnabled: true, BuyMaxCost: decimal.NewFromInt(50)},
		"ABCUSDT": {BuyEnabled: false},
	})

	assert.False(t, s.PairConfig("ABCUSDT").BuyEnabled)
	assert.True(t, s.PairConfig("XYZUSDT").BuyEnabled)
	assert.True(t, s.PairConfig("XYZUSDT").BuyMaxCost.Equal(decimal.NewFromInt(50)))

	empty := NewSet(nil, nil)
	assert.False(t, empty.PairConfig("XYZUSDT").BuyEnabled)
}

func TestSet_RuleDefaultsAction(t *testing.T) {
	s := NewSet([]Rule{{Name: "breakout", Enabled: true}, {Name: "rotate", Action: ActionSwap}}, nil)

	r, ok := s.Rule("breakout")
	require.True(t, ok)
	assert.Equal(t, ActionDefault, r.Action)

	r, ok = s.Rule("rotate")
	require.True(t, ok)
	assert.Equal(t, ActionSwap, r.Action)

	_, ok = s.Rule("missing")
	assert.False(t, ok)
}

func TestSet_ReplaceNotifiesSubscribers(t *testing.T) {
	s := NewSet(nil, nil)
	calls := 0
	unsubscribe := s.Subscribe(func() { calls++ })

	s.Replace([]Rule{{Name: "breakout"}}, nil)
	assert.Equal(t, 1, calls)
	_, ok := s.Rule("breakout")
	assert.True(t, ok)

	unsubscribe()
	s.Replace(nil, nil)
	assert.Equal(t, 1, calls)
}

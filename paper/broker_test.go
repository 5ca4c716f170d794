package paper

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fullFillConfig removes the stochastic knobs so fills are deterministic.
func fullFillConfig() Config {
	cfg := DefaultConfig()
	cfg.NoFillProb = 0
	cfg.PartialFillMin = 1
	cfg.PartialFillMax = 1
	return cfg
}

func TestSimulateBuyRejectsOutsideEntryBand(t *testing.T) {
	b := NewBroker(fullFillConfig(), rand.New(rand.NewSource(1)))

	low := b.SimulateBuy(dec("0.02"), dec("20"), dec("2"))
	assert.False(t, low.Filled)
	assert.Equal(t, "blocked: price<0.05", low.Reason)

	high := b.SimulateBuy(dec("0.97"), dec("20"), dec("2"))
	assert.False(t, high.Filled)
	assert.Equal(t, "blocked: price>0.95", high.Reason)
}

func TestSimulateBuyRejectsZeroStake(t *testing.T) {
	b := NewBroker(fullFillConfig(), rand.New(rand.NewSource(1)))

	res := b.SimulateBuy(dec("0.50"), dec("20"), decimal.Zero)
	assert.False(t, res.Filled)
	assert.Equal(t, "blocked: stake<=0", res.Reason)

	broke := b.SimulateBuy(dec("0.50"), decimal.Zero, dec("2"))
	assert.False(t, broke.Filled)
	assert.Equal(t, "blocked: stake<=0", broke.Reason)
}

func TestSimulateBuyNoFill(t *testing.T) {
	cfg := fullFillConfig()
	cfg.NoFillProb = 1 // always refuse
	b := NewBroker(cfg, rand.New(rand.NewSource(1)))

	res := b.SimulateBuy(dec("0.50"), dec("20"), dec("2"))
	assert.False(t, res.Filled)
	assert.Equal(t, "no_fill", res.Reason)
}

func TestSimulateBuyLiquidityCap(t *testing.T) {
	cfg := fullFillConfig()
	cfg.LiquidityCap = dec("1")
	cfg.SlippageBps = decimal.Zero
	cfg.TakerFeeBps = decimal.Zero
	b := NewBroker(cfg, rand.New(rand.NewSource(1)))

	// $1 of liquidity at 0.50 bounds the fill to 2.0 shares no matter the stake.
	res := b.SimulateBuy(dec("0.50"), dec("100"), dec("5"))
	require.True(t, res.Filled)
	assert.True(t, res.FilledShares.LessThanOrEqual(dec("2")),
		"got %s shares", res.FilledShares)
	assert.True(t, res.FilledShares.Equal(dec("2")))
}

func TestSimulateBuyCostNeverExceedsBankroll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoFillProb = 0
	rng := rand.New(rand.NewSource(42))
	b := NewBroker(cfg, rng)

	prices := []string{"0.06", "0.18", "0.41", "0.50", "0.73", "0.94"}
	bankrolls := []string{"0.5", "1", "5", "20", "100"}

	for _, ps := range prices {
		for _, bs := range bankrolls {
			price, bankroll := dec(ps), dec(bs)
			for i := 0; i < 50; i++ {
				res := b.SimulateBuy(price, bankroll, bankroll)
				if !res.Filled {
					continue
				}
				cost := res.FilledShares.Mul(res.AvgPrice).Add(res.Fee)
				assert.True(t, cost.LessThanOrEqual(bankroll),
					"price=%s bankroll=%s cost=%s", ps, bs, cost)
			}
		}
	}
}

func TestSimulateBuySlippageInflatesPrice(t *testing.T) {
	cfg := fullFillConfig()
	cfg.SlippageBps = dec("100") // 1%
	b := NewBroker(cfg, rand.New(rand.NewSource(1)))

	res := b.SimulateBuy(dec("0.50"), dec("20"), dec("2"))
	require.True(t, res.Filled)
	assert.True(t, res.AvgPrice.Equal(dec("0.505")))
}

func TestSimulateBuyDisabledModePassthrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	b := NewBroker(cfg, rand.New(rand.NewSource(1)))

	// Entry band, no-fill and liquidity checks all become pass-through.
	res := b.SimulateBuy(dec("0.98"), dec("20"), dec("2"))
	require.True(t, res.Filled)
	assert.True(t, res.FilledShares.Equal(dec("2").Div(dec("0.98"))))
	assert.True(t, res.AvgPrice.Equal(dec("0.98")))
	assert.True(t, res.Fee.IsZero())
}

func TestSimulateSellMirror(t *testing.T) {
	cfg := fullFillConfig()
	cfg.SlippageBps = dec("100")
	cfg.TakerFeeBps = dec("60")
	b := NewBroker(cfg, rand.New(rand.NewSource(1)))

	res := b.SimulateSell(dec("0.60"), dec("4"))
	require.True(t, res.Filled)
	assert.True(t, res.AvgPrice.Equal(dec("0.594")), "slippage must work against the seller")
	assert.True(t, res.FilledShares.Equal(dec("4")))

	expectedFee := dec("4").Mul(dec("0.594")).Mul(dec("0.006"))
	assert.True(t, res.Fee.Equal(expectedFee))
}

func TestSimulateSellRejectsZeroShares(t *testing.T) {
	b := NewBroker(fullFillConfig(), rand.New(rand.NewSource(1)))

	res := b.SimulateSell(dec("0.60"), decimal.Zero)
	assert.False(t, res.Filled)
	assert.Equal(t, "blocked: shares<=0", res.Reason)
}

func TestSimulateSellLiquidityCapped(t *testing.T) {
	cfg := fullFillConfig()
	cfg.LiquidityCap = dec("1")
	cfg.SlippageBps = decimal.Zero
	b := NewBroker(cfg, rand.New(rand.NewSource(1)))

	res := b.SimulateSell(dec("0.50"), dec("10"))
	require.True(t, res.Filled)
	assert.True(t, res.FilledShares.Equal(dec("2")))
}

func TestResolveStake(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StakeMode = StakePercent
	cfg.StakePct = dec("0.10")
	cfg.MaxStake = dec("5")
	b := NewBroker(cfg, rand.New(rand.NewSource(1)))

	assert.True(t, b.ResolveStake(dec("20")).Equal(dec("2")))
	assert.True(t, b.ResolveStake(dec("100")).Equal(dec("5")), "MaxStake caps the percent stake")
	assert.True(t, b.ResolveStake(dec("1")).Equal(dec("0.1")))

	cfg.StakeMode = StakeFixed
	cfg.StakeFixed = dec("3")
	fixed := NewBroker(cfg, rand.New(rand.NewSource(1)))
	assert.True(t, fixed.ResolveStake(dec("20")).Equal(dec("3")))
	assert.True(t, fixed.ResolveStake(dec("2")).Equal(dec("2")), "stake never exceeds the bankroll")
}

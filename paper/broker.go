// Package paper simulates order execution against a configurable realism
// model: stochastic no-fills, partial fills, slippage, taker fees and a
// liquidity cap. With realism disabled every order fills fully at the quoted
// price with zero fee.
package paper

import (
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"
)

// StakeMode selects how the default stake is derived from the bankroll.
type StakeMode string

const (
	StakePercent StakeMode = "pct"
	StakeFixed   StakeMode = "fixed"
)

// Config holds every execution-realism tunable. All fields are explicit;
// nothing is read from the environment here.
type Config struct {
	Enabled bool

	StakeMode  StakeMode
	StakePct   decimal.Decimal // fraction of bankroll, e.g. 0.03
	StakeFixed decimal.Decimal // USD
	MaxStake   decimal.Decimal // USD cap per trade

	MinEntry decimal.Decimal // reject buys below this price
	MaxEntry decimal.Decimal // reject buys above this price

	TakerFeeBps decimal.Decimal // linear fee on filled notional
	SlippageBps decimal.Decimal // applied against the trader

	NoFillProb     float64 // uniform probability an order doesn't fill
	PartialFillMin float64 // uniform fill ratio range
	PartialFillMax float64

	LiquidityCap decimal.Decimal // max fillable notional (USD) at one price
}

// DefaultConfig mirrors the conservative defaults used for demo sessions.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		StakeMode:      StakePercent,
		StakePct:       decimal.NewFromFloat(0.03),
		StakeFixed:     decimal.NewFromInt(2),
		MaxStake:       decimal.NewFromInt(5),
		MinEntry:       decimal.NewFromFloat(0.05),
		MaxEntry:       decimal.NewFromFloat(0.95),
		TakerFeeBps:    decimal.NewFromInt(60),
		SlippageBps:    decimal.NewFromInt(80),
		NoFillProb:     0.08,
		PartialFillMin: 0.35,
		PartialFillMax: 0.95,
		LiquidityCap:   decimal.NewFromInt(40),
	}
}

// ExecResult reports the outcome of a simulated order. Rejections carry a
// reason and are never errors.
type ExecResult struct {
	Filled       bool
	FilledShares decimal.Decimal
	AvgPrice     decimal.Decimal
	Fee          decimal.Decimal
	Reason       string
}

func rejected(reason string) ExecResult {
	return ExecResult{
		FilledShares: decimal.Zero,
		AvgPrice:     decimal.Zero,
		Fee:          decimal.Zero,
		Reason:       reason,
	}
}

// Broker simulates fills. Safe for use from a single goroutine; the strategy
// runtime only calls it from its tick loop.
type Broker struct {
	cfg Config
	rng *rand.Rand
}

// NewBroker creates a broker. A nil rng uses an unseeded source.
func NewBroker(cfg Config, rng *rand.Rand) *Broker {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Broker{cfg: cfg, rng: rng}
}

// Enabled reports whether realism is active.
func (b *Broker) Enabled() bool {
	return b.cfg.Enabled
}

// ResolveStake derives the default stake from the bankroll per the stake
// mode, clamped by MaxStake and the bankroll itself.
func (b *Broker) ResolveStake(bankroll decimal.Decimal) decimal.Decimal {
	var stake decimal.Decimal
	if b.cfg.StakeMode == StakeFixed {
		stake = b.cfg.StakeFixed
	} else {
		stake = bankroll.Mul(b.cfg.StakePct)
	}
	stake = decimal.Min(stake, b.cfg.MaxStake, bankroll)
	if stake.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return stake
}

func (b *Broker) fee(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(b.cfg.TakerFeeBps).Div(decimal.NewFromInt(10000))
}

// FeeOn returns the taker fee for a notional, zero when realism is off.
func (b *Broker) FeeOn(notional decimal.Decimal) decimal.Decimal {
	if !b.cfg.Enabled {
		return decimal.Zero
	}
	return b.fee(notional)
}

func (b *Broker) slippage() decimal.Decimal {
	return b.cfg.SlippageBps.Div(decimal.NewFromInt(10000))
}

// maxSharesByLiquidity bounds fillable shares by the notional liquidity cap.
func (b *Broker) maxSharesByLiquidity(price decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return b.cfg.LiquidityCap.Div(price)
}

func (b *Broker) fillRatio() decimal.Decimal {
	span := b.cfg.PartialFillMax - b.cfg.PartialFillMin
	return decimal.NewFromFloat(b.cfg.PartialFillMin + b.rng.Float64()*span)
}

// SimulateBuy simulates a market buy funded by the given bankroll. The total
// cost (notional plus fee) never exceeds the bankroll: when it would, the
// fill is scaled down proportionally.
func (b *Broker) SimulateBuy(price, bankroll, preferredStake decimal.Decimal) ExecResult {
	if !b.cfg.Enabled {
		stake := decimal.Min(preferredStake, bankroll)
		if price.LessThanOrEqual(decimal.Zero) || stake.LessThanOrEqual(decimal.Zero) {
			return rejected("blocked: stake<=0")
		}
		return ExecResult{
			Filled:       true,
			FilledShares: stake.Div(price),
			AvgPrice:     price,
			Fee:          decimal.Zero,
			Reason:       "filled",
		}
	}

	if price.LessThan(b.cfg.MinEntry) {
		return rejected(fmt.Sprintf("blocked: price<%s", b.cfg.MinEntry))
	}
	if price.GreaterThan(b.cfg.MaxEntry) {
		return rejected(fmt.Sprintf("blocked: price>%s", b.cfg.MaxEntry))
	}

	stake := decimal.Min(preferredStake, bankroll, b.cfg.MaxStake)
	if stake.LessThanOrEqual(decimal.Zero) {
		return rejected("blocked: stake<=0")
	}

	if b.rng.Float64() < b.cfg.NoFillProb {
		return rejected("no_fill")
	}

	shares := decimal.Min(stake.Div(price), b.maxSharesByLiquidity(price))
	if shares.LessThanOrEqual(decimal.Zero) {
		return rejected("blocked: liq_cap")
	}

	filledShares := shares.Mul(b.fillRatio())
	avgPrice := price.Mul(decimal.NewFromInt(1).Add(b.slippage()))

	notional := filledShares.Mul(avgPrice)
	fee := b.fee(notional)

	// Never fill beyond the bankroll; scale the fill down so cost fits.
	totalCost := notional.Add(fee)
	if totalCost.GreaterThan(bankroll) && totalCost.GreaterThan(decimal.Zero) {
		scale := bankroll.Div(totalCost)
		filledShares = filledShares.Mul(scale)
		notional = filledShares.Mul(avgPrice)
		fee = b.fee(notional)
	}

	return ExecResult{
		Filled:       true,
		FilledShares: filledShares,
		AvgPrice:     avgPrice,
		Fee:          fee,
		Reason:       "filled",
	}
}

// SimulateSell simulates a market sell of up to shares. Slippage deflates the
// realized price; the fee is computed on the filled notional.
func (b *Broker) SimulateSell(price, shares decimal.Decimal) ExecResult {
	if shares.LessThanOrEqual(decimal.Zero) {
		return rejected("blocked: shares<=0")
	}

	if !b.cfg.Enabled {
		return ExecResult{
			Filled:       true,
			FilledShares: shares,
			AvgPrice:     price,
			Fee:          decimal.Zero,
			Reason:       "filled",
		}
	}

	if b.rng.Float64() < b.cfg.NoFillProb {
		return rejected("no_fill")
	}

	sellable := decimal.Min(shares, b.maxSharesByLiquidity(price))
	filledShares := sellable.Mul(b.fillRatio())
	if filledShares.LessThanOrEqual(decimal.Zero) {
		return rejected("blocked: liq_cap")
	}

	avgPrice := price.Mul(decimal.NewFromInt(1).Sub(b.slippage()))
	fee := b.fee(filledShares.Mul(avgPrice))

	return ExecResult{
		Filled:       true,
		FilledShares: filledShares,
		AvgPrice:     avgPrice,
		Fee:          fee,
		Reason:       "filled",
	}
}

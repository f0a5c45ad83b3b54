// Package validation checks a candidate settlement's structural and
// economic invariants before it may win a round.
package validation

import (
	"fmt"
	"math/big"

	"batch-settler/internal/domain"
)

// Check identifies which validation rule failed.
type Check string

// Validation checks, in evaluation order.
const (
	CheckOrderReference Check = "order-reference"
	CheckUniformPrice   Check = "uniform-price"
	CheckConservation   Check = "conservation"
	CheckLimitPrice     Check = "limit-price"
	CheckObjective      Check = "objective"
)

// ValidationError reports a failed check and the offending entity.
type ValidationError struct {
	Check  Check
	Entity string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s] %s: %s", e.Check, e.Entity, e.Detail)
}

// GasCoster converts a gas estimate into normalized reference units so it
// is comparable with surplus. A nil GasCoster treats gas as free.
type GasCoster func(gas uint64) *big.Int

// Validator holds the tolerance policy. Validation never mutates state.
type Validator struct {
	// tolerance as a ratio: a deviation d against a reference value v
	// passes when d*den <= v*num, with an absolute floor of one atom
	// to absorb integer rounding.
	tolNum, tolDen int64
	gasCost        GasCoster
}

// Option configures the Validator.
type Option func(*Validator)

// WithTolerance overrides the relative tolerance ratio.
func WithTolerance(num, den int64) Option {
	return func(v *Validator) {
		v.tolNum, v.tolDen = num, den
	}
}

// WithGasCoster enables the gas-aware objective check.
func WithGasCoster(gc GasCoster) Option {
	return func(v *Validator) {
		v.gasCost = gc
	}
}

// New creates a Validator with the default tolerance of one part per
// million.
func New(opts ...Option) *Validator {
	v := &Validator{tolNum: 1, tolDen: 1_000_000}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs all checks in order and returns the first failure as a
// *ValidationError, or nil if the settlement is valid against the auction.
func (v *Validator) Validate(s *domain.Settlement, auction *domain.Auction) error {
	if err := v.checkOrderReferences(s, auction); err != nil {
		return err
	}
	if err := v.checkUniformPrices(s); err != nil {
		return err
	}
	if err := v.checkConservation(s); err != nil {
		return err
	}
	if err := v.checkLimitPrices(s, auction); err != nil {
		return err
	}
	return v.checkObjective(s, auction)
}

// checkOrderReferences verifies every trade references an auction order
// with sufficient remaining amount, counting multiple trades against the
// same order cumulatively.
func (v *Validator) checkOrderReferences(s *domain.Settlement, auction *domain.Auction) error {
	executed := make(map[string]*big.Int)
	for _, t := range s.Trades {
		order := auction.OrderByUID(t.OrderUID)
		if order == nil {
			return &ValidationError{
				Check:  CheckOrderReference,
				Entity: t.OrderUID.Hex(),
				Detail: "order not in auction",
			}
		}
		key := t.OrderUID.Hex()
		total, ok := executed[key]
		if !ok {
			total = new(big.Int)
			executed[key] = total
		}
		total.Add(total, t.ExecutedSell)
		if total.Cmp(order.RemainingSell) > 0 {
			return &ValidationError{
				Check:  CheckOrderReference,
				Entity: key,
				Detail: fmt.Sprintf("executed %s exceeds remaining %s", total, order.RemainingSell),
			}
		}
	}
	return nil
}

// checkUniformPrices verifies every traded token has exactly one clearing
// price and every trade's amounts follow the price vector:
//
//	executedBuy == executedSell * P[sell] / P[buy]
//
// within tolerance.
func (v *Validator) checkUniformPrices(s *domain.Settlement) error {
	for _, t := range s.Trades {
		sellPrice, ok := s.ClearingPrices[t.SellToken]
		if !ok {
			return &ValidationError{
				Check:  CheckUniformPrice,
				Entity: t.SellToken.Hex(),
				Detail: "no clearing price for sell token",
			}
		}
		buyPrice, ok := s.ClearingPrices[t.BuyToken]
		if !ok || buyPrice.Sign() == 0 {
			return &ValidationError{
				Check:  CheckUniformPrice,
				Entity: t.BuyToken.Hex(),
				Detail: "no clearing price for buy token",
			}
		}

		expected := new(big.Int).Mul(t.ExecutedSell, sellPrice)
		expected.Div(expected, buyPrice)
		if !v.withinTolerance(t.ExecutedBuy, expected) {
			return &ValidationError{
				Check:  CheckUniformPrice,
				Entity: t.OrderUID.Hex(),
				Detail: fmt.Sprintf("executed buy %s deviates from clearing price implied %s", t.ExecutedBuy, expected),
			}
		}
	}
	return nil
}

// checkConservation verifies that per token, inflows equal outflows
// within tolerance of the token's gross volume.
func (v *Validator) checkConservation(s *domain.Settlement) error {
	gross := make(map[string]*big.Int)
	for _, t := range s.Trades {
		addGross(gross, t.SellToken.Hex(), t.ExecutedSell)
		addGross(gross, t.BuyToken.Hex(), t.ExecutedBuy)
	}
	for _, i := range s.Interactions {
		addGross(gross, i.InputToken.Hex(), i.InputAmount)
		addGross(gross, i.OutputToken.Hex(), i.OutputAmount)
	}

	for token, net := range s.TokenFlows() {
		deviation := new(big.Int).Abs(net)
		reference := gross[token.Hex()]
		if reference == nil {
			reference = new(big.Int)
		}
		if !v.deviationAllowed(deviation, reference) {
			return &ValidationError{
				Check:  CheckConservation,
				Entity: token.Hex(),
				Detail: fmt.Sprintf("net flow %s outside tolerance", net),
			}
		}
	}
	return nil
}

// checkLimitPrices verifies no order executes worse than its signed limit.
func (v *Validator) checkLimitPrices(s *domain.Settlement, auction *domain.Auction) error {
	for _, t := range s.Trades {
		order := auction.OrderByUID(t.OrderUID)
		if order == nil {
			continue // caught by checkOrderReferences
		}
		if !order.LimitSatisfied(t.ExecutedSell, t.ExecutedBuy) {
			return &ValidationError{
				Check:  CheckLimitPrice,
				Entity: t.OrderUID.Hex(),
				Detail: "realized price worse than signed limit",
			}
		}
	}
	return nil
}

// checkObjective verifies the settlement extracts strictly positive value
// net of its estimated gas cost.
func (v *Validator) checkObjective(s *domain.Settlement, auction *domain.Auction) error {
	surplus := s.ComputeSurplus(auction)
	objective := new(big.Int).Set(surplus)
	if v.gasCost != nil {
		objective.Sub(objective, v.gasCost(s.GasEstimate))
	}
	if objective.Sign() <= 0 {
		return &ValidationError{
			Check:  CheckObjective,
			Entity: fmt.Sprintf("auction %d", s.AuctionID),
			Detail: fmt.Sprintf("objective %s not strictly positive", objective),
		}
	}
	return nil
}

// withinTolerance checks |actual-expected| against the relative tolerance
// of expected.
func (v *Validator) withinTolerance(actual, expected *big.Int) bool {
	deviation := new(big.Int).Sub(actual, expected)
	deviation.Abs(deviation)
	return v.deviationAllowed(deviation, expected)
}

// deviationAllowed checks deviation <= max(1, reference*num/den).
func (v *Validator) deviationAllowed(deviation, reference *big.Int) bool {
	if deviation.Sign() == 0 {
		return true
	}
	allowed := new(big.Int).Abs(reference)
	allowed.Mul(allowed, big.NewInt(v.tolNum))
	allowed.Div(allowed, big.NewInt(v.tolDen))
	if allowed.Cmp(big.NewInt(1)) < 0 {
		allowed = big.NewInt(1)
	}
	return deviation.Cmp(allowed) <= 0
}

func addGross(gross map[string]*big.Int, token string, amount *big.Int) {
	if amount == nil {
		return
	}
	cur, ok := gross[token]
	if !ok {
		cur = new(big.Int)
		gross[token] = cur
	}
	cur.Add(cur, amount)
}

// Package reconcile matches an expected amount against small sets of
// received amounts.
package reconcile

import (
	"fmt"

	"github.com/nestorgt/go-settlement/core"
	"github.com/shopspring/decimal"
)

const (
	MaxCandidates = 20
	maxSubsetSize = 3
)

// Result is the outcome of one reconciliation. When nothing matched the
// whole target is reported as Unreconciled.
type Result struct {
	Matched      bool              `json:"matched"`
	Target       decimal.Decimal   `json:"target"`
	Indices      []int             `json:"indices"`
	Amounts      []decimal.Decimal `json:"amounts"`
	Sum          decimal.Decimal   `json:"sum"`
	Difference   decimal.Decimal   `json:"difference"`
	Unreconciled decimal.Decimal   `json:"unreconciled"`
}

// Request is the wire form of a reconciliation call.
type Request struct {
	Target     decimal.Decimal   `json:"target"`
	Candidates []decimal.Decimal `json:"candidates"`
	Tolerance  decimal.Decimal   `json:"tolerance"`
}

// Match searches subsets of one, two and three candidates, in that order
// and in lexicographic index order within a size, and returns the first
// whose sum lies within tolerance of target.
func Match(target decimal.Decimal, candidates []decimal.Decimal, tolerance decimal.Decimal) (Result, error) {
	if len(candidates) > MaxCandidates {
		return Result{}, core.NewPermanentRequestError("", "candidates",
			fmt.Sprintf("at most %d candidates can be reconciled, got %d", MaxCandidates, len(candidates)))
	}
	if tolerance.IsNegative() {
		return Result{}, core.NewPermanentRequestError("", "tolerance", "tolerance must not be negative")
	}

	indices := make([]int, 0, maxSubsetSize)
	for size := 1; size <= maxSubsetSize && size <= len(candidates); size++ {
		if found, ok := search(target, candidates, tolerance, size, 0, indices); ok {
			return matched(target, candidates, found), nil
		}
	}
	return Result{
		Matched:      false,
		Target:       target,
		Indices:      []int{},
		Amounts:      []decimal.Decimal{},
		Sum:          decimal.Zero,
		Difference:   target,
		Unreconciled: target,
	}, nil
}

// Reconcile runs Match for a decoded request.
func Reconcile(req Request) (Result, error) {
	return Match(req.Target, req.Candidates, req.Tolerance)
}

func search(target decimal.Decimal, candidates []decimal.Decimal, tolerance decimal.Decimal, size int, from int, picked []int) ([]int, bool) {
	if len(picked) == size {
		if withinTolerance(target, sum(candidates, picked), tolerance) {
			return append([]int(nil), picked...), true
		}
		return nil, false
	}
	for i := from; i <= len(candidates)-(size-len(picked)); i++ {
		if found, ok := search(target, candidates, tolerance, size, i+1, append(picked, i)); ok {
			return found, true
		}
	}
	return nil, false
}

func matched(target decimal.Decimal, candidates []decimal.Decimal, indices []int) Result {
	amounts := make([]decimal.Decimal, 0, len(indices))
	for _, index := range indices {
		amounts = append(amounts, candidates[index])
	}
	total := sum(candidates, indices)
	return Result{
		Matched:      true,
		Target:       target,
		Indices:      indices,
		Amounts:      amounts,
		Sum:          total,
		Difference:   target.Sub(total),
		Unreconciled: decimal.Zero,
	}
}

func sum(candidates []decimal.Decimal, indices []int) decimal.Decimal {
	total := decimal.Zero
	for _, index := range indices {
		total = total.Add(candidates[index])
	}
	return total
}

func withinTolerance(target decimal.Decimal, total decimal.Decimal, tolerance decimal.Decimal) bool {
	return target.Sub(total).Abs().LessThanOrEqual(tolerance)
}

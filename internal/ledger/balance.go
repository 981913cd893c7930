// Package ledger computes transaction balances and implements the
// transaction write operations that drive rule application.
package ledger

import (
	"sort"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/shopspring/decimal"
)

// Epsilon is the largest absolute imbalance still treated as balanced: one
// cent in the reference unit.
var Epsilon = decimal.New(1, -2)

// Fix describes the entry that, if added, zeroes an imbalance.
type Fix struct {
	Type   model.EntryType
	Amount decimal.Decimal
	Unit   string
}

// UnitTotals sums one unit's entries. Quantities are used when present,
// amounts otherwise.
type UnitTotals struct {
	Unit   string
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// Net returns debit minus credit for the unit.
func (u UnitTotals) Net() decimal.Decimal {
	return u.Debit.Sub(u.Credit)
}

// Balance is the result of ComputeBalance.
type Balance struct {
	SuggestedFix Fix
	Unit         string
	TotalDebit   decimal.Decimal
	TotalCredit  decimal.Decimal
	Imbalance    decimal.Decimal // TotalDebit - TotalCredit
	ByUnit       []UnitTotals    // sorted by unit
	IsBalanced   bool
}

// Calculator computes balances. BaseUnit names the reference unit used for
// the suggested fix of a transaction without entries.
type Calculator struct {
	BaseUnit string
}

// NewCalculator returns a calculator for the given reference unit.
func NewCalculator(baseUnit string) *Calculator {
	return &Calculator{BaseUnit: baseUnit}
}

// ComputeBalance totals a transaction's entries. Amounts are expressed in the
// reference unit, so the imbalance spans every entry; quantities of
// non-currency units only contribute to the per-unit breakdown.
func (c *Calculator) ComputeBalance(txn *model.Transaction) Balance {
	b := Balance{
		Unit:        c.referenceUnit(txn),
		TotalDebit:  decimal.Zero,
		TotalCredit: decimal.Zero,
	}

	units := make(map[string]*UnitTotals)
	for _, e := range txn.Entries {
		u, ok := units[e.Unit]
		if !ok {
			u = &UnitTotals{Unit: e.Unit, Debit: decimal.Zero, Credit: decimal.Zero}
			units[e.Unit] = u
		}

		value := e.Amount
		if e.Quantity != nil {
			value = *e.Quantity
		}

		switch e.Type {
		case model.Debit:
			b.TotalDebit = b.TotalDebit.Add(e.Amount)
			u.Debit = u.Debit.Add(value)
		case model.Credit:
			b.TotalCredit = b.TotalCredit.Add(e.Amount)
			u.Credit = u.Credit.Add(value)
		}
	}

	for _, u := range units {
		b.ByUnit = append(b.ByUnit, *u)
	}
	sort.Slice(b.ByUnit, func(i, j int) bool { return b.ByUnit[i].Unit < b.ByUnit[j].Unit })

	b.Imbalance = b.TotalDebit.Sub(b.TotalCredit)
	b.IsBalanced = IsBalanced(b.Imbalance)
	b.SuggestedFix = SuggestFix(b.Imbalance, b.Unit)
	return b
}

// IsBalanced reports whether an imbalance is within Epsilon of zero.
func IsBalanced(imbalance decimal.Decimal) bool {
	return imbalance.Abs().LessThan(Epsilon)
}

// SuggestFix returns the entry that zeroes the imbalance: a credit when debits
// exceed credits, a debit otherwise. A zero imbalance yields a zero debit.
func SuggestFix(imbalance decimal.Decimal, unit string) Fix {
	typ := model.Debit
	if imbalance.IsPositive() {
		typ = model.Credit
	}
	return Fix{Type: typ, Amount: imbalance.Abs(), Unit: unit}
}

// referenceUnit picks the unit of the first entry without a quantity, which
// carries a plain currency amount, falling back to the base unit.
func (c *Calculator) referenceUnit(txn *model.Transaction) string {
	for _, e := range txn.Entries {
		if e.Quantity == nil && e.Unit != "" {
			return e.Unit
		}
	}
	return c.BaseUnit
}

// Package matching decides which matured investments are paid by which
// immature investments. It performs no I/O; the pairing coordinator applies
// its plans against the ledger.
package matching

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/supergidii/Loans/models"
)

// planNamespace scopes plan ids so identical pool snapshots always yield the
// same plan id and intent keys.
var planNamespace = uuid.MustParse("6f1c2a4e-1d0b-4f53-9a57-3c8e5b2d7a10")

// Candidate is an investment as seen by the engine.
type Candidate struct {
	InvestmentID   uint
	InvestorID     uint
	Remaining      decimal.Decimal
	MaturationDate time.Time
	CreatedAt      time.Time
}

func CandidateFromInvestment(inv models.Investment) Candidate {
	return Candidate{
		InvestmentID:   inv.ID,
		InvestorID:     inv.InvestorID,
		Remaining:      inv.RemainingAmount,
		MaturationDate: inv.MaturationDate,
		CreatedAt:      inv.CreatedAt,
	}
}

func Candidates(invs []models.Investment) []Candidate {
	out := make([]Candidate, 0, len(invs))
	for _, inv := range invs {
		out = append(out, CandidateFromInvestment(inv))
	}
	return out
}

// PairingIntent moves Amount from the immature investment to the matured one.
type PairingIntent struct {
	Key                  string
	InvestorID           uint
	ImmatureInvestmentID uint
	MaturedInvestmentID  uint
	MaturedInvestorID    uint
	Amount               decimal.Decimal
}

// Projection is the expected state of an investment once the plan is applied.
type Projection struct {
	Remaining decimal.Decimal
	Paired    bool
}

type Plan struct {
	ID          string
	Intents     []PairingIntent
	Projections map[uint]Projection
}

// Total is the sum of all intent amounts.
func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, in := range p.Intents {
		total = total.Add(in.Amount)
	}
	return total
}

func (p Plan) Empty() bool {
	return len(p.Intents) == 0
}

// ComputePairings walks matured investments oldest maturation first and
// fills each from immature investments oldest creation first, never pairing
// an investor with themselves. Entries without a positive remainder are
// dropped before matching, as is any immature entry that also appears in the
// matured pool.
func ComputePairings(matured, immature []Candidate) Plan {
	m := eligible(matured, nil)
	seen := make(map[uint]struct{}, len(m))
	for _, c := range m {
		seen[c.InvestmentID] = struct{}{}
	}
	im := eligible(immature, seen)

	slices.SortStableFunc(m, func(a, b Candidate) int {
		if c := a.MaturationDate.Compare(b.MaturationDate); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.InvestmentID, b.InvestmentID)
	})
	slices.SortStableFunc(im, func(a, b Candidate) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.InvestmentID, b.InvestmentID)
	})

	plan := Plan{
		ID:          planID(m, im),
		Projections: make(map[uint]Projection),
	}

	left := make([]decimal.Decimal, len(im))
	for j := range im {
		left[j] = im[j].Remaining
	}

	for _, mc := range m {
		owed := mc.Remaining
		touched := false
		for j, ic := range im {
			if !owed.IsPositive() {
				break
			}
			if ic.InvestorID == mc.InvestorID || !left[j].IsPositive() {
				continue
			}
			amount := decimal.Min(owed, left[j])
			owed = owed.Sub(amount)
			left[j] = left[j].Sub(amount)
			touched = true

			plan.Intents = append(plan.Intents, PairingIntent{
				Key:                  fmt.Sprintf("%s/%d", plan.ID, len(plan.Intents)),
				InvestorID:           ic.InvestorID,
				ImmatureInvestmentID: ic.InvestmentID,
				MaturedInvestmentID:  mc.InvestmentID,
				MaturedInvestorID:    mc.InvestorID,
				Amount:               amount,
			})
			plan.Projections[ic.InvestmentID] = Projection{Remaining: left[j], Paired: left[j].IsZero()}
		}
		if touched {
			plan.Projections[mc.InvestmentID] = Projection{Remaining: owed, Paired: owed.IsZero()}
		}
	}

	return plan
}

func eligible(in []Candidate, exclude map[uint]struct{}) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if !c.Remaining.IsPositive() {
			continue
		}
		if _, skip := exclude[c.InvestmentID]; skip {
			continue
		}
		out = append(out, c)
	}
	return out
}

func planID(matured, immature []Candidate) string {
	var b strings.Builder
	for _, c := range matured {
		fmt.Fprintf(&b, "m%d:%d:%s;", c.InvestmentID, c.InvestorID, c.Remaining.StringFixed(2))
	}
	for _, c := range immature {
		fmt.Fprintf(&b, "i%d:%d:%s;", c.InvestmentID, c.InvestorID, c.Remaining.StringFixed(2))
	}
	return uuid.NewSHA1(planNamespace, []byte(b.String())).String()
}

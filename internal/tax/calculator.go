package tax

import "math"

// Report is the estimate for both regimes. Amounts are in rupees.
type Report struct {
	TotalIncome        float64 `json:"total_income"`
	TaxableIncomeOld   float64 `json:"taxable_income_old"`
	TaxableIncomeNew   float64 `json:"taxable_income_new"`
	TotalTaxOld        float64 `json:"total_tax_old"`
	TotalTaxNew        float64 `json:"total_tax_new"`
	TaxDueOrRefundOld  float64 `json:"tax_due_or_refund_old"`
	TaxDueOrRefundNew  float64 `json:"tax_due_or_refund_new"`
	InvestmentInsights string  `json:"investment_insights"`
}

type slab struct {
	above float64
	rate  float64
}

// Slabs are ordered from the top bracket down.
var (
	oldRegime = []slab{{1000000, 0.30}, {500000, 0.20}, {250000, 0.05}}
	newRegime = []slab{{1500000, 0.30}, {1200000, 0.20}, {900000, 0.15}, {600000, 0.10}, {300000, 0.05}}
)

const (
	rebateLimitOld = 500000
	rebateLimitNew = 700000
	cess           = 1.04
)

// Compute estimates liability under the old and new regimes. A positive
// due-or-refund is a refund, a negative one is tax still owed.
func Compute(in Input) Report {
	inc, ded, ex, paid := in.IncomeDetails, in.Deductions, in.Exemptions, in.TaxPaid

	total := or(inc.SalaryIncome, 0) + or(inc.RentalIncome, 0) + or(inc.InterestIncome, 0) + or(inc.OtherIncome, 0)
	exemptions := or(ex.HRAExemption, DefaultHRAExemption) +
		or(ex.LTAExemption, DefaultLTAExemption) +
		or(ex.OtherExemptions, DefaultOtherExemptions)
	deductions := or(ded.Section80C, DefaultSection80C) +
		or(ded.Section80D, DefaultSection80D) +
		or(ded.Section24B, DefaultSection24B) +
		or(ded.NPSContribution, DefaultNPSContribution)

	taxableOld := math.Max(total-exemptions-deductions, 0)
	taxableNew := math.Max(total-StandardDeductionNewTax, 0)

	taxOld := slabTax(taxableOld, oldRegime)
	taxNew := slabTax(taxableNew, newRegime)
	if taxableOld <= rebateLimitOld {
		taxOld = 0
	}
	if taxableNew <= rebateLimitNew {
		taxNew = 0
	}
	taxOld *= cess
	taxNew *= cess

	totalPaid := or(paid.TDS, 0) + or(paid.AdvanceTax, 0) + or(paid.SelfAssessmentTax, 0)

	return Report{
		TotalIncome:       total,
		TaxableIncomeOld:  taxableOld,
		TaxableIncomeNew:  taxableNew,
		TotalTaxOld:       round2(taxOld),
		TotalTaxNew:       round2(taxNew),
		TaxDueOrRefundOld: round2(totalPaid - taxOld),
		TaxDueOrRefundNew: round2(totalPaid - taxNew),
	}
}

func slabTax(income float64, slabs []slab) float64 {
	var tax float64
	for _, s := range slabs {
		if income > s.above {
			tax += (income - s.above) * s.rate
			income = s.above
		}
	}
	return tax
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

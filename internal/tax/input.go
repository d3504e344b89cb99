package tax

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// Default deduction and exemption amounts, applied only when a key is absent.
const (
	DefaultSection80C       = 150000
	DefaultSection80D       = 25000
	DefaultSection24B       = 200000
	DefaultNPSContribution  = 50000
	DefaultHRAExemption     = 100000
	DefaultLTAExemption     = 20000
	DefaultOtherExemptions  = 15000
	StandardDeductionNewTax = 50000
)

type IncomeDetails struct {
	SalaryIncome   *float64 `json:"salary_income,omitempty"`
	RentalIncome   *float64 `json:"rental_income,omitempty"`
	InterestIncome *float64 `json:"interest_income,omitempty"`
	OtherIncome    *float64 `json:"other_income,omitempty"`
}

type Deductions struct {
	Section80C      *float64 `json:"section_80C,omitempty"`
	Section80D      *float64 `json:"section_80D,omitempty"`
	Section24B      *float64 `json:"section_24B,omitempty"`
	NPSContribution *float64 `json:"nps_contribution,omitempty"`
}

type Exemptions struct {
	HRAExemption    *float64 `json:"hra_exemption,omitempty"`
	LTAExemption    *float64 `json:"lta_exemption,omitempty"`
	OtherExemptions *float64 `json:"other_exemptions,omitempty"`
}

type TaxPaid struct {
	TDS               *float64 `json:"tds,omitempty"`
	AdvanceTax        *float64 `json:"advance_tax,omitempty"`
	SelfAssessmentTax *float64 `json:"self_assessment_tax,omitempty"`
}

// Input is a user's declared income, deductions, exemptions and taxes paid.
type Input struct {
	IncomeDetails IncomeDetails `json:"income_details"`
	Deductions    Deductions    `json:"deductions"`
	Exemptions    Exemptions    `json:"exemptions"`
	TaxPaid       TaxPaid       `json:"tax_paid"`
}

// InvalidInputMessage is returned for an empty or malformed request.
const InvalidInputMessage = "Invalid input data"

// ParseInput decodes a request body. It returns the typed input and the raw
// object, which the advisor forwards verbatim to the model.
func ParseInput(body []byte) (Input, map[string]any, error) {
	var in Input
	if len(bytes.TrimSpace(body)) == 0 {
		return in, nil, common.NewAppError("INVALID_INPUT", InvalidInputMessage, common.ErrInvalidInput)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		return in, nil, common.NewAppError("INVALID_INPUT", InvalidInputMessage, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return in, nil, common.NewAppError("INVALID_INPUT", InvalidInputMessage, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
	}
	if err := in.Validate(); err != nil {
		return in, nil, err
	}
	return in, raw, nil
}

// Validate rejects negative amounts.
func (in Input) Validate() error {
	v := common.NewValidator()
	v.Field("salary_income", in.IncomeDetails.SalaryIncome, common.NonNegative).
		Field("rental_income", in.IncomeDetails.RentalIncome, common.NonNegative).
		Field("interest_income", in.IncomeDetails.InterestIncome, common.NonNegative).
		Field("other_income", in.IncomeDetails.OtherIncome, common.NonNegative).
		Field("section_80C", in.Deductions.Section80C, common.NonNegative).
		Field("section_80D", in.Deductions.Section80D, common.NonNegative).
		Field("section_24B", in.Deductions.Section24B, common.NonNegative).
		Field("nps_contribution", in.Deductions.NPSContribution, common.NonNegative).
		Field("hra_exemption", in.Exemptions.HRAExemption, common.NonNegative).
		Field("lta_exemption", in.Exemptions.LTAExemption, common.NonNegative).
		Field("other_exemptions", in.Exemptions.OtherExemptions, common.NonNegative).
		Field("tds", in.TaxPaid.TDS, common.NonNegative).
		Field("advance_tax", in.TaxPaid.AdvanceTax, common.NonNegative).
		Field("self_assessment_tax", in.TaxPaid.SelfAssessmentTax, common.NonNegative)
	return v.Error()
}

func or(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

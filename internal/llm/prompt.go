package llm

import (
	"strings"

	"github.com/joseph-ayodele/docextract/constants"
)

// FieldSpec is one requested output key and the hint shown next to it.
type FieldSpec struct {
	Name string
	Hint string
}

// Template is the data behind one document type's instruction text.
type Template struct {
	Role    string // "investment document parser"
	Focus   string // what to extract, e.g. "investment details"
	Purpose string // why the caller wants it
	Scope   string // optional suffix for the field list header
	Fields  []FieldSpec
}

var templates = map[constants.DocumentType]Template{
	constants.Investment: {
		Role:    "investment document parser",
		Focus:   "investment details",
		Purpose: "useful for financial records, tax deductions, or portfolio tracking",
		Scope:   " for each identified investment entry",
		Fields: []FieldSpec{
			{Name: "totalAmount"},
			{Name: "date", Hint: "in ISO format if possible"},
			{Name: "organization"},
			{Name: "documentNumber", Hint: "Transaction ID, Reference No., or Policy No."},
			{Name: "investmentType", Hint: "choose from: Stocks, Mutual Funds, Fixed Deposit, Bonds, Real Estate, Crypto, PPF, Other"},
			{Name: "paymentMethod", Hint: "optional: Cash, Card, Bank Transfer, UPI, etc."},
			{Name: "lockInPeriod", Hint: "if applicable"},
			{Name: "maturityDate", Hint: "if applicable"},
			{Name: "taxBenefits", Hint: "true/false based on investment type"},
		},
	},
	constants.Bills: {
		Role:    "bills and invoice parser",
		Focus:   "invoice details",
		Purpose: "useful for expense tracking and accounting",
		Fields: []FieldSpec{
			{Name: "totalAmount"},
			{Name: "date", Hint: "in ISO format if possible"},
			{Name: "vendor"},
			{Name: "invoiceNumber"},
			{Name: "itemDescription", Hint: "brief summary of what was purchased"},
			{Name: "category", Hint: "e.g., Utilities, Groceries, Entertainment, Medical, etc."},
			{Name: "paymentMethod", Hint: "if available"},
			{Name: "taxAmount", Hint: "if shown separately"},
		},
	},
	constants.Spending: {
		Role:    "salary/income document parser",
		Focus:   "salary/income details",
		Purpose: "useful for personal finance tracking",
		Fields: []FieldSpec{
			{Name: "grossAmount"},
			{Name: "netAmount"},
			{Name: "date", Hint: "in ISO format if possible"},
			{Name: "employer"},
			{Name: "employeeId", Hint: "if available"},
			{Name: "taxDeductions"},
			{Name: "otherDeductions", Hint: "if available"},
			{Name: "period", Hint: `e.g., "March 2025", "Q1 2025"`},
		},
	},
	constants.Salary: {
		Role:    "salary document parser",
		Focus:   "salary details",
		Purpose: "useful for income tax filing",
		Fields: []FieldSpec{
			{Name: "salaryIncome"},
			{Name: "date", Hint: "in ISO format"},
			{Name: "organization", Hint: "the concerned organization"},
			{Name: "documentNumber"},
			{Name: "paymentMethod", Hint: "Bank Transfer, Cash, Cheque, UPI, etc."},
			{Name: "hraExemption"},
			{Name: "itaExemption"},
			{Name: "tdsDeducted"},
		},
	},
	constants.Other: {
		Role:    "financial document parser",
		Focus:   "financial information",
		Purpose: "useful for accounting, tax filing, or financial records",
		Fields: []FieldSpec{
			{Name: "amount"},
			{Name: "date"},
			{Name: "payee/payer"},
			{Name: "description"},
			{Name: "documentType"},
			{Name: "referenceNumber"},
		},
	},
}

// TemplateFor resolves tag to its template. Unknown tags get the generic one.
func TemplateFor(tag string) (constants.DocumentType, Template) {
	dt, _ := constants.ParseDocumentType(tag)
	return dt, templates[dt]
}

// FieldNames lists the keys requested for tag, in template order.
func FieldNames(tag string) []string {
	_, t := TemplateFor(tag)
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// BuildPrompt fills the template selected by tag with the OCR transcript.
func BuildPrompt(transcript, tag string) string {
	_, t := TemplateFor(tag)

	var b strings.Builder
	b.WriteString("You are a " + t.Role + ". You are given:\n")
	b.WriteString("this is the OCR Extracted Text -> " + transcript +
		" along with it I have also uploaded the OCR extracted bounded box image.\n")
	b.WriteString("Use both inputs to extract *only relevant " + t.Focus + "* " + t.Purpose + ".\n")
	b.WriteString("Match labels with values accurately using bounding positions to eliminate OCR misalignment or duplicates.\n\n")

	b.WriteString("Extract the following fields" + t.Scope + ":\n")
	for _, f := range t.Fields {
		b.WriteString("- " + f.Name)
		if f.Hint != "" {
			b.WriteString(" (" + f.Hint + ")")
		}
		b.WriteString("\n")
	}

	parts := []string{
		"\nReturn the result as a single JSON object with these field names exactly as specified above.",
		"Do not include null or undefined values.",
		"Use ISO-8601 dates (YYYY-MM-DD) wherever a date can be determined.",
		"Format as valid JSON.",
	}
	b.WriteString(strings.Join(parts, "\n"))
	b.WriteString("\n")
	return b.String()
}

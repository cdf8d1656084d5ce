package redact

import "regexp"

type DataType string

// Category types expand to concrete detectors.
const (
	PII DataType = "pii"
	PHI DataType = "phi"
	PCI DataType = "pci"
)

const (
	SSN                 DataType = "ssn"
	CreditCard          DataType = "credit_card"
	BankAccount         DataType = "bank_account"
	Phone               DataType = "phone"
	Email               DataType = "email"
	DateOfBirth         DataType = "date_of_birth"
	MedicalRecordNumber DataType = "medical_record_number"
)

type detector struct {
	typ         DataType
	patterns    []*regexp.Regexp
	placeholder string
}

// detectors run in this order on every pass. Broad digit runs (bank
// accounts) go last so more specific shapes claim their matches first.
var detectors = []detector{
	{SSN, []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		regexp.MustCompile(`\b\d{9}\b`),
	}, "[SSN-REDACTED]"},
	{CreditCard, []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
		regexp.MustCompile(`\b\d{13,19}\b`),
	}, "[CARD-REDACTED]"},
	{Phone, []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		regexp.MustCompile(`\b\+?1?[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
	}, "[PHONE-REDACTED]"},
	{Email, []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	}, "[EMAIL-REDACTED]"},
	{DateOfBirth, []*regexp.Regexp{
		regexp.MustCompile(`\b(0[1-9]|1[0-2])[/-](0[1-9]|[12]\d|3[01])[/-]\d{4}\b`),
		regexp.MustCompile(`\b\d{4}[/-](0[1-9]|1[0-2])[/-](0[1-9]|[12]\d|3[01])\b`),
	}, "[DOB-REDACTED]"},
	{MedicalRecordNumber, []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Z]{2,4}\d{6,10}\b`),
		regexp.MustCompile(`(?i)\bMRN[-.\s]?\d{6,10}\b`),
	}, "[MRN-REDACTED]"},
	{BankAccount, []*regexp.Regexp{
		regexp.MustCompile(`\b\d{8,17}\b`),
	}, "[ACCOUNT-REDACTED]"},
}

var categories = map[DataType][]DataType{
	PII: {SSN, Phone, Email, DateOfBirth},
	PHI: {SSN, DateOfBirth, MedicalRecordNumber, Phone, Email},
	PCI: {CreditCard, BankAccount},
}

// categoryOrder fixes the order categories are reported in.
var categoryOrder = []DataType{PII, PHI, PCI}

// Expand resolves categories to concrete detectors. The result is a set in
// detector order; unknown names are dropped.
func Expand(types []DataType) []DataType {
	want := make(map[DataType]bool)
	for _, t := range types {
		if members, ok := categories[t]; ok {
			for _, m := range members {
				want[m] = true
			}
			continue
		}
		want[t] = true
	}
	var out []DataType
	for _, d := range detectors {
		if want[d.typ] {
			out = append(out, d.typ)
		}
	}
	return out
}

// IsCategory reports whether t is pii, phi or pci.
func IsCategory(t DataType) bool {
	_, ok := categories[t]
	return ok
}

// Placeholder returns the replacement token for a concrete type.
func Placeholder(t DataType) string {
	for _, d := range detectors {
		if d.typ == t {
			return d.placeholder
		}
	}
	return "[REDACTED]"
}

package models

import "time"

// CreditType names one of the three prepaid pools.
type CreditType string

const (
	CreditIndividual CreditType = "individual"
	CreditDuo        CreditType = "duo"
	CreditGroup      CreditType = "group"
)

// Valid reports whether the credit type names a known pool.
func (t CreditType) Valid() bool {
	switch t {
	case CreditIndividual, CreditDuo, CreditGroup:
		return true
	default:
		return false
	}
}

// Column maps the credit type to its students-table column. Callers must
// check Valid first; the mapping is used to build SQL.
func (t CreditType) Column() string {
	switch t {
	case CreditIndividual:
		return "individual_credits"
	case CreditDuo:
		return "duo_credits"
	case CreditGroup:
		return "group_credits"
	default:
		return ""
	}
}

// CreditSnapshot is the read model of a student's balances, returned to the
// UI after every mutation.
type CreditSnapshot struct {
	StudentID         string `json:"student_id"`
	IndividualCredits int    `json:"individual_credits"`
	DuoCredits        int    `json:"duo_credits"`
	GroupCredits      int    `json:"group_credits"`
	TotalCredits      int    `json:"total_credits"`
}

// LedgerEntry is one immutable row of the balance ledger. NewBalance is the
// pool balance snapshotted right after the change was applied, never
// recomputed later. Corrections are new entries, not edits.
type LedgerEntry struct {
	ID            string     `db:"id" json:"id"`
	StudentID     string     `db:"student_id" json:"student_id"`
	CreditType    CreditType `db:"credit_type" json:"credit_type"`
	ChangeAmount  int        `db:"change_amount" json:"change_amount"`
	NewBalance    int        `db:"new_balance" json:"new_balance"`
	Description   string     `db:"description" json:"description"`
	PaymentMethod *string    `db:"payment_method" json:"payment_method,omitempty"`
	AmountPaid    *float64   `db:"amount_paid" json:"amount_paid,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// LedgerFilter scopes ledger queries. From/To are UTC instants; the service
// layer converts studio-local calendar days into this window.
type LedgerFilter struct {
	StudentID string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// LedgerEntryRow joins the entry with the student's name for reporting.
type LedgerEntryRow struct {
	LedgerEntry
	StudentName string `db:"student_name" json:"student_name"`
}

// LowCreditStudent is a derived alerting row; nothing is stored.
type LowCreditStudent struct {
	StudentID         string `db:"id" json:"student_id"`
	Name              string `db:"name" json:"name"`
	Email             string `db:"email" json:"email"`
	Language          string `db:"language" json:"language"`
	IndividualCredits int    `db:"individual_credits" json:"individual_credits"`
	DuoCredits        int    `db:"duo_credits" json:"duo_credits"`
	GroupCredits      int    `db:"group_credits" json:"group_credits"`
	TotalCredits      int    `db:"total_credits" json:"total_credits"`
}

// PaymentSummaryRow aggregates recorded payments by method.
type PaymentSummaryRow struct {
	PaymentMethod string  `db:"payment_method" json:"payment_method"`
	Payments      int     `db:"payments" json:"payments"`
	TotalPaid     float64 `db:"total_paid" json:"total_paid"`
}

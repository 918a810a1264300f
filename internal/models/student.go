package models

import "time"

// Student is a studio member with three independent prepaid credit pools.
// The pool columns are written only by the credit mutation path; profile
// CRUD never touches them.
type Student struct {
	ID                string    `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Email             string    `db:"email" json:"email"`
	Phone             string    `db:"phone" json:"phone"`
	Language          string    `db:"language" json:"language"`
	Active            bool      `db:"active" json:"active"`
	IndividualCredits int       `db:"individual_credits" json:"individual_credits"`
	DuoCredits        int       `db:"duo_credits" json:"duo_credits"`
	GroupCredits      int       `db:"group_credits" json:"group_credits"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// TotalCredits sums all three pools. Negative pools count against the total.
func (s *Student) TotalCredits() int {
	return s.IndividualCredits + s.DuoCredits + s.GroupCredits
}

// CreditSnapshot returns the student's per-pool balances.
func (s *Student) CreditSnapshot() CreditSnapshot {
	return CreditSnapshot{
		StudentID:         s.ID,
		IndividualCredits: s.IndividualCredits,
		DuoCredits:        s.DuoCredits,
		GroupCredits:      s.GroupCredits,
		TotalCredits:      s.TotalCredits(),
	}
}

// StudentFilter scopes roster listing queries.
type StudentFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

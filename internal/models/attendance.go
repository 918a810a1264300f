package models

import "time"

// AttendanceStatus is the state of one (student, schedule, date) check-in.
// The absence of a row is the implicit pending state; a row is only written
// on the first real mark.
type AttendanceStatus string

const (
	AttendancePending         AttendanceStatus = "pending"
	AttendancePresent         AttendanceStatus = "present"
	AttendanceAbsentUnexcused AttendanceStatus = "absent_unnotified"
	AttendanceAbsentNotified  AttendanceStatus = "absent_notified"
)

// Valid reports whether the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePending, AttendancePresent, AttendanceAbsentUnexcused, AttendanceAbsentNotified:
		return true
	default:
		return false
	}
}

// ConsumesCredit reports whether marking this status debits one credit.
// Excused absences with advance notice keep the credit.
func (s AttendanceStatus) ConsumesCredit() bool {
	return s == AttendancePresent || s == AttendanceAbsentUnexcused
}

// AttendanceRecord is one check-in row. At most one row exists per
// (student_id, schedule_id, date); re-marking overwrites it.
type AttendanceRecord struct {
	ID         string           `db:"id" json:"id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	ScheduleID string           `db:"schedule_id" json:"schedule_id"`
	ClassID    string           `db:"class_id" json:"class_id"`
	Date       time.Time        `db:"date" json:"date"`
	Status     AttendanceStatus `db:"status" json:"status"`
	CreditType CreditType       `db:"credit_type" json:"credit_type"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceFilter scopes attendance listing queries.
type AttendanceFilter struct {
	StudentID  string
	ScheduleID string
	Status     *AttendanceStatus
	DateFrom   *time.Time
	DateTo     *time.Time
	Page       int
	PageSize   int
}

// AttendanceHistoryRow is one line of a student's attendance history.
type AttendanceHistoryRow struct {
	Date       time.Time        `db:"date" json:"date"`
	Status     AttendanceStatus `db:"status" json:"status"`
	CreditType CreditType       `db:"credit_type" json:"credit_type"`
	ClassName  string           `db:"class_name" json:"class_name"`
}

// AttendanceSummary aggregates a student's marks over a range.
type AttendanceSummary struct {
	StudentID   string  `json:"student_id"`
	StudentName string  `json:"student_name"`
	Held        int     `json:"classes_held"`
	Attended    int     `json:"classes_attended"`
	Percent     float64 `json:"attendance_pct"`
}

// RosterRow is one line of a class occurrence sheet: an enrolled student
// joined with any attendance row for that date. Students without a row show
// as pending.
type RosterRow struct {
	StudentID   string           `db:"student_id" json:"student_id"`
	StudentName string           `db:"student_name" json:"student_name"`
	Status      AttendanceStatus `db:"status" json:"status"`
	CreditType  *CreditType      `db:"credit_type" json:"credit_type,omitempty"`
}

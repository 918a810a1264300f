package models

import "time"

// Class is a studio class offering (individual, duo or group sessions).
type Class struct {
	ID        string     `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Kind      CreditType `db:"kind" json:"kind"`
	Capacity  int        `db:"capacity" json:"capacity"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// ClassSchedule is one weekly recurring slot of a class. A concrete class
// occurrence is never stored; it is derived from (schedule, calendar date).
type ClassSchedule struct {
	ID        string       `db:"id" json:"id"`
	ClassID   string       `db:"class_id" json:"class_id"`
	Weekday   time.Weekday `db:"weekday" json:"weekday"`
	StartTime string       `db:"start_time" json:"start_time"`
	EndTime   string       `db:"end_time" json:"end_time"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// OccursOn reports whether the schedule has an occurrence on the given date.
func (s *ClassSchedule) OccursOn(date time.Time) bool {
	return s.Weekday == date.Weekday()
}

// Enrollment ties a student to a recurring schedule slot.
type Enrollment struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	ScheduleID string    `db:"schedule_id" json:"schedule_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

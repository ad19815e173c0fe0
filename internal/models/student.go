package models

import (
	"fmt"
	"strings"
)

const (
	MinYearLevel = 7
	MaxYearLevel = 12
)

// Gender is the enumerated gender field of a student row.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// ParseGender normalises a raw cell value into the enumerated set.
func ParseGender(raw string) (Gender, bool) {
	switch Gender(strings.ToLower(strings.TrimSpace(raw))) {
	case GenderMale:
		return GenderMale, true
	case GenderFemale:
		return GenderFemale, true
	case GenderOther:
		return GenderOther, true
	default:
		return "", false
	}
}

// StudentRecord is one validated spreadsheet row. Records are immutable once
// constructed and discarded after their narrative is generated.
type StudentRecord struct {
	StudentName               string
	Year                      int
	Gender                    Gender
	AcademicPerformance       string
	ExtracurricularActivities string
	Other                     string
	SampleReport              string
}

// Validate checks field presence and domain constraints.
func (r StudentRecord) Validate() error {
	if strings.TrimSpace(r.StudentName) == "" {
		return fmt.Errorf("student_name is empty")
	}
	if r.Year < MinYearLevel || r.Year > MaxYearLevel {
		return fmt.Errorf("year %d outside valid range %d-%d", r.Year, MinYearLevel, MaxYearLevel)
	}
	if r.Gender != GenderMale && r.Gender != GenderFemale && r.Gender != GenderOther {
		return fmt.Errorf("gender %q not one of male/female/other", r.Gender)
	}
	for field, value := range map[string]string{
		"academic_performance":       r.AcademicPerformance,
		"extracurricular_activities": r.ExtracurricularActivities,
		"other":                      r.Other,
		"sample_report":              r.SampleReport,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s is empty", field)
		}
	}
	return nil
}

// SkippedRow records a spreadsheet row that failed validation, surfaced to the
// caller rather than silently dropped.
type SkippedRow struct {
	RowNumber int    `json:"row_number"`
	Reason    string `json:"reason"`
}

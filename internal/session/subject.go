// Package session holds the state a user builds up during one sitting: who
// the report is about, the reports themselves and the chat transcript.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/persona/internal/fault"
)

// DateLayout is the day.month.year form the analysis service expects.
const DateLayout = "02.01.2006"

// Gender of the subject.
type Gender string

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
)

// Code returns the single-letter code used on the wire.
func (g Gender) Code() string {
	if g == GenderMale {
		return "M"
	}
	return "F"
}

// ParseGender accepts female/male in any case as well as F/M.
func ParseGender(value string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "f", "female", "":
		return GenderFemale, nil
	case "m", "male":
		return GenderMale, nil
	default:
		return "", fmt.Errorf("gender must be female or male, got %q", value)
	}
}

// Subject identifies the person a report is generated for.
type Subject struct {
	Name        string
	DateOfBirth time.Time
	Gender      Gender
}

// Validate reports missing fields before any network call is made.
func (s Subject) Validate() error {
	var missing []string
	if strings.TrimSpace(s.Name) == "" {
		missing = append(missing, "name")
	}
	if s.DateOfBirth.IsZero() {
		missing = append(missing, "date of birth")
	}
	if len(missing) > 0 {
		return fault.Validation("analyze", fmt.Sprintf("%s required", strings.Join(missing, " and ")))
	}
	return nil
}

// BirthDate formats the date of birth for the service, or "" when unset.
func (s Subject) BirthDate() string {
	if s.DateOfBirth.IsZero() {
		return ""
	}
	return s.DateOfBirth.Format(DateLayout)
}

// ParseBirthDate accepts dd.mm.yyyy as well as yyyy-mm-dd.
func ParseBirthDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{DateLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date of birth must look like 17.05.2000 or 2000-05-17, got %q", value)
}

package booking

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
)

const maxNotesLength = 2000

// emailShape is deliberately loose: one @ with something on both sides and a
// dot in the domain. Deliverability is the mail layer's problem.
var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Submission is the transient booking form input. It is validated as a whole
// before anything is sent; no partial submission reaches the store.
type Submission struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	MeetingType model.MeetingType
	Notes       string
}

// Slot is a date plus a start time chosen from the available-slot listing.
type Slot struct {
	Date string // 2006-01-02
	Time string // 15:04
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid booking submission: %s", strings.Join(e.Fields, ", "))
}

func (s Submission) Validate() *ValidationError {
	var fields []string
	if strings.TrimSpace(s.FirstName) == "" {
		fields = append(fields, "firstName")
	}
	if strings.TrimSpace(s.LastName) == "" {
		fields = append(fields, "lastName")
	}
	if email := strings.TrimSpace(s.Email); email == "" || !emailShape.MatchString(email) {
		fields = append(fields, "email")
	}
	if strings.TrimSpace(s.PhoneNumber) == "" {
		fields = append(fields, "phoneNumber")
	}
	if !s.MeetingType.Valid() {
		fields = append(fields, "meetingType")
	}
	if len(s.Notes) > maxNotesLength {
		fields = append(fields, "notes")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// StartTime resolves the slot into an absolute UTC timestamp.
func (s Slot) StartTime() (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s.Date), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot date: %w", err)
	}
	clockTime, err := time.Parse("15:04", strings.TrimSpace(s.Time))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot time: %w", err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clockTime.Hour(), clockTime.Minute(), 0, 0, time.UTC), nil
}

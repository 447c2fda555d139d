package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidWorkloadEvent = errors.New("invalid workload event")

const dateLayout = "2006-01-02"

// ActionType tells the workload service whether to add or subtract the session.
type ActionType string

const (
	ActionAdd    ActionType = "ADD"
	ActionDelete ActionType = "DELETE"
)

func (a ActionType) Valid() bool {
	return a == ActionAdd || a == ActionDelete
}

// Date is a calendar date without a time zone. It encodes as YYYY-MM-DD.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Valid reports whether d names a real calendar date that survives encoding.
func (d Date) Valid() bool {
	if d.Year < 1 || d.Year > 9999 {
		return false
	}
	return DateOf(d.Time()) == d
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TrainerSnapshot is the trainer state copied into an event at the time it is built.
type TrainerSnapshot struct {
	Username  string
	FirstName string
	LastName  string
	Active    bool
}

// WorkloadChangeEvent is the payload sent to the trainer-workload service, over HTTP
// or the workload stream. It is a value: copies never share state with the entities
// it was built from.
type WorkloadChangeEvent struct {
	TrainerUsername  string     `json:"trainerUsername"`
	TrainerFirstName string     `json:"trainerFirstName"`
	TrainerLastName  string     `json:"trainerLastName"`
	TrainerActive    bool       `json:"isActive"`
	TrainingDate     Date       `json:"trainingDate"`
	TrainingDuration int        `json:"trainingDuration"`
	ActionType       ActionType `json:"actionType"`
}

func NewWorkloadChangeEvent(trainer TrainerSnapshot, date Date, durationMinutes int, action ActionType) (WorkloadChangeEvent, error) {
	event := WorkloadChangeEvent{
		TrainerUsername:  trainer.Username,
		TrainerFirstName: trainer.FirstName,
		TrainerLastName:  trainer.LastName,
		TrainerActive:    trainer.Active,
		TrainingDate:     date,
		TrainingDuration: durationMinutes,
		ActionType:       action,
	}
	if err := event.Validate(); err != nil {
		return WorkloadChangeEvent{}, err
	}
	return event, nil
}

func (e WorkloadChangeEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.TrainerUsername) == "":
		return fmt.Errorf("%w: trainerUsername is required", ErrInvalidWorkloadEvent)
	case e.TrainingDate.IsZero():
		return fmt.Errorf("%w: trainingDate is required", ErrInvalidWorkloadEvent)
	case !e.TrainingDate.Valid():
		return fmt.Errorf("%w: trainingDate %s is not a calendar date", ErrInvalidWorkloadEvent, e.TrainingDate)
	case e.TrainingDuration <= 0:
		return fmt.Errorf("%w: trainingDuration must be positive", ErrInvalidWorkloadEvent)
	case !e.ActionType.Valid():
		return fmt.Errorf("%w: unsupported actionType %q", ErrInvalidWorkloadEvent, e.ActionType)
	}
	return nil
}

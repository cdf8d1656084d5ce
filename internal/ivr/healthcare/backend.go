package healthcare

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

// Tool names callable during a live call.
const (
	ToolCheckAvailability  = "check_appointment_availability"
	ToolBookAppointment    = "book_appointment"
	ToolPrescriptionRefill = "process_prescription_refill"
	ToolLabResults         = "retrieve_lab_results"
)

// Tools lists the callable tool names.
var Tools = []string{ToolCheckAvailability, ToolBookAppointment, ToolPrescriptionRefill, ToolLabResults}

type AppointmentQuery struct {
	PatientID     string `json:"patient_id"`
	Department    string `json:"department,omitempty"`
	ProviderID    string `json:"provider_id,omitempty"`
	PreferredDate string `json:"preferred_date,omitempty"`
	PreferredTime string `json:"preferred_time,omitempty"`
}

type Slot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type Availability struct {
	Available     bool   `json:"available"`
	Slots         []Slot `json:"slots"`
	NextAvailable *Slot  `json:"next_available,omitempty"`
}

type Booking struct {
	Success            bool   `json:"success"`
	AppointmentID      string `json:"appointment_id"`
	ConfirmationNumber string `json:"confirmation_number"`
	Date               string `json:"date"`
	Time               string `json:"time"`
}

type Refill struct {
	Success   bool   `json:"success"`
	RefillID  string `json:"refill_id,omitempty"`
	ReadyDate string `json:"ready_date,omitempty"`
	Message   string `json:"message,omitempty"`
}

type LabResults struct {
	Success          bool   `json:"success"`
	ResultsAvailable bool   `json:"results_available"`
	Message          string `json:"message"`
}

// Backend is the practice-management system the tools reach.
type Backend interface {
	CheckAppointmentAvailability(ctx context.Context, q AppointmentQuery) (Availability, error)
	BookAppointment(ctx context.Context, q AppointmentQuery) (Booking, error)
	ProcessPrescriptionRefill(ctx context.Context, prescription, patientID string) (Refill, error)
	RetrieveLabResults(ctx context.Context, patientID, dateOfBirth string) (LabResults, error)
}

// StaticBackend answers from fixed data. It serves development and tests.
type StaticBackend struct {
	Slots []Slot
	Now   func() time.Time
}

func NewStaticBackend() *StaticBackend {
	return &StaticBackend{
		Slots: []Slot{
			{Date: "Tuesday, October 14th", Time: "10:30 AM"},
			{Date: "Wednesday, October 15th", Time: "2:00 PM"},
			{Date: "Thursday, October 16th", Time: "9:00 AM"},
		},
		Now: utcNow,
	}
}

func (b *StaticBackend) CheckAppointmentAvailability(_ context.Context, _ AppointmentQuery) (Availability, error) {
	out := Availability{Available: len(b.Slots) > 0, Slots: append([]Slot(nil), b.Slots...)}
	if out.Available {
		first := b.Slots[0]
		out.NextAvailable = &first
	}
	return out, nil
}

func (b *StaticBackend) BookAppointment(_ context.Context, q AppointmentQuery) (Booking, error) {
	if q.PatientID == "" {
		return Booking{}, fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	}
	now := b.Now()
	conf := types.NewID("conf", now)
	bk := Booking{
		Success:            true,
		AppointmentID:      types.NewID("apt", now),
		ConfirmationNumber: "CONF-" + strings.ToUpper(conf[len(conf)-9:]),
		Date:               q.PreferredDate,
		Time:               q.PreferredTime,
	}
	if len(b.Slots) > 0 {
		bk.Date = firstNonEmpty(bk.Date, b.Slots[0].Date)
		bk.Time = firstNonEmpty(bk.Time, b.Slots[0].Time)
	}
	return bk, nil
}

func (b *StaticBackend) ProcessPrescriptionRefill(_ context.Context, prescription, _ string) (Refill, error) {
	if prescription == "" {
		return Refill{Success: false, Message: "A prescription number is required."}, nil
	}
	now := b.Now()
	return Refill{
		Success:   true,
		RefillID:  types.NewID("ref", now),
		ReadyDate: now.Add(24 * time.Hour).Format("January 2, 2006"),
	}, nil
}

func (b *StaticBackend) RetrieveLabResults(_ context.Context, patientID, _ string) (LabResults, error) {
	if patientID == "" {
		return LabResults{}, fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	}
	return LabResults{
		Success:          true,
		ResultsAvailable: true,
		Message:          "Your lab results are available. For detailed results, please log in to your patient portal or speak with your healthcare provider.",
	}, nil
}

// Invoke dispatches a named tool call to the backend. Parameters are the
// string values collected during the call.
func Invoke(ctx context.Context, b Backend, tool string, params map[string]string) (any, error) {
	q := AppointmentQuery{
		PatientID:     params["patient_id"],
		Department:    params["department"],
		ProviderID:    params["provider_id"],
		PreferredDate: params["preferred_date"],
		PreferredTime: params["preferred_time"],
	}
	switch tool {
	case ToolCheckAvailability:
		return b.CheckAppointmentAvailability(ctx, q)
	case ToolBookAppointment:
		return b.BookAppointment(ctx, q)
	case ToolPrescriptionRefill:
		return b.ProcessPrescriptionRefill(ctx, params["prescription_number"], params["patient_id"])
	case ToolLabResults:
		return b.RetrieveLabResults(ctx, params["patient_id"], params["date_of_birth"])
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
}

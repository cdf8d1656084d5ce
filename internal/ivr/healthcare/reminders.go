package healthcare

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type ReminderType string

const (
	ReminderAppointment      ReminderType = "appointment"
	ReminderMedication       ReminderType = "medication"
	ReminderLabTest          ReminderType = "lab_test"
	ReminderFollowUp         ReminderType = "follow_up"
	ReminderMedicationRefill ReminderType = "medication_refill"
)

type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderConfirmed ReminderStatus = "confirmed"
	ReminderCancelled ReminderStatus = "cancelled"
	ReminderFailed    ReminderStatus = "failed"
)

type Reminder struct {
	ReminderID           string         `json:"reminder_id"`
	TenantID             string         `json:"tenant_id"`
	PatientID            string         `json:"patient_id"`
	Type                 ReminderType   `json:"reminder_type"`
	ScheduledAt          time.Time      `json:"scheduled_at"`
	Channels             []Channel      `json:"channels"`
	Message              string         `json:"message"`
	Status               ReminderStatus `json:"status"`
	AppointmentID        string         `json:"appointment_id,omitempty"`
	MedicationID         string         `json:"medication_id,omitempty"`
	ConfirmationRequired bool           `json:"confirmation_required"`
	ConfirmationDeadline *time.Time     `json:"confirmation_deadline,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	SentAt               *time.Time     `json:"sent_at,omitempty"`
	ConfirmedAt          *time.Time     `json:"confirmed_at,omitempty"`
	CancelledAt          *time.Time     `json:"cancelled_at,omitempty"`
}

type ReminderRequest struct {
	PatientID            string
	Type                 ReminderType
	ScheduledAt          time.Time
	Channels             []Channel
	Message              string
	AppointmentID        string
	MedicationID         string
	ConfirmationRequired bool
	ConfirmationDeadline *time.Time
}

// Template bodies use {name} placeholders filled from send variables.
type Template struct {
	Voice        string
	SMS          string
	EmailSubject string
	EmailBody    string
}

var reminderTemplates = map[ReminderType]Template{
	ReminderAppointment: {
		Voice:        "This is a reminder that you have an appointment with {provider} on {date} at {time}. Please reply 1 to confirm, or 2 to reschedule.",
		SMS:          "Reminder: You have an appointment with {provider} on {date} at {time}. Reply CONFIRM to confirm or RESCHEDULE to reschedule.",
		EmailSubject: "Appointment Reminder - {date} at {time}",
		EmailBody: "Dear Patient,\n\nThis is a reminder that you have an appointment scheduled:\n\n" +
			"Provider: {provider}\nDate: {date}\nTime: {time}\nLocation: {location}\n\n" +
			"Please arrive 15 minutes early. If you need to reschedule, please call us at {phoneNumber}.\n\nThank you.",
	},
	ReminderMedication: {
		Voice:        "This is a reminder to take your {medication} medication. Please reply 1 if you have taken it, or 2 if you have not.",
		SMS:          "Reminder: Time to take your {medication}. Reply TAKEN if you have taken it.",
		EmailSubject: "Medication Reminder - {medication}",
		EmailBody: "Dear Patient,\n\nThis is a reminder to take your medication:\n\n" +
			"Medication: {medication}\nDosage: {dosage}\nTime: {time}\n\n" +
			"If you have any questions or concerns, please contact your healthcare provider.\n\nThank you.",
	},
	ReminderLabTest: {
		Voice:        "This is a reminder that you have a lab test scheduled for {date} at {time}. Please fast for 12 hours before the test if required.",
		SMS:          "Reminder: Lab test scheduled for {date} at {time}. Fast for 12 hours if required.",
		EmailSubject: "Lab Test Reminder - {date}",
		EmailBody: "Dear Patient,\n\nThis is a reminder about your upcoming lab test:\n\n" +
			"Test: {testName}\nDate: {date}\nTime: {time}\nLocation: {location}\nFasting Required: {fastingRequired}\n\n" +
			"Please follow any pre-test instructions provided by your healthcare provider.\n\nThank you.",
	},
	ReminderFollowUp: {
		Voice:        "This is a reminder to schedule your follow-up visit with {provider}. Please reply 1 to be connected to scheduling.",
		SMS:          "Reminder: Please schedule your follow-up visit with {provider}.",
		EmailSubject: "Follow-up Reminder",
		EmailBody:    "Dear Patient,\n\nPlease schedule your follow-up visit with {provider}.\n\nThank you.",
	},
	ReminderMedicationRefill: {
		Voice:        "This is a reminder that your {medication} prescription is running low. Please reply 1 to request a refill, or 2 to speak with a pharmacist.",
		SMS:          "Reminder: Your {medication} prescription is running low. Reply REFILL to request a refill.",
		EmailSubject: "Medication Refill Reminder - {medication}",
		EmailBody: "Dear Patient,\n\nThis is a reminder that your prescription is running low:\n\n" +
			"Medication: {medication}\nRefills Remaining: {refillsRemaining}\n\n" +
			"To request a refill, please call your pharmacy or reply to this message.\n\nThank you.",
	},
}

// Fill replaces {name} placeholders. Unknown placeholders are left as-is.
func Fill(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Notification is one rendered message for one channel.
type Notification struct {
	Channel    Channel
	To         string
	Subject    string
	Body       string
	ReminderID string
}

// Notifier delivers rendered reminders (SMS gateway, mail relay, outbound
// dialer).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct{ Logger *slog.Logger }

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Info("reminder notification", "channel", string(n.Channel), "reminder_id", n.ReminderID, "subject", n.Subject)
	return nil
}

type ChannelFailure struct {
	Channel Channel `json:"channel"`
	Error   string  `json:"error"`
}

type SendResult struct {
	ReminderID           string           `json:"reminder_id"`
	ChannelsSent         []Channel        `json:"channels_sent"`
	ChannelsFailed       []ChannelFailure `json:"channels_failed"`
	ConfirmationRequired bool             `json:"confirmation_required"`
}

// Reminders schedules and sends patient reminders.
type Reminders struct {
	notifier Notifier
	rec      recorder
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	reminders map[string]*Reminder
}

func NewReminders(notifier Notifier, audit *service.AuditLog, logger *slog.Logger) *Reminders {
	return &Reminders{
		notifier:  notifier,
		rec:       recorder{audit: audit, logger: logger, service: "reminder"},
		logger:    logger,
		now:       utcNow,
		reminders: make(map[string]*Reminder),
	}
}

// Schedule stores a pending reminder.
func (r *Reminders) Schedule(ctx context.Context, tenantID string, req ReminderRequest) (Reminder, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(req.PatientID) == "" {
		return Reminder{}, fmt.Errorf("%w: tenant and patient are required", ErrInvalidRequest)
	}
	if _, ok := reminderTemplates[req.Type]; !ok {
		return Reminder{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, req.Type)
	}
	if len(req.Channels) == 0 {
		req.Channels = []Channel{ChannelSMS}
	}
	now := r.now()
	rem := &Reminder{
		ReminderID:           types.NewID("rem", now),
		TenantID:             tenantID,
		PatientID:            req.PatientID,
		Type:                 req.Type,
		ScheduledAt:          req.ScheduledAt.UTC(),
		Channels:             append([]Channel(nil), req.Channels...),
		Message:              req.Message,
		Status:               ReminderPending,
		AppointmentID:        req.AppointmentID,
		MedicationID:         req.MedicationID,
		ConfirmationRequired: req.ConfirmationRequired,
		ConfirmationDeadline: req.ConfirmationDeadline,
		CreatedAt:            now,
	}
	r.mu.Lock()
	r.reminders[rem.ReminderID] = rem
	out := *rem
	r.mu.Unlock()

	r.rec.record(ctx, tenantID, rem.ReminderID, types.EventDataAccess, map[string]any{
		"action":        "reminder_scheduled",
		"reminder_type": string(rem.Type),
		"patient_id":    rem.PatientID,
		"scheduled_at":  rem.ScheduledAt.Format(time.RFC3339),
		"channels":      channelNames(rem.Channels),
	}, map[string]any{"reminder_id": rem.ReminderID})
	return out, nil
}

// Send renders the reminder's template for each channel and hands it to the
// notifier. The reminder is sent when at least one channel succeeded and
// failed otherwise. vars may carry phoneNumber and email destinations; the
// patient id is used when they are absent.
func (r *Reminders) Send(ctx context.Context, reminderID string, vars map[string]string) (SendResult, error) {
	r.mu.Lock()
	rem, ok := r.reminders[reminderID]
	if !ok {
		r.mu.Unlock()
		return SendResult{}, fmt.Errorf("%w: %s", ErrReminderNotFound, reminderID)
	}
	if rem.Status == ReminderCancelled {
		r.mu.Unlock()
		return SendResult{}, fmt.Errorf("%w: %s", ErrReminderCancelled, reminderID)
	}
	snapshot := *rem
	r.mu.Unlock()

	tpl := reminderTemplates[snapshot.Type]
	res := SendResult{
		ReminderID:           reminderID,
		ChannelsSent:         []Channel{},
		ChannelsFailed:       []ChannelFailure{},
		ConfirmationRequired: snapshot.ConfirmationRequired,
	}
	for _, ch := range snapshot.Channels {
		n := Notification{Channel: ch, ReminderID: reminderID}
		switch ch {
		case ChannelSMS:
			n.To = firstNonEmpty(vars["phoneNumber"], snapshot.PatientID)
			n.Body = Fill(tpl.SMS, vars)
		case ChannelVoice:
			n.To = firstNonEmpty(vars["phoneNumber"], snapshot.PatientID)
			n.Body = Fill(tpl.Voice, vars)
		case ChannelEmail:
			n.To = firstNonEmpty(vars["email"], snapshot.PatientID)
			n.Subject = Fill(tpl.EmailSubject, vars)
			n.Body = Fill(tpl.EmailBody, vars)
		}
		var err error
		if r.notifier == nil {
			err = fmt.Errorf("no notifier configured")
		} else {
			err = r.notifier.Notify(ctx, n)
		}
		if err != nil {
			r.logger.Warn("reminder channel failed", "reminder_id", reminderID, "channel", string(ch), "error", err)
			res.ChannelsFailed = append(res.ChannelsFailed, ChannelFailure{Channel: ch, Error: err.Error()})
			continue
		}
		res.ChannelsSent = append(res.ChannelsSent, ch)
	}

	r.mu.Lock()
	if len(res.ChannelsSent) > 0 {
		now := r.now()
		rem.Status = ReminderSent
		rem.SentAt = &now
	} else {
		rem.Status = ReminderFailed
	}
	r.mu.Unlock()

	r.rec.record(ctx, snapshot.TenantID, reminderID, types.EventDataAccess, map[string]any{
		"action":          "reminder_sent",
		"reminder_id":     reminderID,
		"channels_sent":   channelNames(res.ChannelsSent),
		"channels_failed": len(res.ChannelsFailed),
	}, nil)
	return res, nil
}

func (r *Reminders) Confirm(ctx context.Context, reminderID, confirmedBy string) (Reminder, error) {
	return r.transition(ctx, reminderID, ReminderConfirmed, "reminder_confirmed", map[string]any{"confirmed_by": confirmedBy})
}

func (r *Reminders) Cancel(ctx context.Context, reminderID, reason string) (Reminder, error) {
	return r.transition(ctx, reminderID, ReminderCancelled, "reminder_cancelled", map[string]any{"reason": reason})
}

func (r *Reminders) transition(ctx context.Context, reminderID string, to ReminderStatus, action string, data map[string]any) (Reminder, error) {
	r.mu.Lock()
	rem, ok := r.reminders[reminderID]
	if !ok {
		r.mu.Unlock()
		return Reminder{}, fmt.Errorf("%w: %s", ErrReminderNotFound, reminderID)
	}
	now := r.now()
	rem.Status = to
	switch to {
	case ReminderConfirmed:
		rem.ConfirmedAt = &now
	case ReminderCancelled:
		rem.CancelledAt = &now
	}
	out := *rem
	r.mu.Unlock()

	data["action"] = action
	data["reminder_id"] = reminderID
	r.rec.record(ctx, out.TenantID, reminderID, types.EventDataAccess, data, nil)
	return out, nil
}

func (r *Reminders) Get(reminderID string) (Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rem, ok := r.reminders[reminderID]
	if !ok {
		return Reminder{}, fmt.Errorf("%w: %s", ErrReminderNotFound, reminderID)
	}
	return *rem, nil
}

// Pending returns reminders still pending whose time has come, earliest
// first.
func (r *Reminders) Pending(now time.Time) []Reminder {
	return r.filter(func(rem *Reminder) bool {
		return rem.Status == ReminderPending && !rem.ScheduledAt.After(now)
	})
}

func (r *Reminders) ForPatient(patientID string) []Reminder {
	return r.filter(func(rem *Reminder) bool { return rem.PatientID == patientID })
}

func (r *Reminders) filter(keep func(*Reminder) bool) []Reminder {
	r.mu.Lock()
	var out []Reminder
	for _, rem := range r.reminders {
		if keep(rem) {
			out = append(out, *rem)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

// Appointment describes the visit an appointment reminder points at.
type Appointment struct {
	AppointmentID string
	At            time.Time
	Provider      string
	Location      string
	PhoneNumber   string
	Email         string
}

// ScheduleAppointmentReminder schedules a reminder 24 hours before the
// appointment that must be confirmed up to 2 hours before it. A reminder
// whose time has already passed is sent immediately.
func (r *Reminders) ScheduleAppointmentReminder(ctx context.Context, tenantID, patientID string, appt Appointment, channels ...Channel) (Reminder, error) {
	if len(channels) == 0 {
		channels = []Channel{ChannelSMS, ChannelEmail}
	}
	deadline := appt.At.Add(-2 * time.Hour).UTC()
	rem, err := r.Schedule(ctx, tenantID, ReminderRequest{
		PatientID:            patientID,
		Type:                 ReminderAppointment,
		ScheduledAt:          appt.At.Add(-24 * time.Hour),
		Channels:             channels,
		Message:              "Appointment reminder for " + appt.At.Format("January 2, 2006 3:04 PM"),
		AppointmentID:        appt.AppointmentID,
		ConfirmationRequired: true,
		ConfirmationDeadline: &deadline,
	})
	if err != nil {
		return Reminder{}, err
	}
	if !rem.ScheduledAt.After(r.now()) {
		if _, err := r.Send(ctx, rem.ReminderID, map[string]string{
			"provider":    appt.Provider,
			"date":        appt.At.Format("Monday, January 2"),
			"time":        appt.At.Format("3:04 PM"),
			"location":    appt.Location,
			"phoneNumber": appt.PhoneNumber,
			"email":       appt.Email,
		}); err != nil {
			return Reminder{}, err
		}
		return r.Get(rem.ReminderID)
	}
	return rem, nil
}

// ScheduleMedicationReminder schedules a dose reminder at the given time,
// sending it immediately when that time has passed.
func (r *Reminders) ScheduleMedicationReminder(ctx context.Context, tenantID, patientID, medicationID, medication, dosage string, at time.Time, phoneNumber string, channels ...Channel) (Reminder, error) {
	if len(channels) == 0 {
		channels = []Channel{ChannelSMS}
	}
	rem, err := r.Schedule(ctx, tenantID, ReminderRequest{
		PatientID:    patientID,
		Type:         ReminderMedication,
		ScheduledAt:  at,
		Channels:     channels,
		Message:      "Medication reminder: " + medication,
		MedicationID: medicationID,
	})
	if err != nil {
		return Reminder{}, err
	}
	if !rem.ScheduledAt.After(r.now()) {
		if _, err := r.Send(ctx, rem.ReminderID, map[string]string{
			"medication":  medication,
			"dosage":      dosage,
			"time":        at.Format("3:04 PM"),
			"phoneNumber": phoneNumber,
		}); err != nil {
			return Reminder{}, err
		}
		return r.Get(rem.ReminderID)
	}
	return rem, nil
}

// SendDue sends every pending reminder whose time has come and returns how
// many were handed to the notifier.
func (r *Reminders) SendDue(ctx context.Context) int {
	sent := 0
	for _, rem := range r.Pending(r.now()) {
		res, err := r.Send(ctx, rem.ReminderID, nil)
		if err != nil {
			r.logger.Warn("send due reminder", "reminder_id", rem.ReminderID, "error", err)
			continue
		}
		if len(res.ChannelsSent) > 0 {
			sent++
		}
	}
	return sent
}

func channelNames(chs []Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = string(c)
	}
	return out
}

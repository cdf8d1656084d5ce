package healthcare

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tetrixcorps/compliantivr/internal/ivr/service"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

type NoteType string

const (
	NoteIntake           NoteType = "intake"
	NoteTriage           NoteType = "triage"
	NoteFollowUp         NoteType = "follow_up"
	NoteMedicationReview NoteType = "medication_review"
	NoteChronicCare      NoteType = "chronic_care"
	NoteSideEffect       NoteType = "side_effect"
	NoteGeneral          NoteType = "general"
)

// NoteData is the structured content captured during a call.
type NoteData struct {
	ChiefComplaint string            `json:"chief_complaint,omitempty"`
	VitalSigns     map[string]string `json:"vital_signs,omitempty"`
	Medications    []string          `json:"medications,omitempty"`
	Allergies      []string          `json:"allergies,omitempty"`
	Symptoms       []string          `json:"symptoms,omitempty"`
	Assessment     string            `json:"assessment,omitempty"`
	Plan           string            `json:"plan,omitempty"`
	TriageSeverity Severity          `json:"triage_severity,omitempty"`
	RedFlags       []string          `json:"red_flags,omitempty"`
	Transcription  string            `json:"transcription,omitempty"`
}

type Note struct {
	PatientID   string    `json:"patient_id"`
	EncounterID string    `json:"encounter_id,omitempty"`
	Type        NoteType  `json:"note_type"`
	Data        NoteData  `json:"data"`
	Timestamp   time.Time `json:"timestamp"`
	ProviderID  string    `json:"provider_id,omitempty"`
}

// FHIR Composition subset written to the EHR.

type Coding struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding"`
}

type Reference struct {
	Reference string `json:"reference"`
}

type Narrative struct {
	Status string `json:"status"`
	Div    string `json:"div"`
}

type Section struct {
	Title string           `json:"title"`
	Code  *CodeableConcept `json:"code,omitempty"`
	Text  Narrative        `json:"text"`
}

type Composition struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id,omitempty"`
	Status       string          `json:"status"`
	Type         CodeableConcept `json:"type"`
	Subject      Reference       `json:"subject"`
	Encounter    *Reference      `json:"encounter,omitempty"`
	Author       []Reference     `json:"author"`
	Date         string          `json:"date"`
	Title        string          `json:"title"`
	Section      []Section       `json:"section"`
}

const loinc = "http://loinc.org"

var noteCodes = map[NoteType]Coding{
	NoteIntake:           {loinc, "51855-5", "Patient intake note"},
	NoteTriage:           {loinc, "51847-2", "Triage note"},
	NoteFollowUp:         {loinc, "11506-3", "Progress note"},
	NoteMedicationReview: {loinc, "10160-0", "Medication review"},
	NoteChronicCare:      {loinc, "51848-0", "Chronic care management note"},
	NoteSideEffect:       {loinc, "10160-0", "Medication review"},
	NoteGeneral:          {loinc, "11506-3", "Clinical note"},
}

func xhtml(inner string) string {
	return `<div xmlns="http://www.w3.org/1999/xhtml">` + inner + `</div>`
}

func section(title string, code *Coding, inner string) Section {
	s := Section{Title: title, Text: Narrative{Status: "generated", Div: xhtml(inner)}}
	if code != nil {
		s.Code = &CodeableConcept{Coding: []Coding{*code}}
	}
	return s
}

func paragraphs(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("<p>" + html.EscapeString(it) + "</p>")
	}
	return b.String()
}

// BuildComposition renders a note as a preliminary FHIR Composition. All
// free text is HTML-escaped inside the narrative divs.
func BuildComposition(n Note) Composition {
	var sections []Section
	d := n.Data
	if d.ChiefComplaint != "" {
		sections = append(sections, section("Chief Complaint",
			&Coding{loinc, "10154-3", "Chief complaint"}, html.EscapeString(d.ChiefComplaint)))
	}
	if len(d.VitalSigns) > 0 {
		keys := make([]string, 0, len(d.VitalSigns))
		for k := range d.VitalSigns {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			b.WriteString("<p><strong>" + html.EscapeString(k) + ":</strong> " + html.EscapeString(d.VitalSigns[k]) + "</p>")
		}
		sections = append(sections, section("Vital Signs", &Coding{loinc, "8716-3", "Vital signs"}, b.String()))
	}
	if len(d.Medications) > 0 {
		sections = append(sections, section("Current Medications",
			&Coding{loinc, "10160-0", "History of medication use"}, paragraphs(d.Medications)))
	}
	if len(d.Allergies) > 0 {
		sections = append(sections, section("Allergies",
			&Coding{loinc, "48765-2", "Allergies and adverse reactions"}, paragraphs(d.Allergies)))
	}
	if len(d.Symptoms) > 0 || len(d.RedFlags) > 0 {
		inner := paragraphs(d.Symptoms)
		if len(d.RedFlags) > 0 {
			inner += "<p><strong>Red flags:</strong> " + html.EscapeString(strings.Join(d.RedFlags, "; ")) + "</p>"
		}
		if d.TriageSeverity != "" {
			inner += "<p><strong>Severity:</strong> " + html.EscapeString(string(d.TriageSeverity)) + "</p>"
		}
		sections = append(sections, section("Symptoms", &Coding{loinc, "11450-4", "Problem list"}, inner))
	}
	if d.Assessment != "" || d.Plan != "" {
		var inner string
		if d.Assessment != "" {
			inner += "<p><strong>Assessment:</strong> " + html.EscapeString(d.Assessment) + "</p>"
		}
		if d.Plan != "" {
			inner += "<p><strong>Plan:</strong> " + html.EscapeString(d.Plan) + "</p>"
		}
		sections = append(sections, section("Assessment and Plan",
			&Coding{loinc, "51848-0", "Assessment and plan"}, inner))
	}
	if d.Transcription != "" {
		sections = append(sections, section("Full Transcript", nil, "<p>"+html.EscapeString(d.Transcription)+"</p>"))
	}

	code, ok := noteCodes[n.Type]
	if !ok {
		code = noteCodes[NoteGeneral]
	}
	author := "Device/" + systemAuthor
	if n.ProviderID != "" {
		author = "Practitioner/" + n.ProviderID
	}
	c := Composition{
		ResourceType: "Composition",
		Status:       "preliminary",
		Type:         CodeableConcept{Coding: []Coding{code}},
		Subject:      Reference{Reference: "Patient/" + n.PatientID},
		Author:       []Reference{{Reference: author}},
		Date:         n.Timestamp.UTC().Format(time.RFC3339),
		Title:        cases.Title(language.English).String(strings.ReplaceAll(string(n.Type), "_", " ")) + " Note - Voice AI",
		Section:      sections,
	}
	if n.EncounterID != "" {
		c.Encounter = &Reference{Reference: "Encounter/" + n.EncounterID}
	}
	return c
}

// EHRWriter persists compositions in the record system and returns the id
// the EHR assigned.
type EHRWriter interface {
	Submit(ctx context.Context, tenantID string, c Composition) (string, error)
}

// MemoryEHR keeps submitted compositions in memory.
type MemoryEHR struct {
	mu   sync.Mutex
	docs map[string]Composition
	ids  []string
}

func NewMemoryEHR() *MemoryEHR {
	return &MemoryEHR{docs: make(map[string]Composition)}
}

func (m *MemoryEHR) Submit(_ context.Context, _ string, c Composition) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := types.NewID("note", time.Now())
	c.ID = id
	m.docs[id] = c
	m.ids = append(m.ids, id)
	return id, nil
}

func (m *MemoryEHR) Get(id string) (Composition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.docs[id]
	return c, ok
}

// ForPatient returns the patient's compositions in submission order.
func (m *MemoryEHR) ForPatient(patientID string) []Composition {
	m.mu.Lock()
	defer m.mu.Unlock()
	subject := "Patient/" + patientID
	var out []Composition
	for _, id := range m.ids {
		if c := m.docs[id]; c.Subject.Reference == subject {
			out = append(out, c)
		}
	}
	return out
}

type DocumentResult struct {
	Success     bool   `json:"success"`
	NoteID      string `json:"note_id"`
	EncounterID string `json:"encounter_id,omitempty"`
}

// EHR turns conversational data into clinical notes and hands them to the
// configured writer.
type EHR struct {
	writer EHRWriter
	rec    recorder
	now    func() time.Time
}

// NewEHR wires the documentation service. A nil writer makes every
// DocumentToEHR call fail with ErrEHRNotConfigured.
func NewEHR(writer EHRWriter, audit *service.AuditLog, logger *slog.Logger) *EHR {
	return &EHR{
		writer: writer,
		rec:    recorder{audit: audit, logger: logger, service: "ehr_documentation"},
		now:    utcNow,
	}
}

func (e *EHR) CreateStructuredNote(patientID string, typ NoteType, data NoteData, encounterID, providerID string) Note {
	data.Medications = slices.Clone(data.Medications)
	data.Symptoms = slices.Clone(data.Symptoms)
	return Note{
		PatientID:   patientID,
		EncounterID: encounterID,
		Type:        typ,
		Data:        data,
		Timestamp:   e.now(),
		ProviderID:  providerID,
	}
}

// DocumentToEHR submits the note. Success is audited as data.access, failure
// as error.occurred before the error is returned.
func (e *EHR) DocumentToEHR(ctx context.Context, tenantID string, n Note) (DocumentResult, error) {
	var (
		id  string
		err error
	)
	if e.writer == nil {
		err = ErrEHRNotConfigured
	} else {
		id, err = e.writer.Submit(ctx, tenantID, BuildComposition(n))
	}
	if err != nil {
		e.rec.record(ctx, tenantID, n.EncounterID, types.EventErrorOccurred, map[string]any{
			"error":         "ehr_documentation_failed",
			"patient_id":    n.PatientID,
			"note_type":     string(n.Type),
			"error_message": err.Error(),
		}, nil)
		return DocumentResult{}, fmt.Errorf("document %s note: %w", n.Type, err)
	}
	e.rec.record(ctx, tenantID, n.EncounterID, types.EventDataAccess, map[string]any{
		"action":      "ehr_documentation",
		"patient_id":  n.PatientID,
		"note_type":   string(n.Type),
		"resource_id": id,
	}, nil)
	return DocumentResult{Success: true, NoteID: id, EncounterID: n.EncounterID}, nil
}

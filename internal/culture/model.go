package culture

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event types every deployment starts with. Labs may add their own through the
// reference catalogs; the suggestion table below only knows these.
const (
	EventTypeObservation      = "Observation"
	EventTypeMediaChange      = "Media Change"
	EventTypeSplit            = "Split"
	EventTypeThawing          = "Thawing"
	EventTypeCryopreservation = "Cryopreservation"
	EventTypeOther            = "Other"
)

const dateLayout = "2006-01-02"

var (
	// ErrInvalidDate indicates a calendar date that is blank or not YYYY-MM-DD.
	ErrInvalidDate = errors.New("culture: invalid date")
	// ErrInvalidEntryID indicates a non-positive entry identifier.
	ErrInvalidEntryID = errors.New("culture: invalid entry id")
	// ErrEntryNotFound indicates the referenced log entry does not exist.
	ErrEntryNotFound = errors.New("culture: entry not found")
	// ErrFieldNotPatchable indicates a patch touching an unknown or immutable column.
	ErrFieldNotPatchable = errors.New("culture: field not patchable")
	// ErrInvalidPatchValue indicates a patch value whose type does not fit the column.
	ErrInvalidPatchValue = errors.New("culture: invalid patch value")
	// ErrColumnNotAllowed indicates a top-values request for a column outside the allow list.
	ErrColumnNotAllowed = errors.New("culture: column not allowed")
	// ErrNoBlobStore indicates an attachment operation without a configured blob store.
	ErrNoBlobStore = errors.New("culture: blob store not configured")
	// ErrNoAttachment indicates the entry has no stored image.
	ErrNoAttachment = errors.New("culture: entry has no attachment")
)

// EventDate is a validated calendar date in YYYY-MM-DD form. Lexicographic
// order equals chronological order, which the query layer relies on.
type EventDate string

// NewEventDate validates raw input and returns an EventDate.
func NewEventDate(rawInput string) (EventDate, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDate)
	}
	parsed, err := time.Parse(dateLayout, trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, trimmed)
	}
	return EventDate(parsed.Format(dateLayout)), nil
}

// DateOf truncates a wall-clock time to its calendar date.
func DateOf(value time.Time) EventDate {
	return EventDate(value.Format(dateLayout))
}

// String returns the YYYY-MM-DD representation.
func (d EventDate) String() string {
	return string(d)
}

// Compact returns the date without separators, e.g. 20240301.
func (d EventDate) Compact() string {
	return strings.ReplaceAll(string(d), "-", "")
}

// LogEntry is one recorded culture event. Rows are append-mostly: identity
// fields (id, created_by, created_at) never change after insert, everything
// else is reachable through the patch layer.
type LogEntry struct {
	ID                  int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Date                EventDate  `gorm:"column:date;size:10;not null;index:idx_culture_logs_line_date,priority:2" json:"date"`
	CellLine            string     `gorm:"column:cell_line;size:190;not null;index:idx_culture_logs_line_date,priority:1" json:"cell_line"`
	EventType           string     `gorm:"column:event_type;size:64;not null;index" json:"event_type"`
	Passage             *int       `gorm:"column:passage" json:"passage,omitempty"`
	Vessel              string     `gorm:"column:vessel;size:190;not null" json:"vessel"`
	Location            string     `gorm:"column:location;size:190;not null" json:"location"`
	Medium              string     `gorm:"column:medium;size:190;not null" json:"medium"`
	CellType            string     `gorm:"column:cell_type;size:190;not null" json:"cell_type"`
	Volume              *float64   `gorm:"column:volume" json:"volume,omitempty"`
	Notes               string     `gorm:"column:notes;type:text" json:"notes,omitempty"`
	Operator            string     `gorm:"column:operator;size:190;not null" json:"operator"`
	ThawID              string     `gorm:"column:thaw_id;size:190;index" json:"thaw_id,omitempty"`
	CryoVialPosition    string     `gorm:"column:cryo_vial_position;size:190" json:"cryo_vial_position,omitempty"`
	CryoStoragePosition string     `gorm:"column:cryo_storage_position;size:190" json:"cryo_storage_position,omitempty"`
	AttachmentKey       string     `gorm:"column:attachment_key;size:512" json:"attachment_key,omitempty"`
	AssignedTo          string     `gorm:"column:assigned_to;size:190" json:"assigned_to,omitempty"`
	NextActionDate      *EventDate `gorm:"column:next_action_date;size:10" json:"next_action_date,omitempty"`
	CreatedBy           string     `gorm:"column:created_by;size:190;not null" json:"created_by"`
	CreatedAt           time.Time  `gorm:"column:created_at;not null;index" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (LogEntry) TableName() string {
	return "culture_logs"
}

// Done reports whether the entry carries no follow-up work.
func (e LogEntry) Done() bool {
	return e.NextActionDate == nil || strings.TrimSpace(string(*e.NextActionDate)) == ""
}

// EntryRevision captures an append-only audit trail for patched entries.
// FieldsJSON holds the applied column delta exactly as written.
type EntryRevision struct {
	RevisionID string    `gorm:"column:revision_id;primaryKey;size:190;not null" json:"revision_id"`
	EntryID    int64     `gorm:"column:entry_id;not null;index:idx_log_revisions_entry,priority:1" json:"entry_id"`
	FieldsJSON string    `gorm:"column:fields_json;type:text;not null" json:"fields_json"`
	EditedBy   string    `gorm:"column:edited_by;size:190" json:"edited_by"`
	AppliedAt  time.Time `gorm:"column:applied_at;not null;index:idx_log_revisions_entry,priority:2" json:"applied_at"`
}

// TableName provides the explicit table binding for GORM.
func (EntryRevision) TableName() string {
	return "culture_log_revisions"
}

// Submission is the validated write shape for new log entries. Field names in
// validation failures follow the json tags.
type Submission struct {
	Date                EventDate  `json:"date" validate:"required"`
	CellLine            string     `json:"cell_line" validate:"required"`
	EventType           string     `json:"event_type" validate:"required"`
	Passage             *int       `json:"passage,omitempty" validate:"omitempty,gte=0"`
	Vessel              string     `json:"vessel" validate:"required"`
	Location            string     `json:"location" validate:"required"`
	Medium              string     `json:"medium" validate:"required"`
	CellType            string     `json:"cell_type" validate:"required"`
	Volume              *float64   `json:"volume,omitempty" validate:"omitempty,gte=0"`
	Notes               string     `json:"notes,omitempty"`
	Operator            string     `json:"operator" validate:"required"`
	ThawID              string     `json:"thaw_id,omitempty"`
	CryoVialPosition    string     `json:"cryo_vial_position,omitempty"`
	CryoStoragePosition string     `json:"cryo_storage_position,omitempty"`
	AssignedTo          string     `json:"assigned_to,omitempty"`
	NextActionDate      *EventDate `json:"next_action_date,omitempty"`
	CreatedBy           string     `json:"created_by" validate:"required"`
}

func (s Submission) normalized() Submission {
	s.Date = EventDate(strings.TrimSpace(string(s.Date)))
	s.CellLine = strings.TrimSpace(s.CellLine)
	s.EventType = strings.TrimSpace(s.EventType)
	s.Vessel = strings.TrimSpace(s.Vessel)
	s.Location = strings.TrimSpace(s.Location)
	s.Medium = strings.TrimSpace(s.Medium)
	s.CellType = strings.TrimSpace(s.CellType)
	s.Notes = strings.TrimSpace(s.Notes)
	s.Operator = strings.TrimSpace(s.Operator)
	s.ThawID = strings.TrimSpace(s.ThawID)
	s.CryoVialPosition = strings.TrimSpace(s.CryoVialPosition)
	s.CryoStoragePosition = strings.TrimSpace(s.CryoStoragePosition)
	s.AssignedTo = strings.TrimSpace(s.AssignedTo)
	s.CreatedBy = strings.TrimSpace(s.CreatedBy)
	if s.NextActionDate != nil {
		trimmed := strings.TrimSpace(string(*s.NextActionDate))
		if trimmed == "" {
			s.NextActionDate = nil
		} else {
			day := EventDate(trimmed)
			s.NextActionDate = &day
		}
	}
	return s
}

func (s Submission) entry() LogEntry {
	return LogEntry{
		Date:                s.Date,
		CellLine:            s.CellLine,
		EventType:           s.EventType,
		Passage:             s.Passage,
		Vessel:              s.Vessel,
		Location:            s.Location,
		Medium:              s.Medium,
		CellType:            s.CellType,
		Volume:              s.Volume,
		Notes:               s.Notes,
		Operator:            s.Operator,
		ThawID:              s.ThawID,
		CryoVialPosition:    s.CryoVialPosition,
		CryoStoragePosition: s.CryoStoragePosition,
		AssignedTo:          s.AssignedTo,
		NextActionDate:      s.NextActionDate,
		CreatedBy:           s.CreatedBy,
	}
}

// Filter narrows a history query. Zero values mean "no constraint"; all
// populated constraints are ANDed together.
type Filter struct {
	CreatedBy        string
	EventType        string
	ThawID           string
	CellLineContains string
	From             EventDate
	To               EventDate
	Limit            int
}

// ValueCount is one row of a top-values aggregation.
type ValueCount struct {
	Value string `gorm:"column:value" json:"value"`
	Count int64  `gorm:"column:tally" json:"count"`
}

// ValidationError reports the fields that made a submission unacceptable.
// The write is refused as a whole; nothing is persisted.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "culture: invalid submission, fields: " + strings.Join(e.Fields, ", ")
}

package catalog

import (
	"errors"
	"fmt"
	"time"
)

// Kind names one of the reference-value catalogs. Each kind is backed by its
// own physical table.
type Kind string

const (
	KindCellLine      Kind = "cell_line"
	KindEventType     Kind = "event_type"
	KindVessel        Kind = "vessel"
	KindLocation      Kind = "location"
	KindCellType      Kind = "cell_type"
	KindCultureMedium Kind = "culture_medium"
)

var (
	// ErrUnknownReferenceKind indicates a kind outside the closed catalog set.
	ErrUnknownReferenceKind = errors.New("catalog: unknown reference kind")
	// ErrMissingName indicates a blank catalog value.
	ErrMissingName = errors.New("catalog: name required")
)

var tableByKind = map[Kind]string{
	KindCellLine:      "cell_lines",
	KindEventType:     "event_types",
	KindVessel:        "vessels",
	KindLocation:      "locations",
	KindCellType:      "cell_types",
	KindCultureMedium: "culture_media",
}

// Kinds returns every catalog kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindCellLine,
		KindEventType,
		KindVessel,
		KindLocation,
		KindCellType,
		KindCultureMedium,
	}
}

// ParseKind validates a raw kind string.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(raw)
	if _, ok := tableByKind[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownReferenceKind, raw)
	}
	return kind, nil
}

// Table returns the physical table backing the kind.
func (k Kind) Table() (string, error) {
	table, ok := tableByKind[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownReferenceKind, string(k))
	}
	return table, nil
}

// ReferenceValue is one catalog row. The same struct serves all six tables;
// the service binds it to the kind's table per query.
type ReferenceValue struct {
	Name      string    `gorm:"column:name;primaryKey;size:190" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

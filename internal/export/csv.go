package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/PolarisBioLab/stemtrack/internal/culture"
)

// CSVFilename is the download name browsers receive for log exports.
const CSVFilename = "ipsc_culture_log.csv"

// csvHeader lists the exported columns under their display names. Storage
// bookkeeping (attachment keys, cryo storage slots) stays out of the export.
var csvHeader = []string{
	"Date",
	"Cell Line",
	"Event Type",
	"Passage",
	"Vessel",
	"Location",
	"Culture Medium",
	"Cell Type",
	"Volume (mL)",
	"Notes",
	"Operator",
	"Thaw ID",
	"Cryo Vial Position",
	"Assigned To",
	"Next Action Date",
	"Created By",
}

// WriteCSV streams the entries as a spreadsheet-friendly CSV document.
func WriteCSV(w io.Writer, entries []culture.LogEntry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, entry := range entries {
		if err := writer.Write(csvRow(entry)); err != nil {
			return fmt.Errorf("export: write entry %d: %w", entry.ID, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

func csvRow(entry culture.LogEntry) []string {
	passage := ""
	if entry.Passage != nil {
		passage = strconv.Itoa(*entry.Passage)
	}
	volume := ""
	if entry.Volume != nil {
		volume = strconv.FormatFloat(*entry.Volume, 'f', -1, 64)
	}
	nextAction := ""
	if entry.NextActionDate != nil {
		nextAction = entry.NextActionDate.String()
	}
	return []string{
		entry.Date.String(),
		entry.CellLine,
		entry.EventType,
		passage,
		entry.Vessel,
		entry.Location,
		entry.Medium,
		entry.CellType,
		volume,
		entry.Notes,
		entry.Operator,
		entry.ThawID,
		entry.CryoVialPosition,
		entry.AssignedTo,
		nextAction,
		entry.CreatedBy,
	}
}

package conversation

import (
	"encoding/json"
	"io"
	"time"
)

// NotesExport is the JSON document produced by a one-shot notes export.
type NotesExport struct {
	ExportedAt time.Time `json:"exported_at"`
	Notes      []Note    `json:"notes"`
}

// ExportFileName returns the export file name for the given date, e.g.
// "session-notes-2026-08-25.json".
func ExportFileName(t time.Time) string {
	return "session-notes-" + t.Format("2006-01-02") + ".json"
}

// ExportNotes writes the collected notes as indented JSON.
func (c *Conversation) ExportNotes(w io.Writer) error {
	doc := NotesExport{
		ExportedAt: time.Now(),
		Notes:      c.Notes(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Package export renders a customer timeline as Markdown with YAML
// frontmatter, and reads that frontmatter back.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feetfirst/historyhub/internal/history"
	"github.com/feetfirst/historyhub/internal/models"
)

const delim = "---"

// ErrNoFrontmatter is returned when a document does not start with a
// frontmatter block.
var ErrNoFrontmatter = errors.New("export: no frontmatter")

// Day is one date of a timeline with its notes in display order.
type Day struct {
	Date  string
	Notes []models.DisplayNote
}

// Frontmatter is the metadata block at the top of an export.
type Frontmatter struct {
	CustomerID string    `yaml:"customer_id"`
	ExportedAt time.Time `yaml:"exported_at"`
	Dates      int       `yaml:"dates"`
	Notes      int       `yaml:"notes"`
	Categories []string  `yaml:"categories,omitempty"`
}

// Path returns where the export of customerID is stored.
func Path(customerID string) string {
	return "customers/" + customerID + "/timeline.md"
}

// Render produces the Markdown document for days, newest date first. Note
// times are shown in loc, the zone the dates were keyed in.
func Render(customerID string, days []Day, exportedAt time.Time, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	fm := Frontmatter{CustomerID: customerID, ExportedAt: exportedAt.UTC(), Dates: len(days)}
	seen := map[string]bool{}
	for _, d := range days {
		fm.Notes += len(d.Notes)
		for _, n := range d.Notes {
			if !seen[n.Category] {
				seen[n.Category] = true
				fm.Categories = append(fm.Categories, n.Category)
			}
		}
	}

	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("export: encode frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	buf.Write(head)
	buf.WriteString(delim + "\n\n")
	fmt.Fprintf(&buf, "# Kundenhistorie %s\n", customerID)

	for i := len(days) - 1; i >= 0; i-- {
		d := days[i]
		fmt.Fprintf(&buf, "\n## %s\n\n", history.FormatDisplayDate(d.Date))
		for _, n := range d.Notes {
			buf.WriteString(renderNote(n, loc))
		}
	}
	return buf.Bytes(), nil
}

func renderNote(n models.DisplayNote, loc *time.Location) string {
	text := strings.ReplaceAll(n.Text, "\n", " ")
	ts := n.Timestamp.In(loc).Format("15:04")
	switch {
	case n.HasLink:
		return fmt.Sprintf("- **%s** %s [%s](%s)\n", n.Category, ts, text, n.URL)
	case n.URL != "":
		return fmt.Sprintf("- **%s** %s %s (%s)\n", n.Category, ts, text, n.URL)
	default:
		return fmt.Sprintf("- **%s** %s %s\n", n.Category, ts, text)
	}
}

// ReadFrontmatter parses the frontmatter block of an export document.
func ReadFrontmatter(data []byte) (*Frontmatter, error) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, ErrNoFrontmatter
	}
	rest := trimmed[len(delim):]
	end := bytes.Index(rest, []byte("\n"+delim))
	if end < 0 {
		return nil, ErrNoFrontmatter
	}

	var fm Frontmatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil, fmt.Errorf("export: parse frontmatter: %w", err)
	}
	return &fm, nil
}

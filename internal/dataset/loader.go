package dataset

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ManifestRow is one recording listed in a batch manifest.
type ManifestRow struct {
	Row      int
	Path     string
	Agent    string
	Customer string
	Duration string
}

type columns struct {
	path, agent, customer, duration int
}

// detectColumns maps header cells to fields by name.
func detectColumns(header []string) columns {
	c := columns{path: -1, agent: -1, customer: -1, duration: -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "agent"):
			if c.agent == -1 {
				c.agent = i
			}
		case strings.Contains(l, "customer") || strings.Contains(l, "caller"):
			if c.customer == -1 {
				c.customer = i
			}
		case strings.Contains(l, "duration") || strings.Contains(l, "length"):
			if c.duration == -1 {
				c.duration = i
			}
		case strings.Contains(l, "audio") || strings.Contains(l, "file") || strings.Contains(l, "path") || strings.Contains(l, "record"):
			if c.path == -1 {
				c.path = i
			}
		}
	}
	// fallback: the first column holds the recording
	if c.path == -1 && len(header) > 0 {
		c.path = 0
	}
	return c
}

// Load reads the first sheet of a manifest workbook. Relative paths are
// resolved against the manifest's directory; rows without a path are skipped.
func Load(path string) ([]ManifestRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	cols := detectColumns(rows[0])
	base := filepath.Dir(path)
	var out []ManifestRow
	for i, r := range rows {
		if i == 0 {
			continue
		}
		rec := ManifestRow{
			Row:      i + 1,
			Path:     cell(r, cols.path),
			Agent:    cell(r, cols.agent),
			Customer: cell(r, cols.customer),
			Duration: formatDuration(cell(r, cols.duration)),
		}
		if rec.Path == "" {
			continue
		}
		if !filepath.IsAbs(rec.Path) {
			rec.Path = filepath.Join(base, rec.Path)
		}
		out = append(out, rec)
	}
	return out, nil
}

func cell(r []string, idx int) string {
	if idx < 0 || idx >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[idx])
}

// formatDuration turns a bare second count into mm:ss and leaves labels alone.
func formatDuration(v string) string {
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return v
	}
	total := int(secs + 0.5)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

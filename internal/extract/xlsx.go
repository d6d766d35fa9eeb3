package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXLSX emits one segment per worksheet. The sheet name becomes the
// section title and the non-empty cells of each row are tab-joined. Cells
// are read with their number formats applied, so dates and formatted
// numbers come out as displayed rather than as raw serial values.
func extractXLSX(data []byte) ([]Segment, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening xlsx workbook: %w", err)
	}
	defer f.Close()

	var segs []Segment
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", name, err)
		}

		lines := []string{"Sheet: " + name}
		for _, row := range rows {
			var cells []string
			for _, v := range row {
				if v = strings.TrimSpace(v); v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, "\t"))
			}
		}
		segs = append(segs, Segment{Text: strings.Join(lines, "\n"), SectionTitle: strPtr(name)})
	}
	return segs, nil
}

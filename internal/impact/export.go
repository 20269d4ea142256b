package impact

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteCSV serialises the category rows and their GL drill-downs.
func WriteCSV(w io.Writer, view View) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Category", "GL Code", "GL Name", "Before", "After", "Change", "Changed GLs"}); err != nil {
		return err
	}
	for _, cat := range view.Categories {
		if err := writer.Write([]string{
			cat.Category, "", "",
			cat.Before.StringFixed(2),
			cat.After.StringFixed(2),
			cat.Change.StringFixed(2),
			strconv.Itoa(cat.ChangedCount),
		}); err != nil {
			return err
		}
		for _, gl := range cat.GLChanges {
			if err := writer.Write([]string{
				cat.Category,
				gl.GLCode.String(),
				gl.GLName,
				gl.Before.StringFixed(2),
				gl.After.StringFixed(2),
				gl.Change.StringFixed(2),
				"",
			}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

package export

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/rapidroutes/lane-engine/internal/model"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Postings"

// Record returns a row's values in header order.
func Record(r model.Row) []string {
	rec := make([]string, len(headers))
	for i, h := range headers {
		rec[i] = r.Fields[h]
	}
	return rec
}

// WriteCSV writes the header row followed by rows.
func WriteCSV(w io.Writer, rows []model.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for i, r := range rows {
		if err := cw.Write(Record(r)); err != nil {
			return eris.Wrapf(err, "export: write csv row %d", i+1)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

// WriteXLSX saves rows to a single-sheet workbook at path.
func WriteXLSX(path string, rows []model.Row) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow := func(values []string) {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	addRow(headers)
	for _, r := range rows {
		addRow(Record(r))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

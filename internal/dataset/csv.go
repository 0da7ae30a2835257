package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/venturescope/enrich-cli/internal/model"
)

// ReadCSVFile opens and parses a CSV dataset file.
func ReadCSVFile(path string, opts Options) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open csv")
	}
	defer f.Close()
	return ReadCSV(f, opts)
}

// ReadCSV parses a CSV dataset from a reader. When opts.Encoding names a
// non-UTF-8 charset the input is transcoded before parsing.
func ReadCSV(r io.Reader, opts Options) ([]model.Record, error) {
	if opts.Encoding != "" {
		enc, err := htmlindex.Get(opts.Encoding)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: unsupported charset %q", opts.Encoding)
		}
		r = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // allow ragged rows

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read csv")
	}
	if len(rows) < 2 {
		return nil, eris.New("dataset: csv has no data rows")
	}

	idx, err := columns(rows[0])
	if err != nil {
		return nil, err
	}

	records := make([]model.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		records = append(records, parseRow(row, idx))
	}
	return records, nil
}

// WriteCSV writes records in the canonical column order, UTF-8 encoded.
func WriteCSV(w io.Writer, records []model.Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return eris.Wrap(err, "dataset: write header")
	}
	for _, rec := range records {
		if err := writer.Write(formatRow(rec)); err != nil {
			return eris.Wrap(err, "dataset: write row")
		}
	}
	writer.Flush()
	return eris.Wrap(writer.Error(), "dataset: flush csv")
}

// WriteCSVFile writes records to path, creating parent directories as needed.
func WriteCSVFile(path string, records []model.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "dataset: create output dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "dataset: create csv")
	}
	if err := WriteCSV(f, records); err != nil {
		f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "dataset: close csv")
}

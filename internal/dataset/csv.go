// Package dataset reads and writes the patient CSV file that backs the
// record store. The whole file is rewritten on every save.
package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/iliyamo/patient-records/internal/model"
)

// File is a CSV file holding the full patient dataset.
type File struct {
	path string
}

// NewFile returns a File for path. Nothing is read until Load is called.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the location of the dataset on disk.
func (f *File) Path() string { return f.path }

// Load parses every row of the file in order. A missing file is reported
// with an error wrapping os.ErrNotExist.
func (f *File) Load(ctx context.Context) ([]model.Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", f.path, err)
	}
	defer fh.Close()

	patients, err := Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", f.path, err)
	}
	return patients, nil
}

// Save overwrites the file with patients. The data is written to a temp file
// in the same directory and renamed over the dataset.
func (f *File) Save(ctx context.Context, patients []model.Patient) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, patients); err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".patients-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace dataset %s: %w", f.path, err)
	}
	return nil
}

// Decode reads a header row followed by patient rows. Columns are matched
// by header name, so their order in the file does not matter. An empty
// input yields no patients.
func Decode(r io.Reader) ([]model.Patient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	var out []model.Patient
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read row %d: %w", len(out)+1, err)
		}
		out = append(out, model.PatientFromRow(func(column string) string {
			i, ok := index[column]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}))
	}
	return out, nil
}

// Encode writes the header and one line per patient. Lines end in "\n" and
// the last line has no terminator. Cells are quoted only when they contain
// a separator, a quote or a line break, so plain datasets keep their exact
// bytes.
func Encode(w io.Writer, patients []model.Patient) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(model.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range patients {
		if err := cw.Write(p.Row()); err != nil {
			return fmt.Errorf("write patient %s: %w", p.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if _, err := w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

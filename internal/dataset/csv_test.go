package dataset

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iliyamo/patient-records/internal/model"
)

const sample = `id,edad,sexo,presion_sistolica,presion_diastolica,colesterol,glucosa,imc,tabaquismo,actividad_fisica,historial_familiar,enfermedad,sintomas
1,30,M,130,85,210,95,27.4,0,1,1,Hipertension,dolor de cabeza
7,55,F,120,80,190,140,31.2,1,0,0,Diabetes,sed excesiva`

func TestDecode(t *testing.T) {
	patients, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("want 2, got %d", len(patients))
	}
	p := patients[0]
	if !p.ID.Equal(model.NewInt(1)) || p.Edad.Value != 30 || p.Sexo != "M" || p.IMC.Value != 27.4 {
		t.Fatalf("unexpected first patient: %+v", p)
	}
	if patients[1].Enfermedad != "Diabetes" || patients[1].Sintomas != "sed excesiva" {
		t.Fatalf("unexpected second patient: %+v", patients[1])
	}
}

func TestDecodeCoercesMalformedNumbers(t *testing.T) {
	in := "id,edad,imc,enfermedad\n3,treinta,NaN,Asma"
	patients, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(patients) != 1 {
		t.Fatalf("want 1, got %d", len(patients))
	}
	p := patients[0]
	if p.Edad.Valid || p.IMC.Valid {
		t.Fatalf("malformed cells should be not-a-number: %+v", p)
	}
	if p.Glucosa.Valid {
		t.Fatalf("missing column should be not-a-number: %+v", p.Glucosa)
	}
	if p.Enfermedad != "Asma" {
		t.Fatalf("enfermedad: %q", p.Enfermedad)
	}
}

func TestDecodeEmpty(t *testing.T) {
	patients, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(patients) != 0 {
		t.Fatalf("want none, got %d", len(patients))
	}
}

func TestEncodeKeepsPlainFormat(t *testing.T) {
	patients, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, patients); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.String() != sample {
		t.Fatalf("encoded output differs:\n%s\n---\n%s", buf.String(), sample)
	}
}

func TestEncodeEmptyWritesHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.String() != strings.Join(model.Columns, ",") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestRoundTripWithSeparators(t *testing.T) {
	in := []model.Patient{{
		ID:         model.NewInt(4),
		Edad:       model.NewInt(61),
		Enfermedad: "Migraña, crónica",
		Sintomas:   "dolor \"pulsante\"\nnauseas",
	}}
	var buf bytes.Buffer
	if err := Encode(&buf, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0] != in[0] {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestFileSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.csv")
	f := NewFile(path)
	ctx := context.Background()

	in := []model.Patient{
		{ID: model.NewInt(1), Edad: model.NewInt(30), Enfermedad: "Hipertension"},
		{ID: model.NewInt(2), Edad: model.NewInt(41), Enfermedad: "Asma"},
	}
	if err := f.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := f.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Fatalf("unexpected patients: %+v", out)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestFileLoadMissing(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "missing.csv"))
	_, err := f.Load(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want ErrNotExist, got %v", err)
	}
}

func TestEncodeWritesNaNForMissingNumbers(t *testing.T) {
	in := []model.Patient{{ID: model.NewInt(9), Sexo: "F", Enfermedad: "Asma"}}
	var buf bytes.Buffer
	if err := Encode(&buf, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	want := "9,NaN,F,NaN,NaN,NaN,NaN,NaN,NaN,NaN,NaN,Asma,"
	if len(lines) != 2 || lines[1] != want {
		t.Fatalf("unexpected rows %q", lines)
	}
	out, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0] != in[0] {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

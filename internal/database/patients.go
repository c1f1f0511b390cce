package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/patient-records/internal/model"
)

// PatientTable stores the patient dataset in MySQL. It mirrors the CSV
// backend: Load returns rows in their stored order and Save replaces the
// whole table inside one transaction.
type PatientTable struct {
	db *sql.DB
}

// NewPatientTable wraps db. Call EnsureSchema before first use.
func NewPatientTable(db *sql.DB) *PatientTable {
	return &PatientTable{db: db}
}

// EnsureSchema creates the patients table when it does not exist. Rows are
// keyed by position because ids may be not-a-number (NULL).
func (t *PatientTable) EnsureSchema(ctx context.Context) error {
	const q = `CREATE TABLE IF NOT EXISTS patients (
		position           INT NOT NULL PRIMARY KEY,
		id                 BIGINT NULL,
		edad               BIGINT NULL,
		sexo               TEXT NOT NULL,
		presion_sistolica  BIGINT NULL,
		presion_diastolica BIGINT NULL,
		colesterol         BIGINT NULL,
		glucosa            BIGINT NULL,
		imc                DOUBLE NULL,
		tabaquismo         BIGINT NULL,
		actividad_fisica   BIGINT NULL,
		historial_familiar BIGINT NULL,
		enfermedad         TEXT NOT NULL,
		sintomas           TEXT NOT NULL
	)`
	if _, err := t.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create patients table: %w", err)
	}
	return nil
}

// Load returns every patient ordered by position.
func (t *PatientTable) Load(ctx context.Context) ([]model.Patient, error) {
	const q = `SELECT id, edad, sexo, presion_sistolica, presion_diastolica, colesterol,
	                  glucosa, imc, tabaquismo, actividad_fisica, historial_familiar,
	                  enfermedad, sintomas
	           FROM patients ORDER BY position`
	rows, err := t.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	var out []model.Patient
	for rows.Next() {
		var (
			id, edad, sis, dia, col, glu, tab, act, hist sql.NullInt64
			imc                                          sql.NullFloat64
			sexo, enfermedad, sintomas                   string
		)
		if err := rows.Scan(&id, &edad, &sexo, &sis, &dia, &col, &glu, &imc, &tab, &act, &hist, &enfermedad, &sintomas); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, model.Patient{
			ID:                fromNullInt(id),
			Edad:              fromNullInt(edad),
			Sexo:              model.Text(sexo),
			PresionSistolica:  fromNullInt(sis),
			PresionDiastolica: fromNullInt(dia),
			Colesterol:        fromNullInt(col),
			Glucosa:           fromNullInt(glu),
			IMC:               model.Float{Value: imc.Float64, Valid: imc.Valid},
			Tabaquismo:        fromNullInt(tab),
			ActividadFisica:   fromNullInt(act),
			HistorialFamiliar: fromNullInt(hist),
			Enfermedad:        model.Text(enfermedad),
			Sintomas:          model.Text(sintomas),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return out, nil
}

// Save replaces the table contents with patients.
func (t *PatientTable) Save(ctx context.Context, patients []model.Patient) (err error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM patients`); err != nil {
		return fmt.Errorf("clear patients: %w", err)
	}

	const qInsert = `INSERT INTO patients (position, id, edad, sexo, presion_sistolica,
		presion_diastolica, colesterol, glucosa, imc, tabaquismo, actividad_fisica,
		historial_familiar, enfermedad, sintomas)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, qInsert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range patients {
		if _, err = stmt.ExecContext(ctx, i,
			toNullInt(p.ID), toNullInt(p.Edad), string(p.Sexo),
			toNullInt(p.PresionSistolica), toNullInt(p.PresionDiastolica),
			toNullInt(p.Colesterol), toNullInt(p.Glucosa),
			sql.NullFloat64{Float64: p.IMC.Value, Valid: p.IMC.Valid},
			toNullInt(p.Tabaquismo), toNullInt(p.ActividadFisica), toNullInt(p.HistorialFamiliar),
			string(p.Enfermedad), string(p.Sintomas),
		); err != nil {
			return fmt.Errorf("insert patient at %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func toNullInt(i model.Int) sql.NullInt64 {
	return sql.NullInt64{Int64: i.Value, Valid: i.Valid}
}

func fromNullInt(n sql.NullInt64) model.Int {
	return model.Int{Value: n.Int64, Valid: n.Valid}
}

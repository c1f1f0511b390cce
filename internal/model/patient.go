package model

// Patient is one row of the health dataset. JSON names match the dataset
// header so records look the same in the CSV file and over HTTP.
type Patient struct {
	ID                Int   `json:"id"`
	Edad              Int   `json:"edad"`
	Sexo              Text  `json:"sexo"`
	PresionSistolica  Int   `json:"presion_sistolica"`
	PresionDiastolica Int   `json:"presion_diastolica"`
	Colesterol        Int   `json:"colesterol"`
	Glucosa           Int   `json:"glucosa"`
	IMC               Float `json:"imc"`
	Tabaquismo        Int   `json:"tabaquismo"`
	ActividadFisica   Int   `json:"actividad_fisica"`
	HistorialFamiliar Int   `json:"historial_familiar"`
	Enfermedad        Text  `json:"enfermedad"`
	Sintomas          Text  `json:"sintomas"`
}

// Columns lists the dataset header in file order.
var Columns = []string{
	"id",
	"edad",
	"sexo",
	"presion_sistolica",
	"presion_diastolica",
	"colesterol",
	"glucosa",
	"imc",
	"tabaquismo",
	"actividad_fisica",
	"historial_familiar",
	"enfermedad",
	"sintomas",
}

// Row returns the cells of p in Columns order.
func (p Patient) Row() []string {
	return []string{
		p.ID.String(),
		p.Edad.String(),
		string(p.Sexo),
		p.PresionSistolica.String(),
		p.PresionDiastolica.String(),
		p.Colesterol.String(),
		p.Glucosa.String(),
		p.IMC.String(),
		p.Tabaquismo.String(),
		p.ActividadFisica.String(),
		p.HistorialFamiliar.String(),
		string(p.Enfermedad),
		string(p.Sintomas),
	}
}

// PatientFromRow builds a Patient from cells keyed by column name, coercing
// numeric columns. Missing columns read as empty cells.
func PatientFromRow(cell func(column string) string) Patient {
	return Patient{
		ID:                ParseInt(cell("id")),
		Edad:              ParseInt(cell("edad")),
		Sexo:              Text(cell("sexo")),
		PresionSistolica:  ParseInt(cell("presion_sistolica")),
		PresionDiastolica: ParseInt(cell("presion_diastolica")),
		Colesterol:        ParseInt(cell("colesterol")),
		Glucosa:           ParseInt(cell("glucosa")),
		IMC:               ParseFloat(cell("imc")),
		Tabaquismo:        ParseInt(cell("tabaquismo")),
		ActividadFisica:   ParseInt(cell("actividad_fisica")),
		HistorialFamiliar: ParseInt(cell("historial_familiar")),
		Enfermedad:        Text(cell("enfermedad")),
		Sintomas:          Text(cell("sintomas")),
	}
}

// Package format renders computed rows into the shapes downstream systems
// ingest: a flat table for inspection and a DHIS2 dataValueSet import
// payload for health information systems.
package format

import (
	"hash/fnv"
	"strconv"

	"github.com/i474232898/geodata-aggregation/internal/pipeline"
)

// TableRecord is one flattened row of the tabular output. Every input row
// appears, whatever its status.
type TableRecord struct {
	DatasetID string   `json:"datasetId"`
	Parameter string   `json:"parameter"`
	Operation string   `json:"operation"`
	Period    string   `json:"period"`
	Stat      string   `json:"stat,omitempty"`
	Value     *float64 `json:"value"`
	Status    string   `json:"status"`
}

// ToTable flattens computed rows into table records, preserving order.
func ToTable(rows []pipeline.ComputedRow) []TableRecord {
	out := make([]TableRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, TableRecord{
			DatasetID: row.DatasetID,
			Parameter: row.Parameter,
			Operation: string(row.Operation),
			Period:    periodOf(row),
			Stat:      row.Stat,
			Value:     row.Value,
			Status:    string(row.Status),
		})
	}
	return out
}

// ImportMapping binds parameters to DHIS2 data element UIDs and selects the
// target org unit. Unmapped parameters fall back to a deterministic
// placeholder UID so a draft payload can be produced before the mapping is
// finalized.
type ImportMapping struct {
	DataElements map[string]string `json:"dataElements,omitempty"`
	OrgUnit      string            `json:"orgUnit,omitempty"`
}

// DataValue is one entry of a DHIS2 dataValueSet.
type DataValue struct {
	DataElement string `json:"dataElement"`
	Period      string `json:"period"`
	OrgUnit     string `json:"orgUnit"`
	Value       string `json:"value"`
	Comment     string `json:"comment,omitempty"`
}

// ImportPayload is the dataValueSet body posted to a DHIS2 instance.
type ImportPayload struct {
	DataValues []DataValue `json:"dataValues"`
}

// ToImportPayload renders the computed rows only; rows without a value carry
// nothing a dataValueSet could hold. Periods use the compact YYYYMMDD form.
func ToImportPayload(rows []pipeline.ComputedRow, mapping ImportMapping) ImportPayload {
	orgUnit := mapping.OrgUnit
	if orgUnit == "" {
		orgUnit = placeholderUID("org-unit")
	}

	payload := ImportPayload{DataValues: []DataValue{}}
	for _, row := range rows {
		if row.Status != pipeline.StatusComputed || row.Value == nil {
			continue
		}
		uid, ok := mapping.DataElements[row.Parameter]
		if !ok || uid == "" {
			uid = placeholderUID(row.Parameter)
		}
		comment := row.Parameter
		if row.Stat != "" {
			comment += " " + row.Stat
		}
		payload.DataValues = append(payload.DataValues, DataValue{
			DataElement: uid,
			Period:      compactPeriod(periodOf(row)),
			OrgUnit:     orgUnit,
			Value:       strconv.FormatFloat(*row.Value, 'f', -1, 64),
			Comment:     comment,
		})
	}
	return payload
}

// periodOf picks the row's reporting date: the single date for point
// operations, the range start for aggregations.
func periodOf(row pipeline.ComputedRow) string {
	if row.Time != "" {
		return row.Time
	}
	return row.Start
}

// compactPeriod turns YYYY-MM-DD into the DHIS2 daily period YYYYMMDD.
func compactPeriod(date string) string {
	out := make([]byte, 0, 8)
	for i := 0; i < len(date); i++ {
		if date[i] != '-' {
			out = append(out, date[i])
		}
	}
	return string(out)
}

const uidAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// placeholderUID derives a stable 11-character DHIS2-shaped UID from a name.
// The first character is always a letter, as DHIS2 requires.
func placeholderUID(name string) string {
	h := fnv.New64a()
	h.Write([]byte(name))
	v := h.Sum64()

	uid := make([]byte, 11)
	uid[0] = uidAlphabet[v%52] // letters only
	v /= 52
	for i := 1; i < len(uid); i++ {
		uid[i] = uidAlphabet[v%uint64(len(uidAlphabet))]
		v = v/uint64(len(uidAlphabet)) + uint64(i)*2654435761
	}
	return string(uid)
}

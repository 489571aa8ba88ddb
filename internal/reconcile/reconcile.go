// Package reconcile merges per-extractor records into the association table
// and decides whether a document produced an association at all.
package reconcile

import (
	"encoding/csv"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/toricodesthings/compound-association-service/internal/activity"
	"github.com/toricodesthings/compound-association-service/internal/identifier"
	"github.com/toricodesthings/compound-association-service/internal/pairing"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

const (
	DefaultActivityType = "IC50"
	DefaultActivityUnit = "nM"
)

// Header is the fixed column order of the association table.
var Header = []string{"Example", "Smiles", "Molecule Name", "Activity Value", "Activity Type", "Activity Unit"}

// ErrNotAssociated is returned when at least one extractor came back empty.
var ErrNotAssociated = errors.New("document not associated")

// Row is one identifier with every field the extractors agreed on.
type Row struct {
	ID        identifier.Identifier
	Name      string
	Structure string
	Activity  string
	// Sources maps each populated field to the extractor that supplied it.
	Sources map[types.Field]string
}

// Complete reports whether every field is populated.
func (r Row) Complete() bool {
	return r.Name != "" && r.Structure != "" && r.Activity != ""
}

// Table rows are sorted by identifier and unique per identifier.
type Table struct {
	Rows []Row
}

// Complete returns only rows with every field populated.
func (t Table) Complete() []Row {
	var out []Row
	for _, r := range t.Rows {
		if r.Complete() {
			out = append(out, r)
		}
	}
	return out
}

// Contributions counts what each extractor produced for one document.
type Contributions struct {
	Activity   int
	Names      int
	Structures int
}

// Empty lists the extractors that contributed nothing, in a fixed order.
func (c Contributions) Empty() []string {
	var out []string
	if c.Activity == 0 {
		out = append(out, "activity")
	}
	if c.Names == 0 {
		out = append(out, "names")
	}
	if c.Structures == 0 {
		out = append(out, "structures")
	}
	return out
}

// Associated reports whether all three extractors contributed.
func (c Contributions) Associated() bool { return len(c.Empty()) == 0 }

// Reconcile builds one row per identifier in names. Names shorter than
// pairing.MinNameLength are discarded first. For every field the first
// record seen wins; later records for the same identifier and field are
// ignored. Activity and structure are joined on the identifier key and left
// empty when absent.
func Reconcile(acts activity.Mapping, names []pairing.Pair, structures []types.ExtractionRecord) Table {
	rows := map[string]*Row{}
	var order []string

	for _, p := range names {
		if !pairing.LongEnough(p.Name) {
			continue
		}
		key := p.ID.Key()
		if _, ok := rows[key]; ok {
			continue
		}
		rows[key] = &Row{
			ID:      p.ID,
			Name:    p.Name,
			Sources: map[types.Field]string{types.FieldName: types.SourcePairing},
		}
		order = append(order, key)
	}

	for _, rec := range structures {
		if rec.Field != types.FieldStructure || rec.Value == "" {
			continue
		}
		row, ok := rows[rec.Identifier.Key()]
		if !ok || row.Structure != "" {
			continue
		}
		row.Structure = rec.Value
		row.Sources[types.FieldStructure] = rec.Source
	}

	for key, row := range rows {
		if v, ok := acts[key]; ok && v != "" {
			row.Activity = v
			row.Sources[types.FieldActivity] = types.SourceActivity
		}
	}

	out := make([]Row, 0, len(order))
	for _, key := range order {
		out = append(out, *rows[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return identifier.Less(out[i].ID, out[j].ID) })
	return Table{Rows: out}
}

// TableOptions fill the constant activity columns.
type TableOptions struct {
	ActivityType string
	ActivityUnit string
}

func (o TableOptions) withDefaults() TableOptions {
	if strings.TrimSpace(o.ActivityType) == "" {
		o.ActivityType = DefaultActivityType
	}
	if strings.TrimSpace(o.ActivityUnit) == "" {
		o.ActivityUnit = DefaultActivityUnit
	}
	return o
}

// Record renders r in Header order.
func (o TableOptions) Record(r Row) []string {
	o = o.withDefaults()
	return []string{r.ID.String(), r.Structure, r.Name, r.Activity, o.ActivityType, o.ActivityUnit}
}

// WriteTable writes the ";"-delimited association table with its header.
func WriteTable(w io.Writer, t Table, opts TableOptions) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := cw.Write(opts.Record(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

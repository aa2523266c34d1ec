package migrate

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrInvalidRename = errors.New("invalid rename")
)

// Planner computes the steps turning a target schema into the desired one
type Planner struct {
	log   logrus.FieldLogger
	namer Namer
}

// NewPlanner creates a planner folding identifiers longer than limit
func NewPlanner(log logrus.FieldLogger, limit int) *Planner {
	return &Planner{
		log:   log.WithField("component", "migrate"),
		namer: Namer{Limit: limit},
	}
}

// Desired maps models to their tables
func (p *Planner) Desired(models []*manifest.Model) (*Snapshot, error) {
	return p.namer.Desired(models)
}

// Plan diffs current against desired. Renames are applied first; columns
// and tables missing from desired are soft-deleted, never dropped.
func (p *Planner) Plan(current, desired *Snapshot, renames Renames) (*Plan, error) {
	b := &builder{
		log:     p.log,
		namer:   p.namer,
		work:    current.Clone(),
		desired: desired,
		plan:    &Plan{},
	}

	if err := b.renames(renames); err != nil {
		return nil, err
	}

	for _, want := range desired.Tables() {
		cur, ok := b.work.Table(want.Name)
		if !ok {
			b.create(want)
			continue
		}

		b.alter(cur, want)
	}

	b.dropTables()

	return b.plan, nil
}

// SuggestRenames pairs columns added to a table with removed columns of the
// same type, in column order
func (p *Planner) SuggestRenames(current, desired *Snapshot) []Suggestion {
	var out []Suggestion

	for _, want := range desired.Tables() {
		cur, ok := current.Table(want.Name)
		if !ok || isChangelog(want.Name) {
			continue
		}

		var dropped []*Column

		for _, col := range cur.Columns {
			if _, keep := want.Column(col.Name); !keep && !strings.HasPrefix(col.Name, "_") {
				dropped = append(dropped, col)
			}
		}

		for _, col := range want.Columns {
			if _, exists := cur.Column(col.Name); exists {
				continue
			}

			for i, old := range dropped {
				if canonicalType(old.Type) == canonicalType(col.Type) {
					out = append(out, Suggestion{Table: want.Name, From: old.Name, To: col.Name})
					dropped = slices.Delete(dropped, i, i+1)

					break
				}
			}
		}
	}

	return out
}

// builder accumulates steps, replaying each on the working copy
type builder struct {
	log     logrus.FieldLogger
	namer   Namer
	work    *Snapshot
	desired *Snapshot
	plan    *Plan
}

func (b *builder) emit(step Step) {
	step.apply(b.work)
	b.plan.Steps = append(b.plan.Steps, step)
}

func (b *builder) renames(renames Renames) error {
	for _, old := range slices.Sorted(maps.Keys(renames)) {
		columns := renames[old]
		table := b.namer.Fold(old)

		if to := columns[""]; to != "" {
			target := b.namer.Fold(to)

			if _, ok := b.work.Table(table); ok {
				if _, taken := b.work.Table(target); !taken {
					b.renameTable(table, target)
				}
			}

			table = target
		}

		t, ok := b.work.Table(table)
		if !ok {
			b.log.WithField("table", table).Debug("Rename map names a missing table")
			continue
		}

		for _, from := range slices.Sorted(maps.Keys(columns)) {
			to := columns[from]

			switch {
			case from == "":
				continue
			case strings.Contains(from, "@"):
				if err := b.moveLang(t, from, to); err != nil {
					return err
				}
			default:
				src, dst := b.namer.Fold(from), b.namer.Fold(to)

				_, hasSrc := t.Column(src)
				_, hasDst := t.Column(dst)

				if hasSrc && !hasDst {
					b.emit(&RenameColumn{Table: t.Name, From: src, To: dst})
				}
			}
		}
	}

	return nil
}

// moveLang moves one language of a text column to "<text>_lang" and keeps
// the original value under "__<lang>"
func (b *builder) moveLang(t *Table, key, to string) error {
	text, lang, _ := strings.Cut(key, "@")
	column := b.namer.Fold(text)
	target := b.namer.Fold(text + "_lang")

	if to != "" && b.namer.Fold(to) != target {
		return fmt.Errorf("%w: %s must move to %s", ErrInvalidRename, key, target)
	}

	col, ok := t.Column(column)
	if !ok || canonicalType(col.Type) != "jsonb" {
		return fmt.Errorf("%w: %s is not a text column of %s", ErrInvalidRename, text, t.Name)
	}

	if _, exists := t.Column(target); !exists {
		b.emit(&AddColumn{Table: t.Name, Column: &Column{Name: target, Type: "TEXT", Nullable: true}})
	}

	c := quote(column)

	b.emit(&Exec{Table: t.Name, Statement: fmt.Sprintf(
		"UPDATE %s SET %s = %s->>%s, %s = (%s - %s) || jsonb_build_object(%s, %s->%s) WHERE %s ? %s;",
		quote(t.Name), quote(target), c, pq.QuoteLiteral(lang),
		c, c, pq.QuoteLiteral(lang), pq.QuoteLiteral(softPrefix+lang), c, pq.QuoteLiteral(lang),
		c, pq.QuoteLiteral(lang),
	)})

	return nil
}

func (b *builder) renameTable(from, to string) {
	step := &RenameTable{From: from, To: to}

	fromLog := b.namer.Changelog(from)
	if _, ok := b.work.Table(fromLog); ok {
		step.FromChangelog = fromLog
		step.ToChangelog = b.namer.Changelog(to)
		step.FromSequence = b.namer.Sequence(fromLog)
		step.ToSequence = b.namer.Sequence(step.ToChangelog)
	}

	b.emit(step)
}

// create adds a desired table. Unique constraints and indexes are added
// after the table so their names are independent of it.
func (b *builder) create(want *Table) {
	t := want.clone()
	t.Indexes = nil
	t.Constraints = slices.DeleteFunc(t.Constraints, func(c *Constraint) bool { return c.Kind == Unique })

	step := &CreateTable{Table: t}
	if isChangelog(want.Name) {
		step.Sequence = b.namer.Sequence(want.Name)
	}

	b.emit(step)

	for _, con := range want.Constraints {
		if con.Kind == Unique {
			b.emit(&AddConstraint{Table: want.Name, Constraint: con})
		}
	}

	for _, idx := range want.Indexes {
		b.emit(&CreateIndex{Table: want.Name, Index: idx})
	}
}

func (b *builder) alter(cur, want *Table) {
	b.transitions(cur, want)

	for _, col := range want.Columns {
		existing, ok := cur.Column(col.Name)
		if ok {
			if canonicalType(existing.Type) != canonicalType(col.Type) {
				b.emit(&AlterColumnType{
					Table:  cur.Name,
					Column: col.Name,
					Type:   col.Type,
					Using:  using(col.Name, existing.Type, col.Type),
				})
			}

			continue
		}

		b.freeSoft(cur, b.namer.Soft(col.logical))
		b.emit(&AddColumn{Table: cur.Name, Column: &Column{Name: col.Name, Type: col.Type, Nullable: true}})
	}

	keep := make(map[string]bool, len(want.texts))
	for _, text := range want.texts {
		keep[b.namer.Fold(text+"_lang")] = true
	}

	for _, col := range slices.Clone(cur.Columns) {
		if _, wanted := want.Column(col.Name); wanted || keep[col.Name] || strings.HasPrefix(col.Name, "_") {
			continue
		}

		b.softDelete(cur, col.Name)
	}

	for _, con := range slices.Clone(cur.Constraints) {
		if _, wanted := want.Constraint(con.Name); !wanted && con.Kind != PrimaryKey {
			b.emit(&DropConstraint{Table: cur.Name, Name: con.Name})
		}
	}

	for _, idx := range slices.Clone(cur.Indexes) {
		if _, wanted := want.Index(idx.Name); !wanted {
			b.emit(&DropIndex{Table: cur.Name, Name: idx.Name})
		}
	}

	for _, con := range want.Constraints {
		if _, exists := cur.Constraint(con.Name); !exists && con.Kind != PrimaryKey {
			b.emit(&AddConstraint{Table: cur.Name, Constraint: con})
		}
	}

	for _, idx := range want.Indexes {
		if _, exists := cur.Index(idx.Name); !exists {
			b.emit(&CreateIndex{Table: cur.Name, Index: idx})
		}
	}
}

// transitions migrates refs whose level changed, back-filling the new
// columns from the referenced table before the old ones are soft-deleted
func (b *builder) transitions(cur, want *Table) {
	for _, ref := range want.refs {
		_, hasID := cur.Column(ref.id)
		hasKeys := hasColumns(cur, ref.components)

		switch {
		case ref.level == manifest.LevelNaturalKey && hasID && !hasKeys:
			b.toNaturalKey(cur, ref)
		case ref.level == manifest.LevelIdentifier && !hasID && hasKeys:
			b.toIdentifier(cur, ref)
		}
	}
}

func (b *builder) toNaturalKey(cur *Table, ref refColumns) {
	for i, comp := range ref.components {
		if _, ok := cur.Column(comp); !ok {
			b.emit(&AddColumn{Table: cur.Name, Column: &Column{Name: comp, Type: ref.types[i], Nullable: true}})
		}
	}

	if _, ok := b.work.Table(ref.target); ok {
		sets := make([]string, len(ref.components))
		for i, comp := range ref.components {
			sets[i] = fmt.Sprintf("%s = t.%s", quote(comp), quote(ref.keys[i]))
		}

		b.emit(&Exec{Table: cur.Name, Statement: fmt.Sprintf(
			"UPDATE %s AS r SET %s FROM %s AS t WHERE r.%s = t.%s;",
			quote(cur.Name), strings.Join(sets, ", "), quote(ref.target), quote(ref.id), quote(columnID),
		)})
	} else {
		b.log.WithFields(logrus.Fields{"table": cur.Name, "ref": ref.target}).Warn("Referenced table is missing, ref columns are not back-filled")
	}

	soft := b.softDelete(cur, ref.id)

	for _, con := range slices.Clone(cur.Constraints) {
		if con.Kind == ForeignKey && slices.Contains(con.Columns, soft) {
			b.emit(&DropConstraint{Table: cur.Name, Name: con.Name})
		}
	}

	for _, idx := range slices.Clone(cur.Indexes) {
		if slices.Contains(idx.Columns, soft) {
			b.emit(&DropIndex{Table: cur.Name, Name: idx.Name})
		}
	}
}

func (b *builder) toIdentifier(cur *Table, ref refColumns) {
	b.emit(&AddColumn{Table: cur.Name, Column: &Column{Name: ref.id, Type: "UUID", Nullable: true}})

	if _, ok := b.work.Table(ref.target); ok {
		conds := make([]string, len(ref.components))
		for i, comp := range ref.components {
			conds[i] = fmt.Sprintf("r.%s = t.%s", quote(comp), quote(ref.keys[i]))
		}

		b.emit(&Exec{Table: cur.Name, Statement: fmt.Sprintf(
			"UPDATE %s AS r SET %s = t.%s FROM %s AS t WHERE %s;",
			quote(cur.Name), quote(ref.id), quote(columnID), quote(ref.target), strings.Join(conds, " AND "),
		)})
	} else {
		b.log.WithFields(logrus.Fields{"table": cur.Name, "ref": ref.target}).Warn("Referenced table is missing, ref identifiers are not back-filled")
	}

	for _, comp := range ref.components {
		b.softDelete(cur, comp)
	}
}

// softDelete renames a column to its "__" form, returning the new name
func (b *builder) softDelete(t *Table, name string) string {
	soft := b.namer.Soft(name)

	b.freeSoft(t, soft)
	b.emit(&RenameColumn{Table: t.Name, From: name, To: soft})

	return soft
}

// freeSoft moves an existing soft-deleted column one generation back,
// dropping the generation before it
func (b *builder) freeSoft(t *Table, soft string) {
	if _, ok := t.Column(soft); !ok {
		return
	}

	older := b.namer.Soft(soft)
	if _, ok := t.Column(older); ok {
		b.emit(&DropColumn{Table: t.Name, Column: older})
	}

	b.emit(&RenameColumn{Table: t.Name, From: soft, To: older})
}

// dropTables soft-deletes tables of the desired datasets that are no longer desired
func (b *builder) dropTables() {
	datasets := make(map[string]bool)

	for _, t := range b.desired.Tables() {
		if idx := strings.LastIndex(t.Name, "/"); idx > 0 && !isChangelog(t.Name) {
			datasets[t.Name[:idx]] = true
		}
	}

	for _, t := range b.work.Tables() {
		idx := strings.LastIndex(t.Name, "/")
		if idx <= 0 || !datasets[t.Name[:idx]] || isChangelog(t.Name) || isSoftDeleted(t.Name) {
			continue
		}

		if _, wanted := b.desired.Table(t.Name); wanted {
			continue
		}

		soft := b.namer.SoftTable(t.Name)

		if _, ok := b.work.Table(soft); ok {
			older := b.namer.SoftTable(soft)

			if _, ok := b.work.Table(older); ok {
				b.emit(&DropTable{Name: older})

				if _, ok := b.work.Table(b.namer.Changelog(older)); ok {
					b.emit(&DropTable{Name: b.namer.Changelog(older)})
				}
			}

			b.renameTable(soft, older)
		}

		b.renameTable(t.Name, soft)
	}
}

func hasColumns(t *Table, names []string) bool {
	for _, name := range names {
		if _, ok := t.Column(name); !ok {
			return false
		}
	}

	return len(names) > 0
}

// using converts values for a type change; geometries are reprojected
func using(column, from, to string) string {
	if srid, geom := geometrySRID(to); geom && srid != 0 {
		if _, fromGeom := geometrySRID(from); fromGeom {
			return fmt.Sprintf("ST_Transform(%s, %d)", quote(column), srid)
		}
	}

	return fmt.Sprintf("%s::%s", quote(column), to)
}

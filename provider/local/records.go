package local

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/goliatone/go-errors"
	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/uptrace/bun"
)

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ErrRecordNotFound is returned by UpdateRecord when nothing matched
var ErrRecordNotFound = errors.New("record not found", errors.CategoryNotFound).
	WithTextCode("RECORD_NOT_FOUND").
	WithCode(errors.CodeNotFound)

// ErrUnknownTable guards the generic record API
var ErrUnknownTable = errors.New("unknown table", errors.CategoryBadInput).
	WithTextCode("UNKNOWN_TABLE").
	WithCode(errors.CodeBadRequest)

// Records implements gatekeeper.RecordStore over bun. Rows travel as maps so
// the core stays unaware of the schema.
type Records struct {
	db     bun.IDB
	tables map[string]struct{}
}

var _ gatekeeper.RecordStore = (*Records)(nil)

// NewRecords exposes the given tables, all backend data tables by default
func NewRecords(db bun.IDB, tables ...string) *Records {
	if len(tables) == 0 {
		tables = []string{
			gatekeeper.TableProfiles,
			gatekeeper.TableInvitations,
			gatekeeper.TableOnboardingAnswers,
			gatekeeper.TableGifts,
		}
	}

	r := &Records{db: db, tables: make(map[string]struct{}, len(tables))}
	for _, t := range tables {
		r.tables[t] = struct{}{}
	}
	return r
}

func (r *Records) QueryRecord(ctx context.Context, table string, filter gatekeeper.Filter) (gatekeeper.Record, error) {
	if err := r.check(table, filter); err != nil {
		return nil, err
	}

	var rows []map[string]any
	q := r.db.NewSelect().
		ColumnExpr("*").
		TableExpr("?", bun.Ident(table))

	q = applyFilter(q, filter)

	if err := q.Limit(1).Scan(ctx, &rows); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return gatekeeper.Record(rows[0]), nil
}

func (r *Records) InsertRecord(ctx context.Context, table string, fields gatekeeper.Record) (gatekeeper.Record, error) {
	if err := r.check(table, gatekeeper.Filter(fields)); err != nil {
		return nil, err
	}

	values := map[string]any(fields)
	if _, err := r.db.NewInsert().Model(&values).TableExpr("?", bun.Ident(table)).Exec(ctx); err != nil {
		return nil, err
	}

	return r.readBack(ctx, table, fields)
}

func (r *Records) UpdateRecord(ctx context.Context, table string, filter gatekeeper.Filter, fields gatekeeper.Record) error {
	if err := r.check(table, filter); err != nil {
		return err
	}
	if err := r.check(table, gatekeeper.Filter(fields)); err != nil {
		return err
	}
	if len(filter) == 0 {
		return errors.New("update requires a filter", errors.CategoryBadInput).
			WithMetadata(map[string]any{"table": table})
	}

	values := map[string]any(fields)
	q := r.db.NewUpdate().Model(&values).TableExpr("?", bun.Ident(table))
	for _, col := range sortedKeys(filter) {
		q = q.Where("? = ?", bun.Ident(col), filter[col])
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound.Clone().WithMetadata(map[string]any{
			"table":  table,
			"filter": fmt.Sprint(map[string]any(filter)),
		})
	}

	return nil
}

// UpsertRecord inserts fields or, on a conflict over the given columns,
// updates every other column.
func (r *Records) UpsertRecord(ctx context.Context, table string, fields gatekeeper.Record, conflict ...string) (gatekeeper.Record, error) {
	if err := r.check(table, gatekeeper.Filter(fields)); err != nil {
		return nil, err
	}
	if len(conflict) == 0 {
		return r.InsertRecord(ctx, table, fields)
	}

	targets := make([]string, 0, len(conflict))
	keys := make(map[string]struct{}, len(conflict))
	for _, c := range conflict {
		if !columnPattern.MatchString(c) {
			return nil, ErrUnknownTable.Clone().WithMetadata(map[string]any{"column": c})
		}
		targets = append(targets, c)
		keys[c] = struct{}{}
	}

	values := map[string]any(fields)
	q := r.db.NewInsert().
		Model(&values).
		TableExpr("?", bun.Ident(table)).
		On(fmt.Sprintf("CONFLICT (%s) DO UPDATE", strings.Join(targets, ", ")))

	for _, col := range sortedKeys(gatekeeper.Filter(fields)) {
		if _, ok := keys[col]; ok {
			continue
		}
		q = q.Set("? = EXCLUDED.?", bun.Ident(col), bun.Ident(col))
	}

	if _, err := q.Exec(ctx); err != nil {
		return nil, err
	}

	lookup := gatekeeper.Filter{}
	for _, c := range conflict {
		lookup[c] = fields[c]
	}

	rec, err := r.QueryRecord(ctx, table, lookup)
	if err != nil || rec == nil {
		return fields, err
	}
	return rec, nil
}

func (r *Records) readBack(ctx context.Context, table string, fields gatekeeper.Record) (gatekeeper.Record, error) {
	id, ok := fields["id"]
	if !ok {
		return fields, nil
	}

	rec, err := r.QueryRecord(ctx, table, gatekeeper.Filter{"id": id})
	if err != nil || rec == nil {
		return fields, nil
	}
	return rec, nil
}

func (r *Records) check(table string, cols gatekeeper.Filter) error {
	if _, ok := r.tables[table]; !ok {
		return ErrUnknownTable.Clone().WithMetadata(map[string]any{"table": table})
	}
	for col := range cols {
		if !columnPattern.MatchString(col) {
			return ErrUnknownTable.Clone().WithMetadata(map[string]any{
				"table":  table,
				"column": col,
			})
		}
	}
	return nil
}

func applyFilter(q *bun.SelectQuery, filter gatekeeper.Filter) *bun.SelectQuery {
	for _, col := range sortedKeys(filter) {
		q = q.Where("? = ?", bun.Ident(col), filter[col])
	}
	return q
}

func sortedKeys(m gatekeeper.Filter) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

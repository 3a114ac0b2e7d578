package pg

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"qbase/internal/change"
	"qbase/internal/schema"
	"qbase/internal/sqlstore"
)

type OnDeletePolicy string

const (
	OnDeleteRestrict OnDeletePolicy = "RESTRICT"
	OnDeleteSetNull  OnDeletePolicy = "SET NULL"
)

var ident = sqlstore.Ident

func mapType(k schema.FieldKind) (string, error) {
	switch k {
	case schema.FieldText:
		return "text", nil
	case schema.FieldNumber:
		// integer: это CHECK, а не bigint: смена флага не меняет тип колонки
		return "double precision", nil
	case schema.FieldBool:
		return "boolean", nil
	case schema.FieldDate:
		return "timestamp with time zone", nil
	case schema.FieldRelation:
		return "text", nil // id целевой записи
	case schema.FieldRelationMany:
		// список id; внешних ключей у массива нет
		return "jsonb", nil
	default:
		return "", fmt.Errorf("unknown type: %s", k)
	}
}

func columnDef(c sqlstore.Column, onDelete OnDeletePolicy) (string, error) {
	typ, err := mapType(c.Type.Kind)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.Name, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", ident(c.Name), typ)
	if !c.Nullable {
		b.WriteString(" not null")
	}
	if c.PrimaryKey {
		// имя по токену: индекс pkey переживает переименование таблицы
		fmt.Fprintf(&b, " constraint %s primary key", ident(sqlstore.ConstraintName("pk", c.ID)))
	}
	if expr := checkExpr(c); expr != "" {
		fmt.Fprintf(&b, " constraint %s check (%s)", ident(sqlstore.ConstraintName("ck", c.ID)), expr)
	}
	if c.Ref != "" {
		fmt.Fprintf(&b, " constraint %s references %s(%s) on delete %s",
			ident(sqlstore.ConstraintName("fk", c.ID)), ident(c.Ref), ident("id"), onDelete)
	}
	return b.String(), nil
}

// checkExpr: правило поля как выражение CHECK; пустая строка, если правила нет.
func checkExpr(c sqlstore.Column) string {
	col := ident(c.Name)
	var parts []string
	switch c.Type.Kind {
	case schema.FieldText:
		r := c.Type.TextRule()
		if r.Min > 0 {
			parts = append(parts, fmt.Sprintf("char_length(%s) >= %d", col, r.Min))
		}
		if r.Max > 0 {
			parts = append(parts, fmt.Sprintf("char_length(%s) <= %d", col, r.Max))
		}
		if r.Validate != "" {
			parts = append(parts, fmt.Sprintf("%s ~ %s", col, sqlstore.Literal(r.Validate)))
		}
	case schema.FieldNumber:
		r := c.Type.NumberRule()
		if r.Integer {
			parts = append(parts, fmt.Sprintf("%s = trunc(%s)", col, col))
		}
		if r.Min != nil {
			parts = append(parts, fmt.Sprintf("%s >= %s", col, number(*r.Min)))
		}
		if r.Max != nil {
			parts = append(parts, fmt.Sprintf("%s <= %s", col, number(*r.Max)))
		}
	case schema.FieldDate:
		r := c.Type.DateRule()
		if r.Min != nil {
			parts = append(parts, fmt.Sprintf("%s >= %s", col, timestamp(*r.Min)))
		}
		if r.Max != nil {
			parts = append(parts, fmt.Sprintf("%s <= %s", col, timestamp(*r.Max)))
		}
	}
	return strings.Join(parts, " and ")
}

func number(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func timestamp(t time.Time) string {
	return sqlstore.Literal(t.UTC().Format(time.RFC3339Nano)) + "::timestamptz"
}

// using: выражение USING для ALTER COLUMN TYPE. Приведения строгие: значение,
// которое нельзя привести, обрывает миграцию ошибкой базы.
func using(from, to sqlstore.Column) string {
	col := ident(from.Name)
	f := from.Type.Kind
	switch to.Type.Kind {
	case schema.FieldText:
		return col + "::text"
	case schema.FieldNumber:
		switch f {
		case schema.FieldNumber:
			return col
		case schema.FieldBool:
			return fmt.Sprintf("case when %s then 1 else 0 end", col)
		case schema.FieldDate:
			return fmt.Sprintf("extract(epoch from %s)", col)
		}
		return fmt.Sprintf("trim(%s::text)::double precision", col)
	case schema.FieldBool:
		if f == schema.FieldNumber {
			return fmt.Sprintf("%s <> 0", col)
		}
		return fmt.Sprintf("trim(%s::text)::boolean", col)
	case schema.FieldDate:
		if f == schema.FieldNumber {
			return fmt.Sprintf("to_timestamp(%s)", col)
		}
		return fmt.Sprintf("trim(%s::text)::timestamptz", col)
	case schema.FieldRelation:
		if f == schema.FieldRelationMany {
			return fmt.Sprintf("%s->>0", col)
		}
		return col + "::text"
	case schema.FieldRelationMany:
		if f == schema.FieldRelationMany {
			return col
		}
		return fmt.Sprintf("case when %s is null then null else jsonb_build_array(%s::text) end", col, col)
	}
	return col
}

// singleReference обрывает транзакцию (check_violation), если хоть одна строка держит
// больше одной ссылки: USING ->>0 иначе молча отбросил бы остальные.
func singleReference(table, column string) string {
	msg := sqlstore.Literal(fmt.Sprintf("%s.%s holds more than one reference", table, column))
	col := ident(column)
	return fmt.Sprintf("do $$ begin if exists (select 1 from %s where case when jsonb_typeof(%s) = 'array' "+
		"then jsonb_array_length(%s) else 0 end > 1) then raise exception using errcode = 'check_violation', message = %s; end if; end $$",
		ident(table), col, col, msg)
}

// CreateTable: одна таблица с inline-ограничениями. Цели связей к этому моменту уже
// существуют: порядок изменений это гарантирует (взаимные связи создаются по фазам).
func (d Dialect) CreateTable(t sqlstore.Table) ([]string, error) {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := columnDef(c, d.OnDelete)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}
	return []string{fmt.Sprintf("create table %s (\n  %s\n)", ident(t.Name), strings.Join(cols, ",\n  "))}, nil
}

func (d Dialect) DropTable(t sqlstore.Table) []string {
	return []string{"drop table " + ident(t.Name)}
}

func (d Dialect) RenameTable(from, to string) []string {
	return []string{fmt.Sprintf("alter table %s rename to %s", ident(from), ident(to))}
}

func (d Dialect) AlterTable(before, after sqlstore.Table, fc change.FieldChange) ([]string, error) {
	tbl := "alter table " + ident(after.Name)
	switch fc := fc.(type) {
	case change.AddField:
		c, _ := after.Column(fc.Field.ID)
		def, err := columnDef(c, d.OnDelete)
		if err != nil {
			return nil, err
		}
		return []string{tbl + " add column " + def}, nil
	case change.RemoveField:
		c, _ := before.Column(fc.Field.ID)
		return []string{tbl + " drop column " + ident(c.Name)}, nil
	case change.RenameField:
		from, _ := before.Column(fc.Field)
		to, _ := after.Column(fc.Field)
		return []string{fmt.Sprintf("%s rename column %s to %s", tbl, ident(from.Name), ident(to.Name))}, nil
	case change.ChangeNullable:
		c, _ := after.Column(fc.Field)
		if c.Nullable {
			return []string{fmt.Sprintf("%s alter column %s drop not null", tbl, ident(c.Name))}, nil
		}
		return []string{fmt.Sprintf("%s alter column %s set not null", tbl, ident(c.Name))}, nil
	case change.ChangeRule:
		c, _ := after.Column(fc.Field)
		return d.replaceCheck(tbl, c), nil
	case change.ChangeType:
		from, _ := before.Column(fc.Field)
		to, _ := after.Column(fc.Field)
		return d.changeType(after.Name, from, to)
	case change.ChangeView:
		// view: проекция для API, в базе её нет
		return nil, nil
	}
	return nil, fmt.Errorf("pg: unknown field change %T", fc)
}

func (d Dialect) replaceCheck(tbl string, c sqlstore.Column) []string {
	name := ident(sqlstore.ConstraintName("ck", c.ID))
	out := []string{fmt.Sprintf("%s drop constraint if exists %s", tbl, name)}
	if expr := checkExpr(c); expr != "" {
		out = append(out, fmt.Sprintf("%s add constraint %s check (%s)", tbl, name, expr))
	}
	return out
}

func (d Dialect) changeType(table string, from, to sqlstore.Column) ([]string, error) {
	tbl := "alter table " + ident(table)
	fromType, err := mapType(from.Type.Kind)
	if err != nil {
		return nil, err
	}
	toType, err := mapType(to.Type.Kind)
	if err != nil {
		return nil, err
	}
	fk := ident(sqlstore.ConstraintName("fk", to.ID))
	out := []string{
		fmt.Sprintf("%s drop constraint if exists %s", tbl, ident(sqlstore.ConstraintName("ck", to.ID))),
		fmt.Sprintf("%s drop constraint if exists %s", tbl, fk),
	}
	if from.Type.Kind == schema.FieldRelationMany && to.Type.Kind == schema.FieldRelation {
		out = append(out, singleReference(table, from.Name))
	}
	if fromType != toType {
		out = append(out, fmt.Sprintf("%s alter column %s type %s using %s", tbl, ident(to.Name), toType, using(from, to)))
	}
	if expr := checkExpr(to); expr != "" {
		out = append(out, fmt.Sprintf("%s add constraint %s check (%s)",
			tbl, ident(sqlstore.ConstraintName("ck", to.ID)), expr))
	}
	if to.Ref != "" {
		out = append(out, fmt.Sprintf("%s add constraint %s foreign key (%s) references %s(%s) on delete %s",
			tbl, fk, ident(to.Name), ident(to.Ref), ident("id"), d.OnDelete))
	}
	return out, nil
}

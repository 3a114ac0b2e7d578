package memstore

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"qbase/internal/change"
	"qbase/internal/schema"
)

// newRowID: 15 символов [0-9a-z] из случайной части ULID; соответствует правилу базового поля id.
func newRowID() string {
	return strings.ToLower(ulid.Make().String())[11:]
}

func (s *state) apply(c change.Change) error {
	switch c := c.(type) {
	case change.AddEntity:
		if err := change.Replay(s.catalog, c); err != nil {
			return err
		}
		s.rows[c.Entity.ID()] = nil
		return nil
	case change.RemoveEntity:
		if err := change.Replay(s.catalog, c); err != nil {
			return err
		}
		delete(s.rows, c.Entity.ID())
		return nil
	case change.RenameEntity:
		return change.Replay(s.catalog, c)
	case change.ChangeEntity:
		for _, fc := range c.Fields {
			if err := s.applyField(c.ID, fc); err != nil {
				return fmt.Errorf("%s: %w", fc, err)
			}
		}
		return nil
	}
	return fmt.Errorf("memstore: unknown change %T", c)
}

func (s *state) applyField(entityID string, fc change.FieldChange) error {
	rows := s.rows[entityID]
	switch fc := fc.(type) {
	case change.AddField:
		if !fc.Field.Nullable && len(rows) > 0 {
			return fmt.Errorf("column %s is NOT NULL and the table has %d rows", fc.Field.Name, len(rows))
		}
		if err := change.ReplayField(s.catalog, entityID, fc); err != nil {
			return err
		}
		for _, r := range rows {
			r[fc.Field.ID] = nil
		}
	case change.RemoveField:
		if err := change.ReplayField(s.catalog, entityID, fc); err != nil {
			return err
		}
		for _, r := range rows {
			delete(r, fc.Field.ID)
		}
	case change.ChangeNullable:
		if !fc.Nullable {
			for _, r := range rows {
				if r[fc.Field] == nil {
					return fmt.Errorf("column %s contains null values", fc.Name)
				}
			}
		}
		return change.ReplayField(s.catalog, entityID, fc)
	case change.ChangeRule:
		if err := change.ReplayField(s.catalog, entityID, fc); err != nil {
			return err
		}
		return s.checkColumn(entityID, fc.Field)
	case change.ChangeType:
		converted := make([]any, len(rows))
		for i, r := range rows {
			v, err := convert(r[fc.Field], fc.From, fc.To)
			if err != nil {
				return fmt.Errorf("column %s: %w", fc.Name, err)
			}
			converted[i] = v
		}
		if err := change.ReplayField(s.catalog, entityID, fc); err != nil {
			return err
		}
		for i, r := range rows {
			r[fc.Field] = converted[i]
		}
		return s.checkColumn(entityID, fc.Field)
	case change.RenameField, change.ChangeView:
		return change.ReplayField(s.catalog, entityID, fc)
	default:
		return fmt.Errorf("memstore: unknown field change %T", fc)
	}
	return nil
}

// checkColumn перепроверяет существующие значения колонки после смены типа или правила.
func (s *state) checkColumn(entityID, fieldID string) error {
	e, _ := s.catalog.Entity(entityID)
	f, _ := e.Field(fieldID)
	for _, r := range s.rows[entityID] {
		if err := checkValue(f, r[fieldID]); err != nil {
			return err
		}
		if err := s.checkRefs(f, r[fieldID]); err != nil {
			return err
		}
	}
	return nil
}

// checkRefs: аналог внешнего ключа: значение связи должно указывать на существующую строку.
func (s *state) checkRefs(f schema.Field, v any) error {
	if v == nil || !f.Type.IsRelation() {
		return nil
	}
	var ids []string
	switch v := v.(type) {
	case string:
		ids = []string{v}
	case []string:
		ids = v
	}
	for _, id := range ids {
		if !s.exists(f.Type.References(), id) {
			return fmt.Errorf("%s: referenced row %q does not exist", f.Name, id)
		}
	}
	return nil
}

func (s *state) exists(targets []string, id string) bool {
	for _, t := range targets {
		e, ok := s.catalog.Entity(t)
		if !ok {
			continue
		}
		pk, _ := e.PrimaryKey()
		for _, r := range s.rows[t] {
			if r[pk.ID] == id {
				return true
			}
		}
	}
	return false
}

// checkValue: аналог CHECK/NOT NULL ограничений колонки.
func checkValue(f schema.Field, v any) error {
	if v == nil {
		if !f.Nullable {
			return fmt.Errorf("%s: null value violates not-null constraint", f.Name)
		}
		return nil
	}
	switch f.Type.Kind {
	case schema.FieldText:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s: expected text, got %T", f.Name, v)
		}
		r := f.Type.TextRule()
		n := utf8.RuneCountInString(s)
		if n < r.Min || (r.Max > 0 && n > r.Max) {
			return fmt.Errorf("%s: length %d out of range [%d, %d]", f.Name, n, r.Min, r.Max)
		}
		if r.Validate != "" {
			re, err := regexp.Compile(r.Validate)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			if !re.MatchString(s) {
				return fmt.Errorf("%s: value %q does not match %s", f.Name, s, r.Validate)
			}
		}
	case schema.FieldNumber:
		n, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%s: expected number, got %T", f.Name, v)
		}
		r := f.Type.NumberRule()
		if r.Integer && n != math.Trunc(n) {
			return fmt.Errorf("%s: %v is not an integer", f.Name, n)
		}
		if (r.Min != nil && n < *r.Min) || (r.Max != nil && n > *r.Max) {
			return fmt.Errorf("%s: %v out of range", f.Name, n)
		}
	case schema.FieldBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s: expected bool, got %T", f.Name, v)
		}
	case schema.FieldDate:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("%s: expected date, got %T", f.Name, v)
		}
		r := f.Type.DateRule()
		if (r.Min != nil && t.Before(*r.Min)) || (r.Max != nil && t.After(*r.Max)) {
			return fmt.Errorf("%s: %s out of range", f.Name, t.Format(time.RFC3339))
		}
	case schema.FieldRelation:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%s: expected row id, got %T", f.Name, v)
		}
	case schema.FieldRelationMany:
		if _, ok := v.([]string); !ok {
			return fmt.Errorf("%s: expected row id list, got %T", f.Name, v)
		}
	}
	return nil
}

// convert приводит значение к новому типу так же строго, как USING-приведение в SQL:
// то, что нельзя привести без потерь смысла, — ошибка.
func convert(v any, from, to schema.FieldType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch to.Kind {
	case schema.FieldText:
		return toText(v), nil
	case schema.FieldNumber:
		var n float64
		switch v := v.(type) {
		case float64:
			n = v
		case bool:
			if v {
				n = 1
			}
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to number", v)
			}
			n = f
		default:
			return nil, fmt.Errorf("cannot convert %s to number", from)
		}
		if to.NumberRule().Integer && n != math.Trunc(n) {
			return nil, fmt.Errorf("cannot convert %v to integer", n)
		}
		return n, nil
	case schema.FieldBool:
		switch v := v.(type) {
		case bool:
			return v, nil
		case float64:
			return v != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to bool", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("cannot convert %s to bool", from)
	case schema.FieldDate:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to date", v)
			}
			return t.UTC(), nil
		}
		return nil, fmt.Errorf("cannot convert %s to date", from)
	case schema.FieldRelation:
		switch v := v.(type) {
		case string:
			return v, nil
		case []string:
			switch len(v) {
			case 0:
				return nil, nil
			case 1:
				return v[0], nil
			}
			return nil, fmt.Errorf("cannot convert %d references to a single relation", len(v))
		}
		return nil, fmt.Errorf("cannot convert %s to relation", from)
	case schema.FieldRelationMany:
		switch v := v.(type) {
		case string:
			return []string{v}, nil
		case []string:
			return v, nil
		}
		return nil, fmt.Errorf("cannot convert %s to relation list", from)
	}
	return nil, fmt.Errorf("unknown field type %q", to.Kind)
}

func toText(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case []string:
		return strings.Join(v, ",")
	}
	return fmt.Sprint(v)
}

// Package compare вычисляет структурные изменения между двумя снимками схемы.
// Сущности и поля сопоставляются по identity token, поэтому переименование не
// превращается в удаление + добавление.
package compare

import (
	"errors"
	"fmt"

	"qbase/internal/change"
	"qbase/internal/schema"
)

var (
	ErrVersionNotAdvanced = errors.New("schema version not advanced")
	ErrDuplicateIdentity  = schema.ErrDuplicateIdentity
)

// Compare возвращает изменения, переводящие old в next. Функция чистая: хранилище не трогает.
// Порядок детерминирован (удаления в порядке old, остальное в порядке next), но для
// применения его нужно отсортировать пакетом order.
func Compare(old, next *schema.Schema) ([]change.Change, error) {
	if old == nil || next == nil {
		return nil, errors.New("compare: nil schema")
	}
	if !next.Version().GreaterThan(old.Version()) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrVersionNotAdvanced, old.Version(), next.Version())
	}
	oldByID, err := index(old)
	if err != nil {
		return nil, fmt.Errorf("old schema: %w", err)
	}
	newByID, err := index(next)
	if err != nil {
		return nil, fmt.Errorf("new schema: %w", err)
	}

	var out []change.Change
	for _, e := range old.Entities() {
		if _, ok := newByID[e.ID()]; !ok {
			out = append(out, change.RemoveEntity{Entity: e.Clone()})
		}
	}
	for _, e := range next.Entities() {
		prev, ok := oldByID[e.ID()]
		if !ok {
			out = append(out, change.AddEntity{Entity: e.Clone()})
			continue
		}
		if prev.Name() != e.Name() {
			out = append(out, change.RenameEntity{ID: e.ID(), From: prev.Name(), To: e.Name()})
		}
		if fields := Entity(prev, e); len(fields) > 0 {
			out = append(out, change.ChangeEntity{ID: e.ID(), Name: e.Name(), Fields: fields})
		}
	}
	return out, nil
}

func index(s *schema.Schema) (map[string]*schema.Entity, error) {
	out := make(map[string]*schema.Entity, len(s.Entities()))
	for _, e := range s.Entities() {
		if _, dup := out[e.ID()]; dup {
			return nil, fmt.Errorf("%w: entity %s", ErrDuplicateIdentity, e.ID())
		}
		out[e.ID()] = e
	}
	return out, nil
}

// Entity: поле-уровневый дифф двух версий одной сущности. Базовые поля не сравниваются.
// Для одного поля изменения идут в порядке: Rename, ChangeType, ChangeRule, ChangeNullable.
func Entity(old, next *schema.Entity) []change.FieldChange {
	var out []change.FieldChange

	oldFields := old.UserFields()
	newFields := next.UserFields()
	present := make(map[string]bool, len(newFields))
	for _, f := range newFields {
		present[f.ID] = true
	}
	for _, f := range oldFields {
		if !present[f.ID] {
			out = append(out, change.RemoveField{Field: f})
		}
	}
	for _, f := range newFields {
		prev, ok := old.Field(f.ID)
		if !ok {
			out = append(out, change.AddField{Field: f})
			continue
		}
		if prev.Base {
			continue
		}
		out = append(out, field(prev, f)...)
	}
	return append(out, views(old, next)...)
}

func field(prev, cur schema.Field) []change.FieldChange {
	var out []change.FieldChange
	if prev.Name != cur.Name {
		out = append(out, change.RenameField{Field: cur.ID, From: prev.Name, To: cur.Name})
	}
	switch {
	case !prev.Type.SameShape(cur.Type):
		out = append(out, change.ChangeType{Field: cur.ID, Name: cur.Name, From: prev.Type, To: cur.Type})
	case !prev.Type.RuleEqual(cur.Type):
		out = append(out, change.ChangeRule{Field: cur.ID, Name: cur.Name, From: prev.Type, To: cur.Type})
	}
	if prev.Nullable != cur.Nullable {
		out = append(out, change.ChangeNullable{Field: cur.ID, Name: cur.Name, Nullable: cur.Nullable})
	}
	return out
}

// views сравнивает DTO по имени: удалённые в порядке old, затем добавленные/изменённые в порядке next.
func views(old, next *schema.Entity) []change.FieldChange {
	var out []change.FieldChange
	for _, v := range old.Views() {
		if _, ok := next.View(v.Name); !ok {
			out = append(out, change.ChangeView{Name: v.Name, From: &v})
		}
	}
	for _, v := range next.Views() {
		prev, ok := old.View(v.Name)
		switch {
		case !ok:
			out = append(out, change.ChangeView{Name: v.Name, To: &v})
		case !prev.Equal(v):
			out = append(out, change.ChangeView{Name: v.Name, From: &prev, To: &v})
		}
	}
	return out
}

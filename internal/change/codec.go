package change

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"qbase/internal/schema"
)

// wire: плоский конверт изменения: kind + поля варианта. Так список изменений
// пишется в историю миграций и отдаётся по HTTP.
type wire struct {
	Kind   Kind           `json:"kind"`
	Entity *schema.Entity `json:"entity,omitempty"`
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name,omitempty"`
	From   string         `json:"from,omitempty"`
	To     string         `json:"to,omitempty"`
	Fields []fieldWire    `json:"fields,omitempty"`
}

type fieldWire struct {
	Kind     FieldKind         `json:"kind"`
	Field    string            `json:"field,omitempty"`
	Name     string            `json:"name,omitempty"`
	Nullable *bool             `json:"nullable,omitempty"`
	From     string            `json:"from,omitempty"`
	To       string            `json:"to,omitempty"`
	FromType *schema.FieldType `json:"fromType,omitempty"`
	ToType   *schema.FieldType `json:"toType,omitempty"`
	FromView *schema.View      `json:"fromView,omitempty"`
	ToView   *schema.View      `json:"toView,omitempty"`
	Def      *schema.Field     `json:"def,omitempty"`
}

func toWire(c Change) wire {
	switch c := c.(type) {
	case AddEntity:
		return wire{Kind: KindAddEntity, Entity: c.Entity}
	case RemoveEntity:
		return wire{Kind: KindRemoveEntity, Entity: c.Entity}
	case RenameEntity:
		return wire{Kind: KindRenameEntity, ID: c.ID, From: c.From, To: c.To}
	case ChangeEntity:
		w := wire{Kind: KindChangeEntity, ID: c.ID, Name: c.Name, Fields: make([]fieldWire, 0, len(c.Fields))}
		for _, fc := range c.Fields {
			w.Fields = append(w.Fields, fieldToWire(fc))
		}
		return w
	}
	panic(fmt.Sprintf("change: unknown change %T", c))
}

func fieldToWire(fc FieldChange) fieldWire {
	switch fc := fc.(type) {
	case ChangeNullable:
		n := fc.Nullable
		return fieldWire{Kind: KindChangeNullable, Field: fc.Field, Name: fc.Name, Nullable: &n}
	case RenameField:
		return fieldWire{Kind: KindRenameField, Field: fc.Field, From: fc.From, To: fc.To}
	case ChangeRule:
		from, to := fc.From, fc.To
		return fieldWire{Kind: KindChangeRule, Field: fc.Field, Name: fc.Name, FromType: &from, ToType: &to}
	case ChangeView:
		return fieldWire{Kind: KindChangeView, Name: fc.Name, FromView: fc.From, ToView: fc.To}
	case AddField:
		f := fc.Field
		return fieldWire{Kind: KindAddField, Def: &f}
	case RemoveField:
		f := fc.Field
		return fieldWire{Kind: KindRemoveField, Def: &f}
	case ChangeType:
		from, to := fc.From, fc.To
		return fieldWire{Kind: KindChangeType, Field: fc.Field, Name: fc.Name, FromType: &from, ToType: &to}
	}
	panic(fmt.Sprintf("change: unknown field change %T", fc))
}

func fromWire(w wire) (Change, error) {
	switch w.Kind {
	case KindAddEntity, KindRemoveEntity:
		if w.Entity == nil {
			return nil, fmt.Errorf("%s: entity is required", w.Kind)
		}
		if w.Kind == KindAddEntity {
			return AddEntity{Entity: w.Entity}, nil
		}
		return RemoveEntity{Entity: w.Entity}, nil
	case KindRenameEntity:
		if w.ID == "" || w.To == "" {
			return nil, fmt.Errorf("%s: id and to are required", w.Kind)
		}
		return RenameEntity{ID: w.ID, From: w.From, To: w.To}, nil
	case KindChangeEntity:
		if w.ID == "" {
			return nil, fmt.Errorf("%s: id is required", w.Kind)
		}
		c := ChangeEntity{ID: w.ID, Name: w.Name}
		for i, fw := range w.Fields {
			fc, err := fieldFromWire(fw)
			if err != nil {
				return nil, fmt.Errorf("%s %s: fields[%d]: %w", w.Kind, w.ID, i, err)
			}
			c.Fields = append(c.Fields, fc)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown change kind %q", w.Kind)
}

func fieldFromWire(w fieldWire) (FieldChange, error) {
	switch w.Kind {
	case KindChangeNullable:
		if w.Nullable == nil {
			return nil, fmt.Errorf("%s: nullable is required", w.Kind)
		}
		return ChangeNullable{Field: w.Field, Name: w.Name, Nullable: *w.Nullable}, nil
	case KindRenameField:
		return RenameField{Field: w.Field, From: w.From, To: w.To}, nil
	case KindChangeRule, KindChangeType:
		if w.FromType == nil || w.ToType == nil {
			return nil, fmt.Errorf("%s: fromType and toType are required", w.Kind)
		}
		if w.Kind == KindChangeRule {
			return ChangeRule{Field: w.Field, Name: w.Name, From: *w.FromType, To: *w.ToType}, nil
		}
		return ChangeType{Field: w.Field, Name: w.Name, From: *w.FromType, To: *w.ToType}, nil
	case KindChangeView:
		if w.FromView == nil && w.ToView == nil {
			return nil, fmt.Errorf("%s: fromView or toView is required", w.Kind)
		}
		return ChangeView{Name: w.Name, From: w.FromView, To: w.ToView}, nil
	case KindAddField, KindRemoveField:
		if w.Def == nil {
			return nil, fmt.Errorf("%s: def is required", w.Kind)
		}
		if w.Kind == KindAddField {
			return AddField{Field: *w.Def}, nil
		}
		return RemoveField{Field: *w.Def}, nil
	}
	return nil, fmt.Errorf("unknown field change kind %q", w.Kind)
}

// Marshal кодирует список изменений в JSON-массив конвертов.
func Marshal(changes []Change) ([]byte, error) {
	out := make([]wire, len(changes))
	for i, c := range changes {
		out[i] = toWire(c)
	}
	return json.Marshal(out)
}

// Checksum: sha256 закодированного списка; пишется в журнал рядом с версией.
func Checksum(changes []Change) (string, []byte, error) {
	b, err := Marshal(changes)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%x", sha256.Sum256(b)), b, nil
}

func Unmarshal(b []byte) ([]Change, error) {
	var in []wire
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	out := make([]Change, 0, len(in))
	for i, w := range in {
		c, err := fromWire(w)
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Summary: короткое читаемое представление изменения для API и логов.
type Summary struct {
	Kind        Kind   `json:"kind"`
	Entity      string `json:"entity"`
	Destructive bool   `json:"destructive"`
	Text        string `json:"text"`
}

func Summarize(changes []Change) []Summary {
	out := make([]Summary, len(changes))
	for i, c := range changes {
		out[i] = Summary{Kind: c.Kind(), Entity: c.EntityID(), Destructive: c.Destructive(), Text: c.String()}
	}
	return out
}

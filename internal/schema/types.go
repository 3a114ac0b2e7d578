package schema

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

type EntityKind string

const (
	KindAuth     EntityKind = "AUTH"
	KindData     EntityKind = "DATA"
	KindComputed EntityKind = "COMPUTED"
)

func (k EntityKind) Valid() bool {
	switch k {
	case KindAuth, KindData, KindComputed:
		return true
	}
	return false
}

type FieldKind string

const (
	FieldText         FieldKind = "TEXT"
	FieldNumber       FieldKind = "NUMBER"
	FieldBool         FieldKind = "BOOL"
	FieldDate         FieldKind = "DATE"
	FieldRelation     FieldKind = "RELATION"
	FieldRelationMany FieldKind = "RELATION_MANY"
)

// TextRule: ограничения текстового поля. Max == 0 означает «без верхней границы».
type TextRule struct {
	Min      int    `json:"min" yaml:"min"`
	Max      int    `json:"max" yaml:"max"`
	Validate string `json:"validate,omitempty" yaml:"validate,omitempty"`
	Generate string `json:"generate,omitempty" yaml:"generate,omitempty"`
}

type NumberRule struct {
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Integer bool     `json:"integer" yaml:"integer"`
}

type DateRule struct {
	Min *time.Time `json:"min,omitempty" yaml:"min,omitempty"`
	Max *time.Time `json:"max,omitempty" yaml:"max,omitempty"`
}

// FieldType: закрытый набор вариантов: Kind определяет, какой из payload-ов заполнен.
// Relation-цели хранятся как identity token сущности, а не имя.
type FieldType struct {
	Kind    FieldKind   `json:"kind" yaml:"kind"`
	Text    *TextRule   `json:"text,omitempty" yaml:"text,omitempty"`
	Number  *NumberRule `json:"number,omitempty" yaml:"number,omitempty"`
	Date    *DateRule   `json:"date,omitempty" yaml:"date,omitempty"`
	Target  string      `json:"target,omitempty" yaml:"target,omitempty"`
	Targets []string    `json:"targets,omitempty" yaml:"targets,omitempty"`
}

func Text(r TextRule) FieldType     { return FieldType{Kind: FieldText, Text: &r} }
func Number(r NumberRule) FieldType { return FieldType{Kind: FieldNumber, Number: &r} }
func Bool() FieldType               { return FieldType{Kind: FieldBool} }
func Date(r DateRule) FieldType     { return FieldType{Kind: FieldDate, Date: &r} }

func Relation(target string) FieldType {
	return FieldType{Kind: FieldRelation, Target: target}
}

func RelationMany(targets ...string) FieldType {
	return FieldType{Kind: FieldRelationMany, Targets: append([]string(nil), targets...)}
}

func (t FieldType) Clone() FieldType {
	out := FieldType{Kind: t.Kind, Target: t.Target}
	if t.Text != nil {
		r := *t.Text
		out.Text = &r
	}
	if t.Number != nil {
		r := NumberRule{Integer: t.Number.Integer, Min: cloneFloat(t.Number.Min), Max: cloneFloat(t.Number.Max)}
		out.Number = &r
	}
	if t.Date != nil {
		r := DateRule{Min: cloneTime(t.Date.Min), Max: cloneTime(t.Date.Max)}
		out.Date = &r
	}
	if t.Targets != nil {
		out.Targets = append([]string(nil), t.Targets...)
	}
	return out
}

// References возвращает identity token-ы сущностей, на которые указывает поле.
func (t FieldType) References() []string {
	switch t.Kind {
	case FieldRelation:
		if t.Target == "" {
			return nil
		}
		return []string{t.Target}
	case FieldRelationMany:
		return append([]string(nil), t.Targets...)
	}
	return nil
}

func (t FieldType) Refers(entityID string) bool {
	return slices.Contains(t.References(), entityID)
}

func (t FieldType) IsRelation() bool {
	return t.Kind == FieldRelation || t.Kind == FieldRelationMany
}

// SameShape сообщает, совпадает ли «форма хранения» двух типов. Несовпадение означает
// деструктивную смену типа: другой вид, флаг integer или другие цели связи.
func (t FieldType) SameShape(o FieldType) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case FieldNumber:
		return t.numberRule().Integer == o.numberRule().Integer
	case FieldRelation:
		return t.Target == o.Target
	case FieldRelationMany:
		// порядок целей не влияет на хранение
		return len(t.Targets) == len(o.Targets) &&
			slices.Equal(slices.Sorted(slices.Values(t.Targets)), slices.Sorted(slices.Values(o.Targets)))
	}
	return true
}

// RuleEqual сравнивает параметры валидации при одинаковой форме.
func (t FieldType) RuleEqual(o FieldType) bool {
	switch t.Kind {
	case FieldText:
		return t.textRule() == o.textRule()
	case FieldNumber:
		a, b := t.numberRule(), o.numberRule()
		return floatEq(a.Min, b.Min) && floatEq(a.Max, b.Max)
	case FieldDate:
		a, b := t.dateRule(), o.dateRule()
		return timeEq(a.Min, b.Min) && timeEq(a.Max, b.Max)
	}
	return true
}

// HasRule: есть ли у типа хоть одно ограничение, которое хранилище может проверять.
func (t FieldType) HasRule() bool {
	switch t.Kind {
	case FieldText:
		r := t.textRule()
		return r.Min > 0 || r.Max > 0 || r.Validate != ""
	case FieldNumber:
		r := t.numberRule()
		return r.Min != nil || r.Max != nil
	case FieldDate:
		r := t.dateRule()
		return r.Min != nil || r.Max != nil
	}
	return false
}

func (t FieldType) String() string {
	switch t.Kind {
	case FieldText:
		r := t.textRule()
		return fmt.Sprintf("TEXT(%d,%d)", r.Min, r.Max)
	case FieldNumber:
		if t.numberRule().Integer {
			return "NUMBER(int)"
		}
		return "NUMBER"
	case FieldRelation:
		return "RELATION(" + t.Target + ")"
	case FieldRelationMany:
		return fmt.Sprintf("RELATION_MANY%v", t.Targets)
	}
	return string(t.Kind)
}

func (t FieldType) TextRule() TextRule     { return t.textRule() }
func (t FieldType) NumberRule() NumberRule { return t.numberRule() }
func (t FieldType) DateRule() DateRule     { return t.dateRule() }

func (t FieldType) textRule() TextRule {
	if t.Text == nil {
		return TextRule{}
	}
	return *t.Text
}

func (t FieldType) numberRule() NumberRule {
	if t.Number == nil {
		return NumberRule{}
	}
	return *t.Number
}

func (t FieldType) dateRule() DateRule {
	if t.Date == nil {
		return DateRule{}
	}
	return *t.Date
}

func (t FieldType) validate() error {
	switch t.Kind {
	case FieldText:
		r := t.textRule()
		if r.Min < 0 || r.Max < 0 {
			return fmt.Errorf("text bounds must be non-negative")
		}
		if r.Max > 0 && r.Min > r.Max {
			return fmt.Errorf("text min %d exceeds max %d", r.Min, r.Max)
		}
		if r.Validate != "" {
			if _, err := regexp.Compile(r.Validate); err != nil {
				return fmt.Errorf("invalid validation pattern %q: %w", r.Validate, err)
			}
		}
	case FieldNumber:
		r := t.numberRule()
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("number min %v exceeds max %v", *r.Min, *r.Max)
		}
	case FieldDate:
		r := t.dateRule()
		if r.Min != nil && r.Max != nil && r.Min.After(*r.Max) {
			return fmt.Errorf("date min %s is after max %s", r.Min, r.Max)
		}
	case FieldBool:
	case FieldRelation:
		if t.Target == "" {
			return fmt.Errorf("relation without target")
		}
	case FieldRelationMany:
		if len(t.Targets) == 0 {
			return fmt.Errorf("relation_many without targets")
		}
		seen := map[string]struct{}{}
		for _, id := range t.Targets {
			if id == "" {
				return fmt.Errorf("relation_many with empty target")
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("relation_many lists target %s twice", id)
			}
			seen[id] = struct{}{}
		}
	default:
		return fmt.Errorf("unknown field type %q", t.Kind)
	}
	return nil
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func floatEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timeEq(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

package change

import (
	"fmt"

	"qbase/internal/schema"
)

type FieldKind string

const (
	KindChangeNullable FieldKind = "change_nullable"
	KindRenameField    FieldKind = "rename"
	KindChangeRule     FieldKind = "change_rule"
	KindChangeView     FieldKind = "change_view"
	KindAddField       FieldKind = "add_field"
	KindRemoveField    FieldKind = "remove_field"
	KindChangeType     FieldKind = "change_type"
)

// FieldChange: закрытый набор изменений внутри сущности.
// FieldID пуст для ChangeView: DTO принадлежит сущности, а не полю.
type FieldChange interface {
	Kind() FieldKind
	FieldID() string
	Destructive() bool
	String() string
	isFieldChange()
}

type ChangeNullable struct {
	Field    string
	Name     string
	Nullable bool
}

type RenameField struct {
	Field string
	From  string
	To    string
}

// ChangeRule: те же вид и форма хранения, другие параметры валидации.
type ChangeRule struct {
	Field string
	Name  string
	From  schema.FieldType
	To    schema.FieldType
}

// ChangeView: DTO добавлен (From == nil), удалён (To == nil) или изменён.
type ChangeView struct {
	Name string
	From *schema.View
	To   *schema.View
}

type AddField struct {
	Field schema.Field
}

type RemoveField struct {
	Field schema.Field
}

// ChangeType: смена формы хранения поля. Всегда деструктивна: конверсия может потерять данные.
type ChangeType struct {
	Field string
	Name  string
	From  schema.FieldType
	To    schema.FieldType
}

func (ChangeNullable) Kind() FieldKind { return KindChangeNullable }
func (RenameField) Kind() FieldKind    { return KindRenameField }
func (ChangeRule) Kind() FieldKind     { return KindChangeRule }
func (ChangeView) Kind() FieldKind     { return KindChangeView }
func (AddField) Kind() FieldKind       { return KindAddField }
func (RemoveField) Kind() FieldKind    { return KindRemoveField }
func (ChangeType) Kind() FieldKind     { return KindChangeType }

func (c ChangeNullable) FieldID() string { return c.Field }
func (c RenameField) FieldID() string    { return c.Field }
func (c ChangeRule) FieldID() string     { return c.Field }
func (ChangeView) FieldID() string       { return "" }
func (c AddField) FieldID() string       { return c.Field.ID }
func (c RemoveField) FieldID() string    { return c.Field.ID }
func (c ChangeType) FieldID() string     { return c.Field }

func (ChangeNullable) Destructive() bool { return false }
func (RenameField) Destructive() bool    { return false }
func (ChangeRule) Destructive() bool     { return false }
func (ChangeView) Destructive() bool     { return false }
func (AddField) Destructive() bool       { return false }
func (RemoveField) Destructive() bool    { return true }
func (ChangeType) Destructive() bool     { return true }

func (c ChangeNullable) String() string {
	return fmt.Sprintf("ChangeNullable(%s, %t)", c.Name, c.Nullable)
}

func (c RenameField) String() string {
	return fmt.Sprintf("Rename(%s -> %s)", c.From, c.To)
}

func (c ChangeRule) String() string {
	return fmt.Sprintf("ChangeRule(%s, %s)", c.Name, c.To)
}

func (c ChangeView) String() string {
	switch {
	case c.From == nil:
		return fmt.Sprintf("ChangeView(+%s)", c.Name)
	case c.To == nil:
		return fmt.Sprintf("ChangeView(-%s)", c.Name)
	}
	return fmt.Sprintf("ChangeView(%s)", c.Name)
}

func (c AddField) String() string {
	return fmt.Sprintf("AddField(%s)", c.Field.Name)
}

func (c RemoveField) String() string {
	return fmt.Sprintf("RemoveField(%s)", c.Field.Name)
}

func (c ChangeType) String() string {
	return fmt.Sprintf("ChangeType(%s, %s -> %s)", c.Name, c.From, c.To)
}

func (ChangeNullable) isFieldChange() {}
func (RenameField) isFieldChange()    {}
func (ChangeRule) isFieldChange()     {}
func (ChangeView) isFieldChange()     {}
func (AddField) isFieldChange()       {}
func (RemoveField) isFieldChange()    {}
func (ChangeType) isFieldChange()     {}

func CloneField(fc FieldChange) FieldChange {
	switch fc := fc.(type) {
	case ChangeNullable, RenameField:
		return fc
	case ChangeRule:
		return ChangeRule{Field: fc.Field, Name: fc.Name, From: fc.From.Clone(), To: fc.To.Clone()}
	case ChangeView:
		return ChangeView{Name: fc.Name, From: cloneView(fc.From), To: cloneView(fc.To)}
	case AddField:
		return AddField{Field: fc.Field.Clone()}
	case RemoveField:
		return RemoveField{Field: fc.Field.Clone()}
	case ChangeType:
		return ChangeType{Field: fc.Field, Name: fc.Name, From: fc.From.Clone(), To: fc.To.Clone()}
	}
	panic(fmt.Sprintf("change: unknown field change %T", fc))
}

func cloneView(v *schema.View) *schema.View {
	if v == nil {
		return nil
	}
	c := v.Clone()
	return &c
}

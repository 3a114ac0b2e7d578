// Package change описывает структурные изменения схемы — выход компаратора и вход мигратора.
// Изменения — самостоятельные значения (глубокие копии), без ссылок на живые объекты схемы,
// поэтому список можно логировать, сохранять в историю и переигрывать.
package change

import (
	"fmt"
	"strings"

	"qbase/internal/schema"
)

type Kind string

const (
	KindAddEntity    Kind = "add_entity"
	KindRemoveEntity Kind = "remove_entity"
	KindRenameEntity Kind = "rename_entity"
	KindChangeEntity Kind = "change_entity"
)

// Change: закрытый набор: AddEntity, RemoveEntity, RenameEntity, ChangeEntity.
// Реализации вне пакета невозможны (isChange не экспортируется).
type Change interface {
	Kind() Kind
	EntityID() string
	Destructive() bool
	String() string
	isChange()
}

type AddEntity struct {
	Entity *schema.Entity
}

type RemoveEntity struct {
	Entity *schema.Entity
}

type RenameEntity struct {
	ID   string
	From string
	To   string
}

// ChangeEntity: изменения полей и DTO одной сущности. Name — имя сущности в целевой схеме.
type ChangeEntity struct {
	ID     string
	Name   string
	Fields []FieldChange
}

func (AddEntity) Kind() Kind    { return KindAddEntity }
func (RemoveEntity) Kind() Kind { return KindRemoveEntity }
func (RenameEntity) Kind() Kind { return KindRenameEntity }
func (ChangeEntity) Kind() Kind { return KindChangeEntity }

func (c AddEntity) EntityID() string    { return c.Entity.ID() }
func (c RemoveEntity) EntityID() string { return c.Entity.ID() }
func (c RenameEntity) EntityID() string { return c.ID }
func (c ChangeEntity) EntityID() string { return c.ID }

func (AddEntity) Destructive() bool    { return false }
func (RemoveEntity) Destructive() bool { return true }
func (RenameEntity) Destructive() bool { return false }

func (c ChangeEntity) Destructive() bool {
	for _, fc := range c.Fields {
		if fc.Destructive() {
			return true
		}
	}
	return false
}

func (c AddEntity) String() string {
	return fmt.Sprintf("AddEntity(%s)", c.Entity.Name())
}

func (c RemoveEntity) String() string {
	return fmt.Sprintf("RemoveEntity(%s)", c.Entity.Name())
}

func (c RenameEntity) String() string {
	return fmt.Sprintf("RenameEntity(%s -> %s)", c.From, c.To)
}

func (c ChangeEntity) String() string {
	parts := make([]string, len(c.Fields))
	for i, fc := range c.Fields {
		parts[i] = fc.String()
	}
	return fmt.Sprintf("ChangeEntity(%s, [%s])", c.Name, strings.Join(parts, ", "))
}

func (AddEntity) isChange()    {}
func (RemoveEntity) isChange() {}
func (RenameEntity) isChange() {}
func (ChangeEntity) isChange() {}

// Destructive возвращает изменения, которые могут потерять или испортить данные.
func Destructive(changes []Change) []Change {
	var out []Change
	for _, c := range changes {
		if c.Destructive() {
			out = append(out, c)
		}
	}
	return out
}

// Clone копирует изменение целиком, включая снимки сущностей.
func Clone(c Change) Change {
	switch c := c.(type) {
	case AddEntity:
		return AddEntity{Entity: c.Entity.Clone()}
	case RemoveEntity:
		return RemoveEntity{Entity: c.Entity.Clone()}
	case RenameEntity:
		return c
	case ChangeEntity:
		out := ChangeEntity{ID: c.ID, Name: c.Name, Fields: make([]FieldChange, len(c.Fields))}
		for i, fc := range c.Fields {
			out.Fields[i] = CloneField(fc)
		}
		return out
	}
	panic(fmt.Sprintf("change: unknown change %T", c))
}

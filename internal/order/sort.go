// Package order упорядочивает изменения схемы так, чтобы их можно было применять
// по одному, не нарушая ссылочную целостность ни на одном промежуточном шаге.
package order

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"qbase/internal/change"
	"qbase/internal/schema"
)

var (
	ErrOrdering          = errors.New("cannot order changes")
	ErrCyclicDependency  = fmt.Errorf("%w: cyclic dependency", ErrOrdering)
	ErrDanglingReference = fmt.Errorf("%w: dangling reference", ErrOrdering)
)

// Sort возвращает изменения в безопасном порядке применения.
//
// base: схема, которую сейчас отражает хранилище (nil для пустого хранилища). По ней
// проверяется, что удаляемая сущность не останется целью связи у выживающей сущности.
//
// Изменения полей удаляемых сущностей отбрасываются. Циклы из одних AddEntity
// разбиваются на две фазы (сущность без связей внутри цикла, затем AddField), циклы из
// переименований (обмен именами) проходят через временное имя. Любой другой цикл —
// ErrCyclicDependency.
func Sort(changes []change.Change, base *schema.Schema) ([]change.Change, error) {
	nodes := explode(changes)
	if err := checkDangling(nodes, base); err != nil {
		return nil, err
	}

	names := takenNames(nodes, base)
	// каждое разбиение убирает хотя бы одно ребро цикла; ограничение на число проходов
	// защищает от зацикливания на непредвиденной комбинации
	for range len(nodes) + 1 {
		comps := build(nodes).sccs()
		if len(comps) == 0 {
			break
		}
		for _, comp := range comps {
			var err error
			nodes, err = breakCycle(nodes, comp, names)
			if err != nil {
				return nil, err
			}
		}
	}

	g := build(nodes)
	seq, ok := g.kahn()
	if !ok {
		return nil, fmt.Errorf("%w: unresolved cycle", ErrCyclicDependency)
	}
	return merge(g.nodes, seq), nil
}

// explode разворачивает ChangeEntity в узлы по одному изменению поля и отбрасывает
// изменения сущностей, которые удаляются в этом же списке.
func explode(changes []change.Change) []*node {
	removed := map[string]bool{}
	for _, c := range changes {
		if c.Kind() == change.KindRemoveEntity {
			removed[c.EntityID()] = true
		}
	}
	var nodes []*node
	for i, c := range changes {
		switch c := c.(type) {
		case change.ChangeEntity:
			if removed[c.ID] {
				continue
			}
			for j, fc := range c.Fields {
				nodes = append(nodes, &node{
					key:    key{pos: i, sub: j},
					change: change.ChangeEntity{ID: c.ID, Name: c.Name, Fields: []change.FieldChange{change.CloneField(fc)}},
				})
			}
		case change.RenameEntity:
			if removed[c.ID] {
				continue
			}
			nodes = append(nodes, &node{key: key{pos: i}, change: c})
		default:
			nodes = append(nodes, &node{key: key{pos: i}, change: change.Clone(c)})
		}
	}
	return nodes
}

func checkDangling(nodes []*node, base *schema.Schema) error {
	removed := map[string]string{}
	for _, n := range nodes {
		if c, ok := n.change.(change.RemoveEntity); ok {
			removed[c.Entity.ID()] = c.Entity.Name()
		}
	}
	if len(removed) == 0 {
		return nil
	}
	for id, name := range removed {
		if base == nil {
			return fmt.Errorf("%w: removal of %s from an empty store", ErrDanglingReference, name)
		}
		if _, ok := base.Entity(id); !ok {
			return fmt.Errorf("%w: removed entity %s is not in the base schema", ErrDanglingReference, name)
		}
	}
	released := map[string]bool{}
	for _, n := range nodes {
		for _, id := range introduces(n) {
			if name, ok := removed[id]; ok {
				return fmt.Errorf("%w: %s introduces a relation to removed entity %s", ErrDanglingReference, n.change, name)
			}
		}
		fc, ok := n.fieldChange()
		if !ok {
			continue
		}
		for _, id := range drops(n) {
			released[n.entity()+"/"+fc.FieldID()+"/"+id] = true
		}
	}
	for _, e := range base.Entities() {
		if _, gone := removed[e.ID()]; gone {
			continue
		}
		for _, f := range e.UserFields() {
			for _, id := range f.Type.References() {
				name, gone := removed[id]
				if !gone || id == e.ID() || released[e.ID()+"/"+f.ID+"/"+id] {
					continue
				}
				return fmt.Errorf("%w: %s.%s still references removed entity %s", ErrDanglingReference, e.Name(), f.Name, name)
			}
		}
	}
	return nil
}

func breakCycle(nodes []*node, comp []int, names *taken) ([]*node, error) {
	kinds := map[string]bool{}
	for _, i := range comp {
		k := string(nodes[i].change.Kind())
		if fc, ok := nodes[i].fieldChange(); ok {
			k = string(fc.Kind())
		}
		kinds[k] = true
	}
	if len(kinds) == 1 {
		switch {
		case kinds[string(change.KindAddEntity)]:
			return splitCreation(nodes, comp), nil
		case kinds[string(change.KindRenameEntity)], kinds[string(change.KindRenameField)]:
			return splitRename(nodes, comp[0], names), nil
		}
	}
	parts := make([]string, len(comp))
	for i, v := range comp {
		parts[i] = nodes[v].change.String()
	}
	return nil, fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(parts, " -> "))
}

// splitCreation создаёт сущности цикла без связей друг на друга, а сами связи
// добавляет отдельными AddField после создания всех участников.
func splitCreation(nodes []*node, comp []int) []*node {
	members := map[string]bool{}
	for _, i := range comp {
		members[nodes[i].entity()] = true
	}
	for _, i := range comp {
		n := nodes[i]
		e := n.change.(change.AddEntity).Entity
		var cut []schema.Field
		for _, f := range e.UserFields() {
			if slices.ContainsFunc(f.Type.References(), func(id string) bool { return id != e.ID() && members[id] }) {
				cut = append(cut, f)
			}
		}
		ids := make([]string, len(cut))
		for j, f := range cut {
			ids[j] = f.ID
			nodes = append(nodes, &node{
				key:    key{pos: n.key.pos, sub: n.key.sub + j + 1},
				change: change.ChangeEntity{ID: e.ID(), Name: e.Name(), Fields: []change.FieldChange{change.AddField{Field: f}}},
			})
		}
		n.change = change.AddEntity{Entity: e.Without(ids...)}
	}
	return nodes
}

// splitRename превращает переименование From -> To в From -> tmp и tmp -> To.
func splitRename(nodes []*node, i int, names *taken) []*node {
	n := nodes[i]
	second := &node{key: key{pos: n.key.pos, sub: n.key.sub, part: n.key.part + 1}}
	switch c := n.change.(type) {
	case change.RenameEntity:
		tmp := names.fresh("e", c.From)
		n.change = change.RenameEntity{ID: c.ID, From: c.From, To: tmp}
		second.change = change.RenameEntity{ID: c.ID, From: tmp, To: c.To}
	case change.ChangeEntity:
		fc := c.Fields[0].(change.RenameField)
		tmp := names.fresh("f/"+c.ID, fc.From)
		n.change = change.ChangeEntity{ID: c.ID, Name: c.Name, Fields: []change.FieldChange{
			change.RenameField{Field: fc.Field, From: fc.From, To: tmp},
		}}
		second.change = change.ChangeEntity{ID: c.ID, Name: c.Name, Fields: []change.FieldChange{
			change.RenameField{Field: fc.Field, From: tmp, To: fc.To},
		}}
	}
	return append(nodes, second)
}

// taken: занятые имена по областям видимости ("e" для сущностей, "f/<entity>" для полей).
type taken struct {
	names map[string]bool
}

func takenNames(nodes []*node, base *schema.Schema) *taken {
	t := &taken{names: map[string]bool{}}
	for _, n := range nodes {
		v, o := slots(n)
		for _, s := range append(v, o...) {
			t.names[s] = true
		}
		if c, ok := n.change.(change.AddEntity); ok {
			for _, f := range c.Entity.Fields() {
				t.names["f/"+c.Entity.ID()+"/"+strings.ToLower(f.Name)] = true
			}
		}
	}
	if base != nil {
		for _, e := range base.Entities() {
			t.names["e/"+strings.ToLower(e.Name())] = true
			for _, f := range e.Fields() {
				t.names["f/"+e.ID()+"/"+strings.ToLower(f.Name)] = true
			}
		}
	}
	return t
}

func (t *taken) fresh(scope, from string) string {
	for i := 0; ; i++ {
		name := from + "_tmp"
		if i > 0 {
			name = fmt.Sprintf("%s_tmp%d", from, i)
		}
		k := scope + "/" + strings.ToLower(name)
		if !t.names[k] {
			t.names[k] = true
			return name
		}
	}
}

// merge собирает соседние изменения полей одной сущности обратно в один ChangeEntity.
func merge(nodes []*node, seq []int) []change.Change {
	var out []change.Change
	for _, v := range seq {
		c := nodes[v].change
		if ce, ok := c.(change.ChangeEntity); ok && len(out) > 0 {
			if last, ok := out[len(out)-1].(change.ChangeEntity); ok && last.ID == ce.ID {
				last.Fields = append(last.Fields, ce.Fields...)
				last.Name = ce.Name
				out[len(out)-1] = last
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

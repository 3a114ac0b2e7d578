package order

import (
	"slices"
	"strings"

	"qbase/internal/change"
)

// key: исходная позиция узла; по ней разрешаются «ничьи» в топосортировке.
// pos: индекс изменения во входном списке, sub — индекс поля внутри ChangeEntity
// (или дополнительного AddField после разбиения), part — половина разбитого переименования.
type key struct {
	pos, sub, part int
}

func (k key) less(o key) bool {
	if k.pos != o.pos {
		return k.pos < o.pos
	}
	if k.sub != o.sub {
		return k.sub < o.sub
	}
	return k.part < o.part
}

// node: одно применяемое изменение. ChangeEntity в узле всегда несёт ровно одно FieldChange.
type node struct {
	key    key
	change change.Change
}

func (n *node) entity() string { return n.change.EntityID() }

// fieldChange возвращает единственное изменение поля узла ChangeEntity.
func (n *node) fieldChange() (change.FieldChange, bool) {
	c, ok := n.change.(change.ChangeEntity)
	if !ok || len(c.Fields) == 0 {
		return nil, false
	}
	return c.Fields[0], true
}

// introduces: сущности, на которые узел начинает ссылаться (без ссылок на себя).
func introduces(n *node) []string {
	var out []string
	switch c := n.change.(type) {
	case change.AddEntity:
		out = c.Entity.References()
	case change.ChangeEntity:
		switch fc := c.Fields[0].(type) {
		case change.AddField:
			out = fc.Field.Type.References()
		case change.ChangeType:
			out = minus(fc.To.References(), fc.From.References())
		}
	}
	return slices.DeleteFunc(out, func(id string) bool { return id == n.entity() })
}

// drops: сущности, ссылка на которые у узла исчезает.
func drops(n *node) []string {
	var out []string
	switch c := n.change.(type) {
	case change.RemoveEntity:
		out = c.Entity.References()
	case change.ChangeEntity:
		switch fc := c.Fields[0].(type) {
		case change.RemoveField:
			out = fc.Field.Type.References()
		case change.ChangeType:
			out = minus(fc.From.References(), fc.To.References())
		}
	}
	return slices.DeleteFunc(out, func(id string) bool { return id == n.entity() })
}

func minus(a, b []string) []string {
	return slices.DeleteFunc(slices.Clone(a), func(id string) bool { return slices.Contains(b, id) })
}

// slots: имена, которые узел освобождает и занимает. Имена сущностей уникальны в схеме,
// имена полей в сущности; оба без учёта регистра.
func slots(n *node) (vacates, occupies []string) {
	entitySlot := func(name string) string { return "e/" + strings.ToLower(name) }
	fieldSlot := func(name string) string { return "f/" + n.entity() + "/" + strings.ToLower(name) }

	switch c := n.change.(type) {
	case change.AddEntity:
		return nil, []string{entitySlot(c.Entity.Name())}
	case change.RemoveEntity:
		return []string{entitySlot(c.Entity.Name())}, nil
	case change.RenameEntity:
		return []string{entitySlot(c.From)}, []string{entitySlot(c.To)}
	case change.ChangeEntity:
		switch fc := c.Fields[0].(type) {
		case change.AddField:
			return nil, []string{fieldSlot(fc.Field.Name)}
		case change.RemoveField:
			return []string{fieldSlot(fc.Field.Name)}, nil
		case change.RenameField:
			return []string{fieldSlot(fc.From)}, []string{fieldSlot(fc.To)}
		}
	}
	return nil, nil
}

type graph struct {
	nodes []*node
	out   [][]int
}

// build строит граф зависимостей: ребро a -> b означает «a применяется раньше b».
func build(nodes []*node) *graph {
	g := &graph{nodes: nodes, out: make([][]int, len(nodes))}
	seen := map[[2]int]bool{}
	edge := func(a, b int) {
		if a == b || seen[[2]int{a, b}] {
			return
		}
		seen[[2]int{a, b}] = true
		g.out[a] = append(g.out[a], b)
	}

	added := map[string]int{}
	removed := map[string]int{}
	renamed := map[string][]int{}
	fieldRenames := map[string][]int{}
	vacate := map[string][]int{}
	occupy := map[string][]int{}
	for i, n := range nodes {
		switch c := n.change.(type) {
		case change.AddEntity:
			added[c.Entity.ID()] = i
		case change.RemoveEntity:
			removed[c.Entity.ID()] = i
		case change.RenameEntity:
			renamed[c.ID] = append(renamed[c.ID], i)
		case change.ChangeEntity:
			if fc, ok := c.Fields[0].(change.RenameField); ok {
				k := c.ID + "/" + fc.Field
				fieldRenames[k] = append(fieldRenames[k], i)
			}
		}
		v, o := slots(n)
		for _, s := range v {
			vacate[s] = append(vacate[s], i)
		}
		for _, s := range o {
			occupy[s] = append(occupy[s], i)
		}
	}

	for i, n := range nodes {
		for _, id := range introduces(n) {
			if a, ok := added[id]; ok {
				edge(a, i)
			}
			for _, r := range renamed[id] {
				edge(r, i)
			}
		}
		for _, id := range drops(n) {
			if d, ok := removed[id]; ok {
				edge(i, d)
			}
		}
		fc, ok := n.fieldChange()
		if !ok {
			continue
		}
		if a, ok := added[n.entity()]; ok {
			edge(a, i)
		}
		for _, r := range renamed[n.entity()] {
			edge(r, i)
		}
		if fc.Kind() != change.KindRenameField && fc.FieldID() != "" {
			for _, r := range fieldRenames[n.entity()+"/"+fc.FieldID()] {
				edge(r, i)
			}
		}
	}
	// половинки разбитого переименования идут строго друг за другом
	for _, group := range []map[string][]int{renamed, fieldRenames} {
		for _, rs := range group {
			slices.SortFunc(rs, func(a, b int) int { return compareKeys(nodes, a, b) })
			for i := 1; i < len(rs); i++ {
				edge(rs[i-1], rs[i])
			}
		}
	}
	for s, vs := range vacate {
		for _, v := range vs {
			for _, o := range occupy[s] {
				if owner(nodes[v]) != owner(nodes[o]) {
					edge(v, o)
				}
			}
		}
	}
	return g
}

// owner: кому принадлежит имя: сущности или конкретному полю.
func owner(n *node) string {
	if fc, ok := n.fieldChange(); ok {
		return n.entity() + "/" + fc.FieldID()
	}
	return n.entity()
}

func compareKeys(nodes []*node, a, b int) int {
	if nodes[a].key.less(nodes[b].key) {
		return -1
	}
	if nodes[b].key.less(nodes[a].key) {
		return 1
	}
	return a - b
}

// sccs: компоненты сильной связности (Тарьян), только нетривиальные (больше одного узла).
// Узлы внутри компоненты и сами компоненты упорядочены по исходной позиции.
func (g *graph) sccs() [][]int {
	var (
		index   = 0
		stack   []int
		onStack = make([]bool, len(g.nodes))
		idx     = make([]int, len(g.nodes))
		low     = make([]int, len(g.nodes))
		out     [][]int
	)
	for i := range idx {
		idx[i] = -1
	}
	var visit func(v int)
	visit = func(v int) {
		idx[v], low[v] = index, index
		index++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.out[v] {
			switch {
			case idx[w] < 0:
				visit(w)
				low[v] = min(low[v], low[w])
			case onStack[w]:
				low[v] = min(low[v], idx[w])
			}
		}
		if low[v] != idx[v] {
			return
		}
		var comp []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		if len(comp) > 1 {
			out = append(out, comp)
		}
	}
	for v := range g.nodes {
		if idx[v] < 0 {
			visit(v)
		}
	}
	byKey := func(a, b int) int { return compareKeys(g.nodes, a, b) }
	for _, comp := range out {
		slices.SortFunc(comp, byKey)
	}
	slices.SortFunc(out, func(a, b []int) int { return byKey(a[0], b[0]) })
	return out
}

// kahn: устойчивая топологическая сортировка: среди готовых узлов берётся узел
// с наименьшей исходной позицией. ok == false, если в графе остался цикл.
func (g *graph) kahn() (order []int, ok bool) {
	indeg := make([]int, len(g.nodes))
	for _, outs := range g.out {
		for _, w := range outs {
			indeg[w]++
		}
	}
	var ready []int
	for v, d := range indeg {
		if d == 0 {
			ready = append(ready, v)
		}
	}
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			a, b := g.nodes[ready[i]], g.nodes[ready[best]]
			if a.key.less(b.key) || (a.key == b.key && ready[i] < ready[best]) {
				best = i
			}
		}
		v := ready[best]
		ready = slices.Delete(ready, best, best+1)
		order = append(order, v)
		for _, w := range g.out[v] {
			indeg[w]--
			if indeg[w] == 0 {
				ready = append(ready, w)
			}
		}
	}
	return order, len(order) == len(g.nodes)
}

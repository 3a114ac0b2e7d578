package order

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbase/internal/change"
	"qbase/internal/compare"
	"qbase/internal/schema"
)

func bump(s *schema.Schema, v string) *schema.Schema {
	return s.WithVersion(semver.MustParse(v))
}

func usersOf(t *testing.T, s *schema.Schema) *schema.Entity {
	t.Helper()
	e, ok := s.EntityByName("Users")
	require.True(t, ok)
	return e
}

// plan сравнивает и сортирует, затем проигрывает результат на копии base и проверяет,
// что получилась целевая схема. ReplayAll проверяет инварианты модели на каждом шаге.
func plan(t *testing.T, base, target *schema.Schema) []change.Change {
	t.Helper()
	changes, err := compare.Compare(base, target)
	require.NoError(t, err)
	sorted, err := Sort(changes, base)
	require.NoError(t, err)

	got := base.WithVersion(target.Version())
	require.NoError(t, change.ReplayAll(got, sorted))
	rest, err := compare.Compare(got, bump(target, "99.0.0"))
	require.NoError(t, err)
	assert.Empty(t, rest)
	return sorted
}

func kinds(changes []change.Change) []change.Kind {
	out := make([]change.Kind, len(changes))
	for i, c := range changes {
		out[i] = c.Kind()
	}
	return out
}

func TestSortEmpty(t *testing.T) {
	got, err := Sort(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSortCreatesTargetBeforeRelation(t *testing.T) {
	a := schema.Default()
	b := bump(a, "0.2.0")
	posts, err := b.CreateEntity("Posts", schema.KindData)
	require.NoError(t, err)
	comments, err := b.CreateEntity("Comments", schema.KindData)
	require.NoError(t, err)
	_, err = b.AddField(posts.ID(), schema.FieldSpec{Name: "top", Nullable: true, Type: schema.Relation(comments.ID())})
	require.NoError(t, err)

	sorted := plan(t, a, b)
	require.Len(t, sorted, 2)
	assert.Equal(t, comments.ID(), sorted[0].EntityID())
	assert.Equal(t, posts.ID(), sorted[1].EntityID())
}

func TestSortPhasesMutualCreation(t *testing.T) {
	a := schema.Default()
	b := bump(a, "0.2.0")
	posts, err := b.CreateEntity("Posts", schema.KindData)
	require.NoError(t, err)
	comments, err := b.CreateEntity("Comments", schema.KindData)
	require.NoError(t, err)
	top, err := b.AddField(posts.ID(), schema.FieldSpec{Name: "top", Type: schema.Relation(comments.ID())})
	require.NoError(t, err)
	post, err := b.AddField(comments.ID(), schema.FieldSpec{Name: "post", Type: schema.Relation(posts.ID())})
	require.NoError(t, err)
	_, err = b.AddField(comments.ID(), schema.FieldSpec{Name: "parent", Nullable: true, Type: schema.Relation(comments.ID())})
	require.NoError(t, err)

	sorted := plan(t, a, b)
	assert.Equal(t, []change.Kind{
		change.KindAddEntity, change.KindAddEntity, change.KindChangeEntity, change.KindChangeEntity,
	}, kinds(sorted))

	first := sorted[0].(change.AddEntity)
	assert.Equal(t, posts.ID(), first.Entity.ID())
	_, ok := first.Entity.Field(top.ID)
	assert.False(t, ok)

	second := sorted[1].(change.AddEntity)
	_, ok = second.Entity.FieldByName("parent")
	assert.True(t, ok, "self relation stays in the first phase")

	assert.Equal(t, change.AddField{Field: top}, sorted[2].(change.ChangeEntity).Fields[0])
	assert.Equal(t, change.AddField{Field: post}, sorted[3].(change.ChangeEntity).Fields[0])
}

func TestSortRemovesRelationBeforeTarget(t *testing.T) {
	a := schema.Default()
	users := usersOf(t, a)
	tags, err := a.CreateEntity("Tags", schema.KindData)
	require.NoError(t, err)
	tag, err := a.AddField(users.ID(), schema.FieldSpec{Name: "tag", Nullable: true, Type: schema.Relation(tags.ID())})
	require.NoError(t, err)

	b := bump(a, "0.2.0")
	require.NoError(t, b.RemoveField(users.ID(), tag.ID))
	require.NoError(t, b.RemoveEntity(tags.ID()))

	sorted := plan(t, a, b)
	require.Len(t, sorted, 2)
	assert.Equal(t, change.KindChangeEntity, sorted[0].Kind())
	assert.Equal(t, change.RemoveEntity{Entity: tags}.String(), sorted[1].String())
}

func TestSortRejectsDanglingReference(t *testing.T) {
	a := schema.Default()
	users := usersOf(t, a)
	tags, err := a.CreateEntity("Tags", schema.KindData)
	require.NoError(t, err)
	_, err = a.AddField(users.ID(), schema.FieldSpec{Name: "tag", Nullable: true, Type: schema.Relation(tags.ID())})
	require.NoError(t, err)

	_, err = Sort([]change.Change{change.RemoveEntity{Entity: tags.Clone()}}, a)
	require.ErrorIs(t, err, ErrDanglingReference)
	assert.ErrorIs(t, err, ErrOrdering)

	_, err = Sort([]change.Change{
		change.RemoveEntity{Entity: tags.Clone()},
		change.ChangeEntity{ID: users.ID(), Name: "Users", Fields: []change.FieldChange{
			change.AddField{Field: schema.Field{ID: "F", Name: "tag2", Nullable: true, Type: schema.Relation(tags.ID())}},
		}},
	}, nil)
	assert.ErrorIs(t, err, ErrDanglingReference)
}

func TestSortRejectsRemovalOfUnknownEntity(t *testing.T) {
	a := schema.Default()
	tags, err := a.CreateEntity("Tags", schema.KindData)
	require.NoError(t, err)
	removal := []change.Change{change.RemoveEntity{Entity: tags.Clone()}}

	_, err = Sort(removal, nil)
	require.ErrorIs(t, err, ErrDanglingReference)
	assert.ErrorIs(t, err, ErrOrdering)

	_, err = Sort(removal, schema.Default())
	assert.ErrorIs(t, err, ErrDanglingReference)

	_, err = Sort(removal, a)
	assert.NoError(t, err)
}

func TestSortRetargetBeforeRemove(t *testing.T) {
	a := schema.Default()
	users := usersOf(t, a)
	tags, err := a.CreateEntity("Tags", schema.KindData)
	require.NoError(t, err)
	labels, err := a.CreateEntity("Labels", schema.KindData)
	require.NoError(t, err)
	tag, err := a.AddField(users.ID(), schema.FieldSpec{Name: "tag", Nullable: true, Type: schema.Relation(tags.ID())})
	require.NoError(t, err)

	changes := []change.Change{
		change.RemoveEntity{Entity: tags.Clone()},
		change.ChangeEntity{ID: users.ID(), Name: "Users", Fields: []change.FieldChange{
			change.ChangeType{Field: tag.ID, Name: "tag", From: tag.Type, To: schema.Relation(labels.ID())},
		}},
	}
	sorted, err := Sort(changes, a)
	require.NoError(t, err)
	assert.Equal(t, []change.Kind{change.KindChangeEntity, change.KindRemoveEntity}, kinds(sorted))

	got := a.Clone()
	require.NoError(t, change.ReplayAll(got, sorted))
}

func TestSortRejectsRemovalCycle(t *testing.T) {
	a := schema.Default()
	tags, err := a.CreateEntity("Tags", schema.KindData)
	require.NoError(t, err)
	notes, err := a.CreateEntity("Notes", schema.KindData)
	require.NoError(t, err)
	_, err = a.AddField(tags.ID(), schema.FieldSpec{Name: "note", Nullable: true, Type: schema.Relation(notes.ID())})
	require.NoError(t, err)
	_, err = a.AddField(notes.ID(), schema.FieldSpec{Name: "tag", Nullable: true, Type: schema.Relation(tags.ID())})
	require.NoError(t, err)

	_, err = Sort([]change.Change{
		change.RemoveEntity{Entity: tags.Clone()},
		change.RemoveEntity{Entity: notes.Clone()},
	}, a)
	require.ErrorIs(t, err, ErrCyclicDependency)
	assert.ErrorIs(t, err, ErrOrdering)
}

func TestSortDropsChangesOfRemovedEntity(t *testing.T) {
	a := schema.Default()
	tags, err := a.CreateEntity("Tags", schema.KindData)
	require.NoError(t, err)

	sorted, err := Sort([]change.Change{
		change.ChangeEntity{ID: tags.ID(), Name: "Tags", Fields: []change.FieldChange{
			change.AddField{Field: schema.Field{ID: "F", Name: "done", Type: schema.Bool()}},
		}},
		change.RenameEntity{ID: tags.ID(), From: "Tags", To: "Labels"},
		change.RemoveEntity{Entity: tags.Clone()},
	}, a)
	require.NoError(t, err)
	assert.Equal(t, []change.Kind{change.KindRemoveEntity}, kinds(sorted))
}

func TestSortSwapsEntityNamesThroughTemporaryName(t *testing.T) {
	a := schema.Default()
	alpha, err := a.CreateEntity("Alpha", schema.KindData)
	require.NoError(t, err)
	beta, err := a.CreateEntity("Beta", schema.KindData)
	require.NoError(t, err)

	b := bump(a, "0.2.0")
	require.NoError(t, b.RenameEntity(alpha.ID(), "Gamma"))
	require.NoError(t, b.RenameEntity(beta.ID(), "Alpha"))
	require.NoError(t, b.RenameEntity(alpha.ID(), "Beta"))

	sorted := plan(t, a, b)
	assert.Equal(t, []change.Change{
		change.RenameEntity{ID: alpha.ID(), From: "Alpha", To: "Alpha_tmp"},
		change.RenameEntity{ID: beta.ID(), From: "Beta", To: "Alpha"},
		change.RenameEntity{ID: alpha.ID(), From: "Alpha_tmp", To: "Beta"},
	}, sorted)
}

func TestSortSwapsFieldNames(t *testing.T) {
	a := schema.Default()
	users := usersOf(t, a)
	first, err := a.AddField(users.ID(), schema.FieldSpec{Name: "first", Type: schema.Text(schema.TextRule{})})
	require.NoError(t, err)
	last, err := a.AddField(users.ID(), schema.FieldSpec{Name: "last", Type: schema.Text(schema.TextRule{})})
	require.NoError(t, err)

	b := bump(a, "0.2.0")
	require.NoError(t, b.RenameField(users.ID(), first.ID, "tmp"))
	require.NoError(t, b.RenameField(users.ID(), last.ID, "first"))
	require.NoError(t, b.RenameField(users.ID(), first.ID, "last"))

	sorted := plan(t, a, b)
	require.Len(t, sorted, 1)
	assert.Equal(t, []change.FieldChange{
		change.RenameField{Field: first.ID, From: "first", To: "first_tmp"},
		change.RenameField{Field: last.ID, From: "last", To: "first"},
		change.RenameField{Field: first.ID, From: "first_tmp", To: "last"},
	}, sorted[0].(change.ChangeEntity).Fields)
}

func TestSortFreesNameBeforeReuse(t *testing.T) {
	a := schema.Default()
	users := usersOf(t, a)
	nick, err := a.AddField(users.ID(), schema.FieldSpec{Name: "nick", Type: schema.Text(schema.TextRule{})})
	require.NoError(t, err)

	sorted, err := Sort([]change.Change{
		change.ChangeEntity{ID: users.ID(), Name: "Users", Fields: []change.FieldChange{
			change.AddField{Field: schema.Field{ID: "N2", Name: "nick", Nullable: true, Type: schema.Bool()}},
			change.RenameField{Field: nick.ID, From: "nick", To: "alias"},
		}},
	}, a)
	require.NoError(t, err)
	require.Len(t, sorted, 1)
	fields := sorted[0].(change.ChangeEntity).Fields
	require.Len(t, fields, 2)
	assert.Equal(t, change.KindRenameField, fields[0].Kind())
	assert.Equal(t, change.KindAddField, fields[1].Kind())

	require.NoError(t, change.ReplayAll(a.Clone(), sorted))
}

func TestSortIsStable(t *testing.T) {
	a := schema.Default()
	b := bump(a, "0.2.0")
	for _, name := range []string{"Zeta", "Alpha", "Mu"} {
		_, err := b.CreateEntity(name, schema.KindData)
		require.NoError(t, err)
	}
	users := usersOf(t, b)
	_, err := b.AddField(users.ID(), schema.FieldSpec{Name: "x", Nullable: true, Type: schema.Bool()})
	require.NoError(t, err)
	_, err = b.AddField(users.ID(), schema.FieldSpec{Name: "y", Nullable: true, Type: schema.Bool()})
	require.NoError(t, err)

	changes, err := compare.Compare(a, b)
	require.NoError(t, err)
	sorted, err := Sort(changes, a)
	require.NoError(t, err)

	want := make([]string, len(changes))
	for i, c := range changes {
		want[i] = c.String()
	}
	got := make([]string, len(sorted))
	for i, c := range sorted {
		got[i] = c.String()
	}
	assert.Equal(t, want, got)
}

package schema

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchema(t *testing.T) {
	s := Default()
	require.Equal(t, EngineVersion, s.Version().String())
	require.Len(t, s.Entities(), 1)

	users, ok := s.EntityByName("users")
	require.True(t, ok)
	assert.Equal(t, "Users", users.Name())
	assert.Equal(t, KindAuth, users.Kind())

	fields := users.Fields()
	require.Len(t, fields, 3)
	for i, name := range []string{"id", "created", "updated"} {
		assert.Equal(t, name, fields[i].Name)
		assert.True(t, fields[i].Base)
		assert.False(t, fields[i].Nullable)
	}

	pk, ok := users.PrimaryKey()
	require.True(t, ok)
	assert.Equal(t, "id", pk.Name)
	assert.Equal(t, FieldText, pk.Type.Kind)
	assert.Equal(t, TextRule{Min: 15, Max: 15, Validate: "^[a-z0-9]+$", Generate: "[a-z0-9]{15}"}, pk.Type.TextRule())
	require.NoError(t, s.Validate())
}

func TestLookupByIdentity(t *testing.T) {
	s := Default()
	users, _ := s.EntityByName("Users")

	got, ok := s.Entity(users.ID())
	require.True(t, ok)
	assert.Same(t, users, got)

	_, ok = s.Entity("missing")
	assert.False(t, ok)

	f, err := s.AddField(users.ID(), FieldSpec{Name: "email", Type: Text(TextRule{Max: 255})})
	require.NoError(t, err)
	byID, ok := users.Field(f.ID)
	require.True(t, ok)
	assert.Equal(t, "email", byID.Name)
	byName, ok := users.FieldByName("EMAIL")
	require.True(t, ok)
	assert.Equal(t, f.ID, byName.ID)
}

func TestAddFieldInvariants(t *testing.T) {
	tests := []struct {
		name string
		spec FieldSpec
	}{
		{"duplicate name", FieldSpec{Name: "ID", Type: Text(TextRule{})}},
		{"second primary key", FieldSpec{Name: "code", PrimaryKey: true, Type: Text(TextRule{})}},
		{"dangling relation", FieldSpec{Name: "owner", Type: Relation("nope")}},
		{"bad name", FieldSpec{Name: "two words", Type: Bool()}},
		{"bad pattern", FieldSpec{Name: "code", Type: Text(TextRule{Validate: "("})}},
		{"min above max", FieldSpec{Name: "code", Type: Text(TextRule{Min: 10, Max: 2})}},
		{"empty relation_many", FieldSpec{Name: "tags", Type: RelationMany()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			users, _ := s.EntityByName("Users")
			before := users.Fields()

			_, err := s.AddField(users.ID(), tt.spec)
			require.ErrorIs(t, err, ErrInvariantViolation)
			assert.Equal(t, before, users.Fields(), "schema must stay unchanged")
		})
	}
}

func TestBaseFieldsAreImmutable(t *testing.T) {
	s := Default()
	users, _ := s.EntityByName("Users")
	id, _ := users.FieldByName("id")

	require.ErrorIs(t, s.RemoveField(users.ID(), id.ID), ErrInvariantViolation)
	require.ErrorIs(t, s.RenameField(users.ID(), id.ID, "key"), ErrInvariantViolation)
	require.ErrorIs(t, s.SetNullable(users.ID(), id.ID, true), ErrInvariantViolation)
	require.ErrorIs(t, s.SetFieldType(users.ID(), id.ID, Text(TextRule{})), ErrInvariantViolation)

	f, ok := users.FieldByName("id")
	require.True(t, ok)
	assert.Equal(t, id, f)
}

func TestEntityNamesAreCaseInsensitive(t *testing.T) {
	s := Default()
	_, err := s.CreateEntity("USERS", KindData)
	require.ErrorIs(t, err, ErrInvariantViolation)

	posts, err := s.CreateEntity("Posts", KindData)
	require.NoError(t, err)
	require.ErrorIs(t, s.RenameEntity(posts.ID(), "users"), ErrInvariantViolation)
	require.NoError(t, s.RenameEntity(posts.ID(), "Articles"))
	assert.Equal(t, "Articles", posts.Name())
}

func TestRemoveReferencedEntity(t *testing.T) {
	s := Default()
	users, _ := s.EntityByName("Users")
	posts, err := s.CreateEntity("Posts", KindData)
	require.NoError(t, err)
	author, err := s.AddField(posts.ID(), FieldSpec{Name: "author", Type: Relation(users.ID())})
	require.NoError(t, err)

	require.ErrorIs(t, s.RemoveEntity(users.ID()), ErrInvariantViolation)
	require.Len(t, s.Entities(), 2)

	require.NoError(t, s.RemoveField(posts.ID(), author.ID))
	require.NoError(t, s.RemoveEntity(users.ID()))
	_, ok := s.Entity(users.ID())
	assert.False(t, ok)
}

func TestSelfRelationAllowed(t *testing.T) {
	s := Default()
	users, _ := s.EntityByName("Users")
	_, err := s.AddField(users.ID(), FieldSpec{Name: "manager", Nullable: true, Type: Relation(users.ID())})
	require.NoError(t, err)
	require.NoError(t, s.RemoveEntity(users.ID()))
}

func TestCloneIsDeep(t *testing.T) {
	a := Default()
	b := a.WithVersion(semver.MustParse("0.2.0"))
	users, _ := b.EntityByName("Users")
	_, err := b.AddField(users.ID(), FieldSpec{Name: "email", Type: Text(TextRule{})})
	require.NoError(t, err)
	require.NoError(t, b.RenameEntity(users.ID(), "Accounts"))

	orig, _ := a.Entity(users.ID())
	assert.Equal(t, "Users", orig.Name())
	assert.Len(t, orig.Fields(), 3)
	assert.Equal(t, "0.1.0", a.Version().String())
}

func TestWithoutKeepsBaseFields(t *testing.T) {
	s := Default()
	users, _ := s.EntityByName("Users")
	email, err := s.AddField(users.ID(), FieldSpec{Name: "email", Type: Text(TextRule{})})
	require.NoError(t, err)
	id, _ := users.FieldByName("id")

	stripped := users.Without(email.ID, id.ID)
	assert.Len(t, stripped.Fields(), 3)
	_, ok := stripped.Field(id.ID)
	assert.True(t, ok)
	assert.Len(t, users.Fields(), 4)
}

func TestViews(t *testing.T) {
	s := Default()
	users, _ := s.EntityByName("Users")
	v := View{Name: "public", Fields: map[string]ViewField{
		"kind": {Kind: ViewStatic, Value: "user"},
		"key":  {Kind: ViewValue, Value: "id"},
	}}
	require.NoError(t, s.SetView(users.ID(), v))
	got, ok := users.View("public")
	require.True(t, ok)
	assert.True(t, v.Equal(got))

	require.ErrorIs(t, s.SetView(users.ID(), View{Name: "bad", Fields: map[string]ViewField{"x": {Kind: ViewValue}}}), ErrInvariantViolation)
	require.NoError(t, s.RemoveView(users.ID(), "public"))
	require.ErrorIs(t, s.RemoveView(users.ID(), "public"), ErrInvariantViolation)
}

func TestFieldTypeShape(t *testing.T) {
	lo, hi := 1.0, 10.0
	intType := Number(NumberRule{Integer: true})
	bounded := Number(NumberRule{Integer: true, Min: &lo, Max: &hi})
	floatType := Number(NumberRule{})

	assert.True(t, intType.SameShape(bounded))
	assert.False(t, intType.RuleEqual(bounded))
	assert.False(t, intType.SameShape(floatType))
	assert.False(t, Text(TextRule{}).SameShape(Bool()))
	assert.False(t, Relation("a").SameShape(Relation("b")))
	assert.True(t, RelationMany("a", "b").Refers("b"))
	assert.True(t, bounded.HasRule())
	assert.False(t, Bool().HasRule())
}

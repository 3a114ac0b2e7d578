package change

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbase/internal/schema"
)

func sample(t *testing.T) []Change {
	t.Helper()
	s := schema.Default()
	users, _ := s.EntityByName("Users")
	posts, err := s.CreateEntity("Posts", schema.KindData)
	require.NoError(t, err)
	author, err := s.AddField(posts.ID(), schema.FieldSpec{Name: "author", Type: schema.Relation(users.ID())})
	require.NoError(t, err)

	card := schema.View{Name: "card", Fields: map[string]schema.ViewField{"title": {Kind: schema.ViewStatic, Value: "post"}}}
	return []Change{
		AddEntity{Entity: posts},
		RenameEntity{ID: users.ID(), From: "Users", To: "Members"},
		ChangeEntity{ID: posts.ID(), Name: "Posts", Fields: []FieldChange{
			RenameField{Field: author.ID, From: "author", To: "writer"},
			ChangeNullable{Field: author.ID, Name: "writer", Nullable: true},
			ChangeRule{Field: "F2", Name: "title", From: schema.Text(schema.TextRule{}), To: schema.Text(schema.TextRule{Max: 80})},
			ChangeView{Name: "card", To: &card},
			AddField{Field: schema.Field{ID: "F3", Name: "score", Type: schema.Number(schema.NumberRule{Integer: true})}},
			RemoveField{Field: schema.Field{ID: "F4", Name: "legacy", Nullable: true, Type: schema.Bool()}},
			ChangeType{Field: "F5", Name: "rank", From: schema.Text(schema.TextRule{}), To: schema.Number(schema.NumberRule{})},
		}},
		RemoveEntity{Entity: users},
	}
}

func TestDestructive(t *testing.T) {
	changes := sample(t)

	got := Destructive(changes)
	require.Len(t, got, 2)
	assert.Equal(t, KindChangeEntity, got[0].Kind())
	assert.Equal(t, KindRemoveEntity, got[1].Kind())

	safe := ChangeEntity{ID: "E", Fields: []FieldChange{ChangeNullable{Field: "F", Nullable: true}}}
	assert.False(t, safe.Destructive())
	assert.Empty(t, Destructive([]Change{safe, RenameEntity{ID: "E", From: "a", To: "b"}}))
}

func TestMarshalRoundTrip(t *testing.T) {
	changes := sample(t)

	b, err := Marshal(changes)
	require.NoError(t, err)
	got, err := Unmarshal(b)
	require.NoError(t, err)
	require.Len(t, got, len(changes))

	for i := range changes {
		assert.Equal(t, changes[i].Kind(), got[i].Kind())
		assert.Equal(t, changes[i].EntityID(), got[i].EntityID())
		assert.Equal(t, changes[i].String(), got[i].String())
		assert.Equal(t, changes[i].Destructive(), got[i].Destructive())
	}

	ce := got[2].(ChangeEntity)
	assert.Equal(t, changes[2].(ChangeEntity).Fields, ce.Fields)
	added := got[0].(AddEntity)
	assert.Equal(t, changes[0].(AddEntity).Entity.Fields(), added.Entity.Fields())
}

func TestUnmarshalRejectsBrokenEnvelopes(t *testing.T) {
	tests := map[string]string{
		"unknown kind":        `[{"kind":"drop_everything"}]`,
		"add without entity":  `[{"kind":"add_entity"}]`,
		"rename without to":   `[{"kind":"rename_entity","id":"E"}]`,
		"unknown field kind":  `[{"kind":"change_entity","id":"E","fields":[{"kind":"shuffle"}]}]`,
		"nullable missing":    `[{"kind":"change_entity","id":"E","fields":[{"kind":"change_nullable","field":"F"}]}]`,
		"change type no from": `[{"kind":"change_entity","id":"E","fields":[{"kind":"change_type","field":"F","toType":{"kind":"BOOL"}}]}]`,
		"not an array":        `{"kind":"add_entity"}`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	changes := sample(t)
	orig := changes[2].(ChangeEntity)
	cp := Clone(orig).(ChangeEntity)

	cp.Fields[0] = RenameField{Field: "X"}
	rule := cp.Fields[2].(ChangeRule)
	rule.To.Text.Max = 1

	assert.Equal(t, "writer", orig.Fields[0].(RenameField).To)
	assert.Equal(t, 80, orig.Fields[2].(ChangeRule).To.Text.Max)
}

func TestString(t *testing.T) {
	c := ChangeEntity{ID: "E", Name: "Users", Fields: []FieldChange{
		AddField{Field: schema.Field{ID: "F", Name: "email"}},
	}}
	assert.Equal(t, "ChangeEntity(Users, [AddField(email)])", c.String())
	assert.Equal(t, "ChangeView(-card)", ChangeView{Name: "card", From: &schema.View{Name: "card"}}.String())
}

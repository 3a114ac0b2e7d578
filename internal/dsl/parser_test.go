package dsl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbase/internal/compare"
	"qbase/internal/schema"
)

const blog = `
# блог
version 0.2.0

entity Users: auth
  email: text required max=120 pattern='^[^ #]+@.+$'  # адрес
  manager: ref[users]
  view public:
    title = email
    kind = 'user'

entity Posts:
  title: text required min=1
  rating: int min=0 max=5
  published: date min=2020-01-01
  draft: bool
  readers: refs[Users, Posts]
`

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(blog))
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", f.Version)
	require.Len(t, f.Entities, 2)

	users := f.Entities[0]
	assert.Equal(t, "auth", users.Kind)
	require.Len(t, users.Fields, 2)
	assert.Equal(t, "^[^ #]+@.+$", users.Fields[0].Options["pattern"])
	assert.Equal(t, "true", users.Fields[0].Options["required"])
	assert.Equal(t, []string{"users"}, users.Fields[1].Targets)
	require.Len(t, users.Views, 1)
	assert.Equal(t, []ViewField{{Name: "title", Value: "email"}, {Name: "kind", Value: "user", Static: true}}, users.Views[0].Fields)

	posts := f.Entities[1]
	assert.Equal(t, "data", posts.Kind)
	assert.Equal(t, "refs", posts.Fields[4].Type)
	assert.Equal(t, []string{"Users", "Posts"}, posts.Fields[4].Targets)
}

func TestDocument(t *testing.T) {
	f, err := Parse(strings.NewReader(blog))
	require.NoError(t, err)
	doc, err := f.Document()
	require.NoError(t, err)
	s, err := schema.FromDocument(doc)
	require.NoError(t, err)

	users, ok := s.EntityByName("Users")
	require.True(t, ok)
	assert.Equal(t, schema.KindAuth, users.Kind())
	email, _ := users.FieldByName("email")
	assert.False(t, email.Nullable)
	assert.Equal(t, 120, email.Type.TextRule().Max)
	manager, _ := users.FieldByName("manager")
	assert.True(t, manager.Nullable)
	assert.Equal(t, users.ID(), manager.Type.Target)
	view, ok := users.View("public")
	require.True(t, ok)
	assert.Equal(t, schema.ViewStatic, view.Fields["kind"].Kind)

	posts, _ := s.EntityByName("Posts")
	rating, _ := posts.FieldByName("rating")
	assert.True(t, rating.Type.NumberRule().Integer)
	assert.Equal(t, 5.0, *rating.Type.NumberRule().Max)
	published, _ := posts.FieldByName("published")
	assert.Equal(t, 2020, published.Type.DateRule().Min.Year())
	readers, _ := posts.FieldByName("readers")
	assert.Equal(t, []string{users.ID(), posts.ID()}, readers.Type.Targets)
}

func TestExplicitTokensMakeRenamesVisible(t *testing.T) {
	v1 := "version 0.1.0\nentity Users: auth id=U1\n  mail: text id=F1\n"
	v2 := "version 0.2.0\nentity Members: auth id=U1\n  email: text id=F1\n"

	load := func(src string) *schema.Schema {
		f, err := Parse(strings.NewReader(src))
		require.NoError(t, err)
		doc, err := f.Document()
		require.NoError(t, err)
		s, err := schema.FromDocument(doc)
		require.NoError(t, err)
		return s
	}
	changes, err := compare.Compare(load(v1), load(v2))
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "RenameEntity(Users -> Members)", changes[0].String())
	assert.Equal(t, "ChangeEntity(Members, [Rename(mail -> email)])", changes[1].String())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"outside entity", "email: text", "line 1"},
		{"garbage", "entity Users:\n  ???", "line 2"},
		{"twice", "version 1.0.0\nversion 1.1.0", "version declared twice"},
		{"entity option", "entity Users: data color=red", "unknown entity option"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDocumentErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown target", "entity Posts:\n  author: ref[Ghosts]", `unknown entity "Ghosts"`},
		{"unknown type", "entity Posts:\n  body: blob", "unknown type"},
		{"unknown option", "entity Posts:\n  body: text unique", `unknown option "unique"`},
		{"bad number", "entity Posts:\n  n: int min=few", "line 2"},
		{"kind", "entity Posts: magic", "unknown entity kind"},
		{"duplicate", "entity Posts:\nentity posts:", "declared twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(strings.NewReader(tt.src))
			require.NoError(t, err)
			_, err = f.Document()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.dsl"), []byte("version 0.3.0\nentity Users: auth\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "posts.dsl"), []byte("entity Posts:\n  author: ref[Users] required\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.3.0", s.Version().String())
	assert.Len(t, s.Entities(), 2)

	_, err = Load(filepath.Join(dir, "missing.dsl"))
	assert.Error(t, err)
}

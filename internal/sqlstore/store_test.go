package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbase/internal/migrate"
	"qbase/internal/schema"
	"qbase/internal/sqlite"
	"qbase/internal/sqlstore"
)

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "qbase.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := sqlite.NewStore(context.Background(), db, nil)
	require.NoError(t, err)
	return s
}

func migrateTo(t *testing.T, s *sqlstore.Store, old, next *schema.Schema, opts migrate.Options) error {
	t.Helper()
	p, err := migrate.NewPlan(old, next)
	require.NoError(t, err)
	return migrate.New(nil).Run(context.Background(), s, p, opts)
}

func tableSQL(t *testing.T, s *sqlstore.Store, name string) string {
	t.Helper()
	var ddl string
	err := s.DB().QueryRow(`select sql from sqlite_master where type = 'table' and name = ?`, name).Scan(&ddl)
	require.NoError(t, err)
	return ddl
}

func insertUser(t *testing.T, s *sqlstore.Store, id string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.DB().Exec(`insert into "users" ("id", "created", "updated") values (?, ?, ?)`, id, now, now)
	require.NoError(t, err)
}

func bump(s *schema.Schema, v string) *schema.Schema { return s.WithVersion(semver.MustParse(v)) }

func TestBootstrapFromEmptyCatalog(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	cat, err := s.Schema(ctx)
	require.NoError(t, err)
	assert.Empty(t, cat.Entities())

	a := schema.Default()
	require.NoError(t, migrateTo(t, s, cat, a, migrate.Options{}))

	assert.Contains(t, tableSQL(t, s, "users"), `"id" text not null primary key check (length("id") >= 15 and length("id") <= 15)`)
	got, err := s.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", got.Version().String())
	users, ok := got.EntityByName("users")
	require.True(t, ok)
	orig, _ := a.EntityByName("Users")
	assert.Equal(t, orig.ID(), users.ID(), "identity tokens survive the catalog round trip")

	history, err := s.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "0.1.0", history[0].Version)
	require.Len(t, history[0].Changes, 1)
	assert.Equal(t, "AddEntity(Users)", history[0].Changes[0].String())
}

func TestNotNullFieldOnPopulatedTableRollsBack(t *testing.T) {
	s := openStore(t)
	a := schema.Default()
	require.NoError(t, migrateTo(t, s, schema.New(nil, schema.Settings{}), a, migrate.Options{}))
	insertUser(t, s, "abcdefghij12345")

	b := bump(a, "0.2.0")
	users, _ := b.EntityByName("Users")
	_, err := b.AddField(users.ID(), schema.FieldSpec{Name: "nick", Nullable: true, Type: schema.Text(schema.TextRule{})})
	require.NoError(t, err)
	_, err = b.AddField(users.ID(), schema.FieldSpec{Name: "email", Type: schema.Text(schema.TextRule{})})
	require.NoError(t, err)

	err = migrateTo(t, s, a, b, migrate.Options{})
	var ae *migrate.ApplyError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, err.Error(), "NOT NULL")

	got, err := s.Schema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", got.Version().String())
	assert.NotContains(t, tableSQL(t, s, "users"), "nick", "nullable column added in the same unit is rolled back")
}

func TestRenameAndRelations(t *testing.T) {
	s := openStore(t)
	a := schema.Default()
	require.NoError(t, migrateTo(t, s, schema.New(nil, schema.Settings{}), a, migrate.Options{}))
	insertUser(t, s, "abcdefghij12345")

	b := bump(a, "0.2.0")
	users, _ := b.EntityByName("Users")
	require.NoError(t, b.RenameEntity(users.ID(), "Members"))
	posts, err := b.CreateEntity("Posts", schema.KindData)
	require.NoError(t, err)
	_, err = b.AddField(posts.ID(), schema.FieldSpec{Name: "author", Type: schema.Relation(users.ID())})
	require.NoError(t, err)
	_, err = b.AddField(users.ID(), schema.FieldSpec{Name: "age", Nullable: true, Type: schema.Number(schema.NumberRule{Integer: true})})
	require.NoError(t, err)

	require.NoError(t, migrateTo(t, s, a, b, migrate.Options{}))

	assert.Contains(t, tableSQL(t, s, "posts"), `"author" text not null references "members"("id")`)
	assert.Contains(t, tableSQL(t, s, "members"), `"age" real check ("age" = cast("age" as integer))`)
	var n int
	require.NoError(t, s.DB().QueryRow(`select count(*) from "members"`).Scan(&n))
	assert.Equal(t, 1, n, "rows survive the rename")
}

func TestChangeTypeRebuildsTable(t *testing.T) {
	s := openStore(t)
	a := schema.Default()
	users, _ := a.EntityByName("Users")
	score, err := a.AddField(users.ID(), schema.FieldSpec{Name: "score", Nullable: true, Type: schema.Text(schema.TextRule{})})
	require.NoError(t, err)
	require.NoError(t, migrateTo(t, s, schema.New(nil, schema.Settings{}), a, migrate.Options{}))
	insertUser(t, s, "abcdefghij12345")
	_, err = s.DB().Exec(`update "users" set "score" = '42'`)
	require.NoError(t, err)

	b := bump(a, "0.2.0")
	require.NoError(t, b.SetFieldType(users.ID(), score.ID, schema.Number(schema.NumberRule{})))

	err = migrateTo(t, s, a, b, migrate.Options{})
	require.ErrorIs(t, err, migrate.ErrDestructiveChangeRejected)

	require.NoError(t, migrateTo(t, s, a, b, migrate.Options{AllowDestructive: true}))
	var v float64
	require.NoError(t, s.DB().QueryRow(`select "score" from "users"`).Scan(&v))
	assert.Equal(t, 42.0, v)
	assert.Contains(t, tableSQL(t, s, "users"), `"score" real`)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openStore(t)
	a := schema.Default()
	empty := schema.New(nil, schema.Settings{})
	require.NoError(t, migrateTo(t, s, empty, a, migrate.Options{}))
	require.NoError(t, migrateTo(t, s, empty, a, migrate.Options{}))

	history, err := s.History(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestBeginHonoursContext(t *testing.T) {
	s := openStore(t)
	uow, err := s.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, uow.Rollback())
	assert.ErrorIs(t, uow.Commit(), sqlstore.ErrClosed)
}

func TestTableOf(t *testing.T) {
	s := schema.Default()
	users, _ := s.EntityByName("Users")
	f, err := s.AddField(users.ID(), schema.FieldSpec{Name: "Manager", Nullable: true, Type: schema.Relation(users.ID())})
	require.NoError(t, err)

	tbl := sqlstore.TableOf(s, users)
	assert.Equal(t, "users", tbl.Name)
	c, ok := tbl.Column(f.ID)
	require.True(t, ok)
	assert.Equal(t, "manager", c.Name)
	assert.Equal(t, "users", c.Ref)
	assert.Equal(t, `"a""b"`, sqlstore.Ident(`a"b`))
	assert.Equal(t, `'it''s'`, sqlstore.Literal("it's"))
	assert.Equal(t, "fk_x_id", sqlstore.ConstraintName("fk", "X:id"))
}

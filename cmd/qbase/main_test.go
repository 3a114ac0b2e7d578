package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbase/internal/schema"
)

func init() { color.NoColor = true }

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	base := []string{"--config", filepath.Join(t.TempDir(), "none.json"), "--log-level", "error"}
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// versions пишет три ревизии: v1 (Users), v2 (+email), v3 (-email).
func versions(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	v1 := filepath.Join(dir, "v1.yaml")
	_, err := run(t, "init", v1)
	require.NoError(t, err)

	s1, err := schema.Load(v1)
	require.NoError(t, err)
	s2 := s1.WithVersion(semver.MustParse("0.2.0"))
	users, _ := s2.EntityByName("Users")
	email, err := s2.AddField(users.ID(), schema.FieldSpec{Name: "email", Nullable: true, Type: schema.Text(schema.TextRule{})})
	require.NoError(t, err)
	v2 := filepath.Join(dir, "v2.json")
	require.NoError(t, schema.Save(s2, v2))

	s3 := s2.WithVersion(semver.MustParse("0.3.0"))
	require.NoError(t, s3.RemoveField(users.ID(), email.ID))
	v3 := filepath.Join(dir, "v3.yaml")
	require.NoError(t, schema.Save(s3, v3))
	return v1, v2, v3
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	out, err := run(t, "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote schema 0.1.0")

	s, err := schema.Load(path)
	require.NoError(t, err)
	_, ok := s.EntityByName("Users")
	assert.True(t, ok)

	_, err = run(t, "init", path)
	assert.ErrorContains(t, err, "already exists")
	_, err = run(t, "init", path, "--force")
	assert.NoError(t, err)
}

func TestPlan(t *testing.T) {
	v1, v2, v3 := versions(t)

	out, err := run(t, "plan", v1, v2)
	require.NoError(t, err)
	assert.Contains(t, out, "plan 0.1.0 -> 0.2.0: 1 change(s)")
	assert.Contains(t, out, "+ ChangeEntity(Users, [AddField(email)])")
	assert.NotContains(t, out, "destructive")

	out, err = run(t, "plan", v2, v3)
	require.NoError(t, err)
	assert.Contains(t, out, "! ChangeEntity(Users, [RemoveField(email)])")
	assert.Contains(t, out, "1 destructive change(s)")

	_, err = run(t, "plan", v2, v1)
	assert.ErrorContains(t, err, "not advanced")

	_, err = run(t, "plan", v1)
	assert.Error(t, err)
}

func TestPlanFromDSL(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "v1.dsl")
	newPath := filepath.Join(dir, "v2.dsl")
	require.NoError(t, os.WriteFile(oldPath, []byte("version 0.1.0\nentity Users: auth\n"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("version 0.2.0\nentity Users: auth\n  email: text\nentity Posts:\n  author: ref[Users] required\n"), 0o644))

	out, err := run(t, "plan", oldPath, newPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2 change(s)")
	assert.Contains(t, out, "AddEntity(Posts)")
}

func TestMigrateSQLite(t *testing.T) {
	v1, v2, v3 := versions(t)
	db := filepath.Join(t.TempDir(), "qbase.db")
	store := []string{"--driver", "sqlite", "--db", db}

	out, err := run(t, append(store, "migrate", v1)...)
	require.NoError(t, err)
	assert.Contains(t, out, "plan 0.0.0 -> 0.1.0")
	assert.Contains(t, out, "ok store is at 0.1.0")

	_, err = run(t, append(store, "migrate", v2)...)
	require.NoError(t, err)

	_, err = run(t, append(store, "migrate", v3)...)
	require.ErrorContains(t, err, "--allow-destructive")

	out, err = run(t, append(store, "history")...)
	require.NoError(t, err)
	assert.Contains(t, out, "0.2.0")
	assert.NotContains(t, out, "0.3.0")

	_, err = run(t, append(store, "migrate", v3, "--allow-destructive")...)
	require.NoError(t, err)
	out, err = run(t, append(store, "history")...)
	require.NoError(t, err)
	assert.Contains(t, out, "0.3.0")
}

func TestConfigValidation(t *testing.T) {
	_, err := run(t, "--driver", "postgres", "history")
	assert.ErrorContains(t, err, "requires dbUrl")

	_, err = run(t, "--driver", "mysql", "history")
	assert.ErrorContains(t, err, "unknown driver")
}

func TestHistoryMemory(t *testing.T) {
	out, err := run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "no migrations applied")
}

package schema

import (
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// EngineVersion: версия схемы по умолчанию (Default).
const EngineVersion = "0.1.0"

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Field описывает поле сущности. ID стабилен между версиями схемы, имя — нет.
type Field struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Nullable   bool      `json:"nullable" yaml:"nullable"`
	Base       bool      `json:"base" yaml:"base"`
	PrimaryKey bool      `json:"primaryKey" yaml:"primaryKey"`
	Type       FieldType `json:"type" yaml:"type"`
}

func (f Field) Clone() Field {
	f.Type = f.Type.Clone()
	return f
}

type ViewValueKind string

const (
	ViewStatic ViewValueKind = "STATIC"
	ViewValue  ViewValueKind = "VALUE"
)

// ViewField: значение выходного поля DTO: константа или выражение над полями сущности.
type ViewField struct {
	Kind  ViewValueKind `json:"kind" yaml:"kind"`
	Value string        `json:"value,omitempty" yaml:"value,omitempty"`
}

// View: именованная read-only проекция сущности (DTO).
type View struct {
	Name   string               `json:"name" yaml:"name"`
	Fields map[string]ViewField `json:"fields" yaml:"fields"`
}

func (v View) Clone() View {
	v.Fields = maps.Clone(v.Fields)
	return v
}

func (v View) Equal(o View) bool {
	return v.Name == o.Name && maps.Equal(v.Fields, o.Fields)
}

// Settings пока пустые; держим тип, чтобы документ схемы был стабилен.
type Settings struct{}

type Entity struct {
	id     string
	name   string
	kind   EntityKind
	fields []Field
	views  []View
	byID   map[string]int
}

// newEntity создаёт сущность с базовыми полями id/created/updated.
func newEntity(id, name string, kind EntityKind) *Entity {
	e := &Entity{id: id, name: name, kind: kind, byID: map[string]int{}}
	for _, f := range baseFields(id) {
		e.appendField(f)
	}
	return e
}

func (e *Entity) ID() string       { return e.id }
func (e *Entity) Name() string     { return e.name }
func (e *Entity) Kind() EntityKind { return e.kind }

func (e *Entity) Fields() []Field {
	out := make([]Field, len(e.fields))
	for i, f := range e.fields {
		out[i] = f.Clone()
	}
	return out
}

// UserFields: поля без базовых.
func (e *Entity) UserFields() []Field {
	var out []Field
	for _, f := range e.fields {
		if !f.Base {
			out = append(out, f.Clone())
		}
	}
	return out
}

func (e *Entity) Field(id string) (Field, bool) {
	i, ok := e.byID[id]
	if !ok {
		return Field{}, false
	}
	return e.fields[i].Clone(), true
}

func (e *Entity) FieldByName(name string) (Field, bool) {
	name = strings.TrimSpace(name)
	for _, f := range e.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Clone(), true
		}
	}
	return Field{}, false
}

func (e *Entity) PrimaryKey() (Field, bool) {
	for _, f := range e.fields {
		if f.PrimaryKey {
			return f.Clone(), true
		}
	}
	return Field{}, false
}

func (e *Entity) Views() []View {
	out := make([]View, len(e.views))
	for i, v := range e.views {
		out[i] = v.Clone()
	}
	return out
}

func (e *Entity) View(name string) (View, bool) {
	for _, v := range e.views {
		if v.Name == name {
			return v.Clone(), true
		}
	}
	return View{}, false
}

// References: identity token-ы сущностей, на которые ссылаются поля (без дублей, в порядке полей).
func (e *Entity) References() []string {
	var out []string
	for _, f := range e.fields {
		for _, id := range f.Type.References() {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

func (e *Entity) Clone() *Entity {
	c := &Entity{id: e.id, name: e.name, kind: e.kind, byID: make(map[string]int, len(e.fields))}
	for _, f := range e.fields {
		c.appendField(f.Clone())
	}
	for _, v := range e.views {
		c.views = append(c.views, v.Clone())
	}
	return c
}

// Without возвращает копию сущности без указанных пользовательских полей.
// Базовые поля не удаляются никогда.
func (e *Entity) Without(fieldIDs ...string) *Entity {
	c := &Entity{id: e.id, name: e.name, kind: e.kind, byID: map[string]int{}}
	for _, f := range e.fields {
		if !f.Base && slices.Contains(fieldIDs, f.ID) {
			continue
		}
		c.appendField(f.Clone())
	}
	for _, v := range e.views {
		c.views = append(c.views, v.Clone())
	}
	return c
}

func (e *Entity) appendField(f Field) {
	e.byID[f.ID] = len(e.fields)
	e.fields = append(e.fields, f)
}

func (e *Entity) reindex() {
	e.byID = make(map[string]int, len(e.fields))
	for i, f := range e.fields {
		e.byID[f.ID] = i
	}
}

// checkField проверяет инварианты поля относительно уже существующих полей сущности.
// skipID: поле, которое заменяется (при переименовании/смене типа).
func (e *Entity) checkField(f Field, skipID string) error {
	if f.ID == "" {
		return violation("%s: field %q has no identity token", e.name, f.Name)
	}
	if !nameRe.MatchString(f.Name) {
		return violation("%s: invalid field name %q", e.name, f.Name)
	}
	if err := f.Type.validate(); err != nil {
		return violation("%s.%s: %v", e.name, f.Name, err)
	}
	if f.PrimaryKey && f.Type.Kind != FieldText {
		return violation("%s.%s: primary key must be TEXT, got %s", e.name, f.Name, f.Type.Kind)
	}
	if f.PrimaryKey && f.Nullable {
		return violation("%s.%s: primary key cannot be nullable", e.name, f.Name)
	}
	for _, x := range e.fields {
		if x.ID == skipID {
			continue
		}
		if x.ID == f.ID {
			return duplicate("%s: field identity %s used twice", e.name, f.ID)
		}
		if strings.EqualFold(x.Name, f.Name) {
			return violation("%s: field %q already exists", e.name, f.Name)
		}
		if x.PrimaryKey && f.PrimaryKey {
			return violation("%s: second primary key %q (already %q)", e.name, f.Name, x.Name)
		}
	}
	return nil
}

type Schema struct {
	version  *semver.Version
	entities []*Entity
	byID     map[string]*Entity
	settings Settings
}

func New(version *semver.Version, settings Settings) *Schema {
	if version == nil {
		version = semver.MustParse("0.0.0")
	}
	return &Schema{version: version, byID: map[string]*Entity{}, settings: settings}
}

// Default: стартовая схема: одна AUTH-сущность Users.
func Default() *Schema {
	s := New(semver.MustParse(EngineVersion), Settings{})
	if _, err := s.CreateEntity("Users", KindAuth); err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Version() *semver.Version { return s.version }
func (s *Schema) Settings() Settings       { return s.settings }

func (s *Schema) Clone() *Schema {
	c := New(s.version, s.settings)
	for _, e := range s.entities {
		ce := e.Clone()
		c.entities = append(c.entities, ce)
		c.byID[ce.id] = ce
	}
	return c
}

// WithVersion: копия схемы с другой версией; основа для следующей ревизии.
func (s *Schema) WithVersion(v *semver.Version) *Schema {
	c := s.Clone()
	c.version = v
	return c
}

func (s *Schema) Entities() []*Entity {
	return slices.Clone(s.entities)
}

func (s *Schema) Entity(id string) (*Entity, bool) {
	e, ok := s.byID[id]
	return e, ok
}

// EntityByName ищет сущность по имени без учёта регистра.
func (s *Schema) EntityByName(name string) (*Entity, bool) {
	name = strings.TrimSpace(name)
	for _, e := range s.entities {
		if strings.EqualFold(e.name, name) {
			return e, true
		}
	}
	return nil, false
}

// CreateEntity создаёт сущность с новым identity token и базовыми полями.
func (s *Schema) CreateEntity(name string, kind EntityKind) (*Entity, error) {
	e := newEntity(NewID(), name, kind)
	if err := s.insertEntity(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Schema) insertEntity(e *Entity) error {
	if e.id == "" {
		return violation("entity %q has no identity token", e.name)
	}
	if !e.kind.Valid() {
		return violation("entity %q: unknown kind %q", e.name, e.kind)
	}
	if err := s.checkEntityName(e.name, ""); err != nil {
		return err
	}
	if _, dup := s.byID[e.id]; dup {
		return duplicate("entity identity %s used twice", e.id)
	}
	s.entities = append(s.entities, e)
	s.byID[e.id] = e
	return nil
}

// InsertEntity добавляет готовую сущность (копию) с сохранением её identity token-ов.
// Цели связей должны уже существовать в схеме.
func (s *Schema) InsertEntity(e *Entity) error {
	c := e.Clone()
	if err := c.validate(); err != nil {
		return err
	}
	for _, f := range c.fields {
		if err := s.checkTargets(c, f); err != nil {
			return err
		}
	}
	return s.insertEntity(c)
}

func (s *Schema) checkEntityName(name, skipID string) error {
	if !nameRe.MatchString(name) {
		return violation("invalid entity name %q", name)
	}
	for _, x := range s.entities {
		if x.id != skipID && strings.EqualFold(x.name, name) {
			return violation("entity %q already exists", name)
		}
	}
	return nil
}

func (s *Schema) RenameEntity(id, name string) error {
	e, ok := s.byID[id]
	if !ok {
		return violation("entity %s: %v", id, ErrNotFound)
	}
	if err := s.checkEntityName(name, id); err != nil {
		return err
	}
	e.name = name
	return nil
}

// RemoveEntity удаляет сущность. Нельзя удалить цель связи другой сущности — сначала надо убрать поле.
func (s *Schema) RemoveEntity(id string) error {
	e, ok := s.byID[id]
	if !ok {
		return violation("entity %s: %v", id, ErrNotFound)
	}
	for _, x := range s.entities {
		if x.id == id {
			continue
		}
		for _, f := range x.fields {
			if f.Type.Refers(id) {
				return violation("entity %q is referenced by %s.%s", e.name, x.name, f.Name)
			}
		}
	}
	s.entities = slices.DeleteFunc(s.entities, func(x *Entity) bool { return x.id == id })
	delete(s.byID, id)
	return nil
}

// FieldSpec: параметры нового пользовательского поля.
type FieldSpec struct {
	ID         string
	Name       string
	Nullable   bool
	PrimaryKey bool
	Type       FieldType
}

// AddField добавляет поле. ID из spec используется, если задан, иначе генерируется.
func (s *Schema) AddField(entityID string, spec FieldSpec) (Field, error) {
	e, ok := s.byID[entityID]
	if !ok {
		return Field{}, violation("entity %s: %v", entityID, ErrNotFound)
	}
	f := Field{
		ID:         spec.ID,
		Name:       spec.Name,
		Nullable:   spec.Nullable,
		PrimaryKey: spec.PrimaryKey,
		Type:       spec.Type.Clone(),
	}
	if f.ID == "" {
		f.ID = NewID()
	}
	if err := e.checkField(f, ""); err != nil {
		return Field{}, err
	}
	if err := s.checkTargets(e, f); err != nil {
		return Field{}, err
	}
	e.appendField(f)
	return f.Clone(), nil
}

func (s *Schema) RenameField(entityID, fieldID, name string) error {
	return s.updateField(entityID, fieldID, func(f *Field) { f.Name = name })
}

func (s *Schema) SetNullable(entityID, fieldID string, nullable bool) error {
	return s.updateField(entityID, fieldID, func(f *Field) { f.Nullable = nullable })
}

func (s *Schema) SetFieldType(entityID, fieldID string, t FieldType) error {
	return s.updateField(entityID, fieldID, func(f *Field) { f.Type = t.Clone() })
}

func (s *Schema) RemoveField(entityID, fieldID string) error {
	e, f, err := s.lookupField(entityID, fieldID)
	if err != nil {
		return err
	}
	if f.Base {
		return violation("%s.%s: base field cannot be removed", e.name, f.Name)
	}
	e.fields = slices.DeleteFunc(e.fields, func(x Field) bool { return x.ID == fieldID })
	e.reindex()
	return nil
}

// updateField применяет мутацию к копии поля и записывает её только если инварианты соблюдены.
func (s *Schema) updateField(entityID, fieldID string, mutate func(*Field)) error {
	e, f, err := s.lookupField(entityID, fieldID)
	if err != nil {
		return err
	}
	if f.Base {
		return violation("%s.%s: base field is immutable", e.name, f.Name)
	}
	next := f.Clone()
	mutate(&next)
	if err := e.checkField(next, fieldID); err != nil {
		return err
	}
	if err := s.checkTargets(e, next); err != nil {
		return err
	}
	e.fields[e.byID[fieldID]] = next
	return nil
}

func (s *Schema) lookupField(entityID, fieldID string) (*Entity, Field, error) {
	e, ok := s.byID[entityID]
	if !ok {
		return nil, Field{}, violation("entity %s: %v", entityID, ErrNotFound)
	}
	i, ok := e.byID[fieldID]
	if !ok {
		return nil, Field{}, violation("%s: field %s: %v", e.name, fieldID, ErrNotFound)
	}
	return e, e.fields[i], nil
}

func (s *Schema) checkTargets(owner *Entity, f Field) error {
	for _, id := range f.Type.References() {
		if id == owner.id {
			continue
		}
		if _, ok := s.byID[id]; !ok {
			return violation("%s.%s: relation target %s does not exist", owner.name, f.Name, id)
		}
	}
	return nil
}

// SetView добавляет или заменяет DTO сущности.
func (s *Schema) SetView(entityID string, v View) error {
	e, ok := s.byID[entityID]
	if !ok {
		return violation("entity %s: %v", entityID, ErrNotFound)
	}
	if err := checkView(e, v); err != nil {
		return err
	}
	v = v.Clone()
	for i, x := range e.views {
		if x.Name == v.Name {
			e.views[i] = v
			return nil
		}
	}
	e.views = append(e.views, v)
	return nil
}

func (s *Schema) RemoveView(entityID, name string) error {
	e, ok := s.byID[entityID]
	if !ok {
		return violation("entity %s: %v", entityID, ErrNotFound)
	}
	n := len(e.views)
	e.views = slices.DeleteFunc(e.views, func(v View) bool { return v.Name == name })
	if len(e.views) == n {
		return violation("%s: view %q: %v", e.name, name, ErrNotFound)
	}
	return nil
}

func checkView(e *Entity, v View) error {
	if strings.TrimSpace(v.Name) == "" {
		return violation("%s: view without name", e.name)
	}
	for out, vf := range v.Fields {
		if strings.TrimSpace(out) == "" {
			return violation("%s.%s: view field without name", e.name, v.Name)
		}
		switch vf.Kind {
		case ViewStatic:
		case ViewValue:
			if strings.TrimSpace(vf.Value) == "" {
				return violation("%s.%s.%s: empty expression", e.name, v.Name, out)
			}
		default:
			return violation("%s.%s.%s: unknown view value kind %q", e.name, v.Name, out, vf.Kind)
		}
	}
	return nil
}

// Validate перепроверяет все инварианты схемы целиком.
func (s *Schema) Validate() error {
	seen := map[string]struct{}{}
	for _, e := range s.entities {
		if _, dup := seen[e.id]; dup {
			return duplicate("entity identity %s used twice", e.id)
		}
		seen[e.id] = struct{}{}
		if err := s.checkEntityName(e.name, e.id); err != nil {
			return err
		}
		if err := e.validate(); err != nil {
			return err
		}
		for _, f := range e.fields {
			if err := s.checkTargets(e, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// validate проверяет инварианты самой сущности (без ссылок на другие сущности).
func (e *Entity) validate() error {
	if e.id == "" {
		return violation("entity %q has no identity token", e.name)
	}
	if !e.kind.Valid() {
		return violation("entity %q: unknown kind %q", e.name, e.kind)
	}
	for _, want := range baseFields(e.id) {
		f, ok := e.FieldByName(want.Name)
		if !ok || !f.Base {
			return violation("%s: base field %q is missing", e.name, want.Name)
		}
		if f.Nullable != want.Nullable || f.PrimaryKey != want.PrimaryKey ||
			!f.Type.SameShape(want.Type) || !f.Type.RuleEqual(want.Type) {
			return violation("%s: base field %q differs from its definition", e.name, want.Name)
		}
	}
	pk := 0
	fieldIDs := map[string]struct{}{}
	for _, f := range e.fields {
		if _, dup := fieldIDs[f.ID]; dup {
			return duplicate("%s: field identity %s used twice", e.name, f.ID)
		}
		fieldIDs[f.ID] = struct{}{}
		if f.Base && !IsBaseFieldName(f.Name) {
			return violation("%s: %q is not a base field", e.name, f.Name)
		}
		if err := e.checkField(f, f.ID); err != nil {
			return err
		}
		if f.PrimaryKey {
			pk++
		}
	}
	if pk != 1 {
		return violation("%s: expected exactly one primary key, got %d", e.name, pk)
	}
	names := map[string]struct{}{}
	for _, v := range e.views {
		if _, dup := names[v.Name]; dup {
			return violation("%s: view %q defined twice", e.name, v.Name)
		}
		names[v.Name] = struct{}{}
		if err := checkView(e, v); err != nil {
			return err
		}
	}
	return nil
}

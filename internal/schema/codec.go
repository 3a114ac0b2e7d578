package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Document: сериализуемое представление схемы (JSON/YAML). Identity token-ы — непрозрачные строки.
type Document struct {
	Version  string           `json:"version" yaml:"version"`
	Entities []EntityDocument `json:"entities" yaml:"entities"`
	Settings Settings         `json:"settings" yaml:"settings"`
}

type EntityDocument struct {
	ID     string     `json:"id" yaml:"id"`
	Name   string     `json:"name" yaml:"name"`
	Kind   EntityKind `json:"kind" yaml:"kind"`
	Fields []Field    `json:"fields" yaml:"fields"`
	Views  []View     `json:"views" yaml:"views"`
}

func (s *Schema) Document() Document {
	d := Document{Version: s.version.String(), Settings: s.settings, Entities: make([]EntityDocument, 0, len(s.entities))}
	for _, e := range s.entities {
		d.Entities = append(d.Entities, e.Document())
	}
	return d
}

func (e *Entity) Document() EntityDocument {
	return EntityDocument{ID: e.id, Name: e.name, Kind: e.kind, Fields: e.Fields(), Views: e.Views()}
}

// FromDocument строит схему и проверяет все инварианты. Недостающие базовые поля досеиваются.
func FromDocument(d Document) (*Schema, error) {
	v, err := semver.NewVersion(strings.TrimSpace(d.Version))
	if err != nil {
		return nil, violation("invalid version %q: %v", d.Version, err)
	}
	s := New(v, d.Settings)
	for _, ed := range d.Entities {
		e := entityFromDocument(ed)
		if _, dup := s.byID[e.id]; dup && e.id != "" {
			return nil, duplicate("entity identity %s used twice", e.id)
		}
		s.entities = append(s.entities, e)
		s.byID[e.id] = e
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func entityFromDocument(d EntityDocument) *Entity {
	e := &Entity{id: d.ID, name: d.Name, kind: d.Kind, byID: map[string]int{}}
	present := map[string]bool{}
	for _, f := range d.Fields {
		if f.Base {
			present[strings.ToLower(f.Name)] = true
		}
	}
	for _, f := range baseFields(d.ID) {
		if !present[f.Name] {
			e.appendField(f)
		}
	}
	for _, f := range d.Fields {
		e.appendField(f.Clone())
	}
	for _, v := range d.Views {
		e.views = append(e.views, v.Clone())
	}
	return e
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Document())
}

func (s *Schema) UnmarshalJSON(b []byte) error {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	built, err := FromDocument(d)
	if err != nil {
		return err
	}
	*s = *built
	return nil
}

func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Document())
}

// UnmarshalJSON восстанавливает отдельную сущность (например, из журнала изменений).
// Цели связей здесь не проверяются — у сущности нет окружающей схемы.
func (e *Entity) UnmarshalJSON(b []byte) error {
	var d EntityDocument
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	built := entityFromDocument(d)
	if err := built.validate(); err != nil {
		return err
	}
	*e = *built
	return nil
}

// Decode читает документ схемы в формате JSON или YAML (format: "json" | "yaml").
func Decode(data []byte, format string) (*Schema, error) {
	var d Document
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode json schema: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode yaml schema: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown schema format %q", format)
	}
	return FromDocument(d)
}

func Encode(s *Schema, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(s.Document(), "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(s.Document())
	}
	return nil, fmt.Errorf("unknown schema format %q", format)
}

// FormatOf определяет формат файла по расширению.
func FormatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Load читает схему из .json/.yaml/.yml файла.
func Load(path string) (*Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Decode(b, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save записывает схему (export). Формат — по расширению файла.
func Save(s *Schema, path string) error {
	b, err := Encode(s, FormatOf(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

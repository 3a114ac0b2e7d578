package dsl

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"qbase/internal/schema"
)

var fieldOptions = map[string]struct{}{
	"required": {}, "min": {}, "max": {}, "pattern": {}, "generate": {}, "id": {},
}

// entityID: токен сущности: явный id=... или выведенный из имени. Выведенный токен
// стабилен, пока не меняется имя; для переименования нужен явный id.
func entityID(e *Entity) string {
	if e.ID != "" {
		return e.ID
	}
	return "dsl:" + strings.ToLower(e.Name)
}

func fieldID(entity string, f Field) string {
	if id := f.Options["id"]; id != "" {
		return id
	}
	return entity + "." + strings.ToLower(f.Name)
}

// Document переводит разобранный DSL в документ схемы. Ссылки разрешаются по имени
// без учёта регистра; инварианты проверяет schema.FromDocument.
func (f *File) Document() (schema.Document, error) {
	doc := schema.Document{Version: f.Version}
	if doc.Version == "" {
		doc.Version = schema.EngineVersion
	}
	ids := map[string]string{}
	for _, e := range f.Entities {
		key := strings.ToLower(e.Name)
		if _, dup := ids[key]; dup {
			return doc, fmt.Errorf("line %d: entity %q declared twice", e.Line, e.Name)
		}
		ids[key] = entityID(e)
	}
	resolve := func(f Field) ([]string, error) {
		out := make([]string, 0, len(f.Targets))
		for _, t := range f.Targets {
			id, ok := ids[strings.ToLower(t)]
			if !ok {
				return nil, fmt.Errorf("line %d: %s: unknown entity %q", f.Line, f.Name, t)
			}
			out = append(out, id)
		}
		return out, nil
	}

	for _, e := range f.Entities {
		kind := schema.EntityKind(strings.ToUpper(e.Kind))
		if !kind.Valid() {
			return doc, fmt.Errorf("line %d: %s: unknown entity kind %q", e.Line, e.Name, e.Kind)
		}
		ed := schema.EntityDocument{ID: entityID(e), Name: e.Name, Kind: kind}
		for _, fd := range e.Fields {
			targets, err := resolve(fd)
			if err != nil {
				return doc, err
			}
			t, err := fieldType(fd, targets)
			if err != nil {
				return doc, fmt.Errorf("line %d: %s.%s: %w", fd.Line, e.Name, fd.Name, err)
			}
			_, required := fd.Options["required"]
			ed.Fields = append(ed.Fields, schema.Field{
				ID:       fieldID(ed.ID, fd),
				Name:     fd.Name,
				Nullable: !required,
				Type:     t,
			})
		}
		for _, v := range e.Views {
			sv := schema.View{Name: v.Name, Fields: map[string]schema.ViewField{}}
			for _, vf := range v.Fields {
				if _, dup := sv.Fields[vf.Name]; dup {
					return doc, fmt.Errorf("line %d: view %s: field %q declared twice", v.Line, v.Name, vf.Name)
				}
				kind := schema.ViewValue
				if vf.Static {
					kind = schema.ViewStatic
				}
				sv.Fields[vf.Name] = schema.ViewField{Kind: kind, Value: vf.Value}
			}
			ed.Views = append(ed.Views, sv)
		}
		doc.Entities = append(doc.Entities, ed)
	}
	return doc, nil
}

func fieldType(f Field, targets []string) (schema.FieldType, error) {
	for k := range f.Options {
		if _, ok := fieldOptions[k]; !ok {
			return schema.FieldType{}, fmt.Errorf("unknown option %q", k)
		}
	}
	lo, hi := f.Options["min"], f.Options["max"]
	switch f.Type {
	case "text", "string":
		r := schema.TextRule{Validate: f.Options["pattern"], Generate: f.Options["generate"]}
		var err error
		if r.Min, err = optInt(lo); err != nil {
			return schema.FieldType{}, err
		}
		if r.Max, err = optInt(hi); err != nil {
			return schema.FieldType{}, err
		}
		return schema.Text(r), nil
	case "number", "float", "int":
		r := schema.NumberRule{Integer: f.Type == "int"}
		var err error
		if r.Min, err = optFloat(lo); err != nil {
			return schema.FieldType{}, err
		}
		if r.Max, err = optFloat(hi); err != nil {
			return schema.FieldType{}, err
		}
		return schema.Number(r), nil
	case "bool":
		return schema.Bool(), nil
	case "date", "datetime":
		var r schema.DateRule
		var err error
		if r.Min, err = optTime(lo); err != nil {
			return schema.FieldType{}, err
		}
		if r.Max, err = optTime(hi); err != nil {
			return schema.FieldType{}, err
		}
		return schema.Date(r), nil
	case "ref":
		return schema.Relation(targets[0]), nil
	case "refs":
		return schema.RelationMany(targets...), nil
	}
	return schema.FieldType{}, fmt.Errorf("unknown type: %s", f.Type)
}

func optInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func optFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q (RFC 3339 or YYYY-MM-DD)", s)
}

// Load читает .dsl файл или каталог .dsl файлов и строит схему.
func Load(path string) (*schema.Schema, error) {
	var (
		f   *File
		err error
	)
	if st, statErr := os.Stat(path); statErr == nil && st.IsDir() {
		f, err = ParseDir(path)
	} else {
		f, err = ParseFile(path)
	}
	if err != nil {
		return nil, err
	}
	doc, err := f.Document()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s, err := schema.FromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

package dsl

// File: результат разбора одного .dsl файла до разрешения ссылок.
type File struct {
	Version  string
	Entities []*Entity
}

// Entity описывает структуру сущности из DSL
type Entity struct {
	Name   string
	Kind   string // auth | data | computed
	ID     string // identity token; пусто — выводится из имени
	Fields []Field
	Views  []View
	Line   int
}

// Field описывает поле сущности
type Field struct {
	Name    string
	Type    string            // text, number, int, bool, date, ref, refs
	Targets []string          // имена сущностей для ref/refs
	Options map[string]string // required, min, max, pattern, generate, id
	Line    int
}

type View struct {
	Name   string
	Fields []ViewField
	Line   int
}

// ViewField: Static — значение в кавычках, иначе выражение над полями.
type ViewField struct {
	Name   string
	Value  string
	Static bool
}

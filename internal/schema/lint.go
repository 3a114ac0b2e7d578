package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Issue: не блокирующее замечание к схеме.
type Issue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var exprIdentRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Lint проверяет противоречия, которые инварианты модели не запрещают, но которые почти наверняка ошибка.
func Lint(s *Schema) []Issue {
	var issues []Issue
	for _, e := range s.entities {
		for _, f := range e.fields {
			// обязательная ссылка на саму себя: первую запись не вставить
			if f.Type.Kind == FieldRelation && f.Type.Target == e.id && !f.Nullable {
				issues = append(issues, Issue{
					Entity:  e.name,
					Field:   f.Name,
					Code:    "required_self_relation",
					Message: "non-nullable relation to the owning entity; the first record can never be inserted",
				})
			}
			if f.Type.Kind == FieldText {
				r := f.Type.textRule()
				if r.Generate != "" && !f.PrimaryKey {
					issues = append(issues, Issue{
						Entity:  e.name,
						Field:   f.Name,
						Code:    "generate_on_plain_field",
						Message: "generation pattern is only used for primary keys",
					})
				}
			}
		}

		for _, v := range e.views {
			for out, vf := range v.Fields {
				if vf.Kind != ViewValue {
					continue
				}
				for _, ident := range exprIdentRe.FindAllString(vf.Value, -1) {
					if _, ok := e.FieldByName(ident); ok || isExprKeyword(ident) {
						continue
					}
					issues = append(issues, Issue{
						Entity:  e.name,
						Field:   v.Name + "." + out,
						Code:    "view_unknown_field",
						Message: fmt.Sprintf("expression references unknown field %q", ident),
					})
				}
			}
		}
	}
	return issues
}

func isExprKeyword(s string) bool {
	switch strings.ToLower(s) {
	case "and", "or", "not", "true", "false", "null":
		return true
	}
	return false
}

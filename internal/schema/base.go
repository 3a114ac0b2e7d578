package schema

var baseFieldNames = []string{"id", "created", "updated"}

// baseFields: системные поля, которые получает каждая сущность при создании.
// Параметры id совпадают с генератором идентификаторов записей: 15 символов [a-z0-9].
func baseFields(entityID string) []Field {
	return []Field{
		{
			ID:         baseFieldID(entityID, "id"),
			Name:       "id",
			Base:       true,
			PrimaryKey: true,
			Type: Text(TextRule{
				Min:      15,
				Max:      15,
				Validate: "^[a-z0-9]+$",
				Generate: "[a-z0-9]{15}",
			}),
		},
		{
			ID:   baseFieldID(entityID, "created"),
			Name: "created",
			Base: true,
			Type: Date(DateRule{}),
		},
		{
			ID:   baseFieldID(entityID, "updated"),
			Name: "updated",
			Base: true,
			Type: Date(DateRule{}),
		},
	}
}

func IsBaseFieldName(name string) bool {
	for _, n := range baseFieldNames {
		if n == name {
			return true
		}
	}
	return false
}

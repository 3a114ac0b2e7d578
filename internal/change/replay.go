package change

import (
	"fmt"

	"qbase/internal/schema"
)

// Replay применяет изменение к схеме на месте. Все инварианты модели проверяются на
// каждом шаге, поэтому неудачный порядок (связь на ещё не созданную сущность,
// удаление цели связи) проявляется ошибкой.
func Replay(s *schema.Schema, c Change) error {
	switch c := c.(type) {
	case AddEntity:
		return s.InsertEntity(c.Entity)
	case RemoveEntity:
		return s.RemoveEntity(c.Entity.ID())
	case RenameEntity:
		return s.RenameEntity(c.ID, c.To)
	case ChangeEntity:
		for _, fc := range c.Fields {
			if err := ReplayField(s, c.ID, fc); err != nil {
				return fmt.Errorf("%s: %w", fc, err)
			}
		}
		return nil
	}
	return fmt.Errorf("change: unknown change %T", c)
}

func ReplayField(s *schema.Schema, entityID string, fc FieldChange) error {
	switch fc := fc.(type) {
	case ChangeNullable:
		return s.SetNullable(entityID, fc.Field, fc.Nullable)
	case RenameField:
		return s.RenameField(entityID, fc.Field, fc.To)
	case ChangeRule:
		return s.SetFieldType(entityID, fc.Field, fc.To)
	case ChangeType:
		return s.SetFieldType(entityID, fc.Field, fc.To)
	case ChangeView:
		if fc.To == nil {
			return s.RemoveView(entityID, fc.Name)
		}
		return s.SetView(entityID, *fc.To)
	case AddField:
		_, err := s.AddField(entityID, schema.FieldSpec{
			ID:         fc.Field.ID,
			Name:       fc.Field.Name,
			Nullable:   fc.Field.Nullable,
			PrimaryKey: fc.Field.PrimaryKey,
			Type:       fc.Field.Type,
		})
		return err
	case RemoveField:
		return s.RemoveField(entityID, fc.Field.ID)
	}
	return fmt.Errorf("change: unknown field change %T", fc)
}

// ReplayAll применяет список по порядку; при ошибке схема остаётся в промежуточном состоянии,
// поэтому вызывающий работает с копией.
func ReplayAll(s *schema.Schema, changes []Change) error {
	for i, c := range changes {
		if err := Replay(s, c); err != nil {
			return fmt.Errorf("changes[%d] %s: %w", i, c, err)
		}
	}
	return nil
}

package schema

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID выдаёт новый identity token (ULID). Токен непрозрачен для потребителей.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// baseFieldID: детерминированный токен базового поля: один и тот же для всех версий схемы.
func baseFieldID(entityID, name string) string {
	return entityID + ":" + strings.ToLower(name)
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что запрос завершён успешно и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что обработка завершилась ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// MaxIdempotencyKeyLength ограничивает длину клиентского Idempotency-Key.
const MaxIdempotencyKeyLength = 128

// IdempotencyRecord хранит сохранённый ответ на запрос с Idempotency-Key.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Finished сообщает, что ответ сохранён и его можно вернуть повторно.
func (r IdempotencyRecord) Finished() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// Expired сообщает, что запись больше не защищает повтор и ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// ScopedIdempotencyKey строит ключ хранилища в пределах пользователя:
// одинаковые ключи разных покупателей не пересекаются.
func ScopedIdempotencyKey(userID, clientKey string) (string, error) {
	clientKey = strings.TrimSpace(clientKey)
	switch {
	case clientKey == "":
		return "", ErrIdempotencyKeyRequired
	case len(clientKey) > MaxIdempotencyKeyLength:
		return "", fmt.Errorf("%w: key longer than %d bytes", ErrIdempotencyKeyInvalid, MaxIdempotencyKeyLength)
	case strings.ContainsAny(clientKey, ": \t\n"):
		return "", fmt.Errorf("%w: key contains separator or whitespace", ErrIdempotencyKeyInvalid)
	}
	if strings.TrimSpace(userID) == "" {
		return "", ErrUnauthenticated
	}
	return userID + ":" + clientKey, nil
}

package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	idempotencyKeyHeader   = "Idempotency-Key"
	idempotentReplayHeader = "Idempotent-Replayed"
	defaultIdempotencyTTL  = 24 * time.Hour
)

// bodyRecorder дублирует тело ответа, чтобы сохранить его под ключом идемпотентности.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency повторяет сохранённый ответ для повторного Idempotency-Key.
// Ключ действует в пределах пользователя; тот же ключ с другим телом запроса даёт конфликт.
// Без заголовка запрос обрабатывается как обычно.
func Idempotency(repo domain.IdempotencyRepository, ttl time.Duration, now func() time.Time) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return func(c *gin.Context) {
		rawKey := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
		if repo == nil || rawKey == "" {
			c.Next()
			return
		}
		key, err := domain.ScopedIdempotencyKey(userID(c), rawKey)
		if err != nil {
			writeError(c, err)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, errValidation)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		logger := loggerFrom(c).WithField("idempotency_key", rawKey)

		record, err := repo.CreateProcessing(c.Request.Context(), key, requestHash(c, body), now().Add(ttl))
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) && record.Finished():
				c.Header(idempotentReplayHeader, "true")
				c.Data(record.HTTPStatus, "application/json; charset=utf-8", record.ResponseBody)
				c.Abort()
			case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
				writeError(c, errors.Join(domain.ErrIdempotencyKeyAlreadyExists, errors.New("request with the same key is still processing")))
			case errors.Is(err, domain.ErrIdempotencyHashMismatch):
				writeError(c, err)
			default:
				logger.WithError(err).Warn("failed to create idempotency record")
				writeError(c, domain.WrapPersistence(err))
			}
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		ctx := c.Request.Context()
		if status < http.StatusBadRequest {
			err = repo.MarkDone(ctx, key, recorder.body.Bytes(), status)
		} else {
			err = repo.MarkFailed(ctx, key, recorder.body.Bytes(), status)
		}
		if err != nil {
			logger.WithError(err).Warn("failed to store idempotent response")
		}
	}
}

func requestHash(c *gin.Context, body []byte) string {
	h := sha256.New()
	h.Write([]byte(c.Request.Method))
	h.Write([]byte{':'})
	h.Write([]byte(c.Request.URL.Path))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	loggerKey       = "logger"
	claimsKey       = "claims"
)

// RoleAdmin — роль администратора в JWT.
const RoleAdmin = "admin"

// Claims описывает содержимое bearer-токена; sub хранит идентификатор пользователя.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin сообщает, что токен выдан администратору.
func (c Claims) IsAdmin() bool {
	return strings.EqualFold(c.Role, RoleAdmin)
}

// IssueToken подписывает HS256-токен для пользователя.
func IssueToken(secret []byte, userID, role string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// RequestID берёт X-Request-ID из запроса или генерирует новый и кладёт логгер запроса в контекст.
func RequestID(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Set(loggerKey, logger.WithField("request_id", rid))
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// AccessLog пишет строку лога на каждый запрос.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := loggerFrom(c).WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Info("http request")
	}
}

// Recovery превращает панику обработчика в 500 и логирует её.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		loggerFrom(c).WithField("panic", fmt.Sprint(recovered)).Error("handler panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
			Error:     "internal error",
			RequestID: c.GetString(requestIDKey),
		})
	})
}

// Auth проверяет bearer-токен HS256 и кладёт claims в контекст.
func Auth(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(c, fmt.Errorf("%w: bearer token is missing", domain.ErrUnauthenticated))
			return
		}

		claims := &Claims{}
		_, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil {
			writeError(c, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err))
			return
		}
		if claims.Subject == "" {
			writeError(c, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated))
			return
		}

		c.Set(claimsKey, *claims)
		c.Set(loggerKey, loggerFrom(c).WithField("user_id", claims.Subject))
		c.Next()
	}
}

// RequireAdmin пропускает только администраторов.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok {
			writeError(c, domain.ErrUnauthenticated)
			return
		}
		if !claims.IsAdmin() {
			writeError(c, fmt.Errorf("%w: admin role required", domain.ErrForbidden))
			return
		}
		c.Next()
	}
}

func claimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func userID(c *gin.Context) string {
	claims, _ := claimsFrom(c)
	return claims.Subject
}

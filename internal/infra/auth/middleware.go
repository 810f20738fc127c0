package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/domain"
)

// TokenValidator — интерфейс проверки операторских токенов.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey string

const (
	// CtxUserScopes / CtxUserID — данные токена, проброшенные в контекст запроса.
	CtxUserScopes ctxKey = "user_scopes"
	CtxUserID     ctxKey = "user_id"
)

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), CtxUserScopes, claims.Scopes)
			ctx = context.WithValue(ctx, CtxUserID, claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ScopesFromContext достает scopes токена (пустая мапа, если их нет).
func ScopesFromContext(ctx context.Context) map[string]bool {
	if scopes, ok := ctx.Value(CtxUserScopes).(map[string]bool); ok {
		return scopes
	}
	return map[string]bool{}
}

// UserIDFromContext достает идентификатор оператора.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(CtxUserID).(string); ok {
		return id
	}
	return ""
}

package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	applog "docqa/internal/platform/log"
)

// AuthConfig bearer 鉴权配置。Token 与 JWTSecret 至少配置一个；
// 两者都配置时，先比对静态 token，不一致再按 JWT 校验。
type AuthConfig struct {
	Token     string // 静态 bearer token
	JWTSecret string // HMAC 签名密钥
	JWTIssuer string // 可选签发者校验
}

func (c *AuthConfig) enabled() bool {
	return strings.TrimSpace(c.Token) != "" || strings.TrimSpace(c.JWTSecret) != ""
}

// authMiddleware 验证 Authorization: Bearer <token>
func authMiddleware(cfg *AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format")
				return
			}
			tokenStr := strings.TrimSpace(parts[1])

			if cfg.Token != "" && subtle.ConstantTimeCompare([]byte(tokenStr), []byte(cfg.Token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.JWTSecret != "" {
				err := validateJWT(cfg, tokenStr)
				if err == nil {
					next.ServeHTTP(w, r)
					return
				}
				applog.Warn("[Auth] Invalid JWT token", "error", err)
			}

			writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		})
	}
}

func validateJWT(cfg *AuthConfig, tokenStr string) error {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.JWTIssuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.JWTIssuer))
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, parserOpts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("token is not valid")
	}
	return nil
}

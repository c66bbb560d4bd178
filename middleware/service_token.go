package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/taskops/policy-core/utils"
	"go.uber.org/zap"
)

// ServiceTokenMiddleware guards registry mutation routes with an HMAC-signed
// service token. End-user authentication stays with the orchestration layer;
// this check only proves the caller is a trusted service.
type ServiceTokenMiddleware struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewServiceTokenMiddleware creates a new ServiceTokenMiddleware. An empty
// secret disables the check, for development setups.
func NewServiceTokenMiddleware(secret, issuer string, logger *zap.Logger) *ServiceTokenMiddleware {
	return &ServiceTokenMiddleware{
		secret: []byte(secret),
		issuer: issuer,
		logger: logger,
	}
}

// RequireServiceToken validates the Bearer token on the request
func (m *ServiceTokenMiddleware) RequireServiceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		tokenString := extractBearerToken(r)
		if tokenString == "" {
			m.logger.Warn("missing service token",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Missing service token")
			return
		}

		claims, err := m.validateToken(tokenString)
		if err != nil {
			m.logger.Warn("service token validation failed",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired service token")
			return
		}

		ctx = WithServiceClaims(ctx, claims)
		m.logger.Debug("service token accepted",
			zap.String("request_id", requestID),
			zap.String("subject", claims.Subject))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *ServiceTokenMiddleware) validateToken(tokenString string) (*ServiceClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	subject, _ := claims.GetSubject()
	issuer, _ := claims.GetIssuer()
	return &ServiceClaims{Subject: subject, Issuer: issuer}, nil
}

// NewServiceToken mints a token for a service caller, used by operator
// tooling and tests.
func NewServiceToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": issuer,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ServiceClaimsKey is the context key for service token claims
	ServiceClaimsKey contextKey = "service_claims"
)

// ServiceClaims identifies the calling service on registry mutation routes
type ServiceClaims struct {
	Subject string
	Issuer  string
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetServiceClaimsFromContext retrieves service token claims from context
func GetServiceClaimsFromContext(ctx context.Context) *ServiceClaims {
	if val := ctx.Value(ServiceClaimsKey); val != nil {
		if claims, ok := val.(*ServiceClaims); ok {
			return claims
		}
	}
	return nil
}

// WithServiceClaims adds service token claims to the context
func WithServiceClaims(ctx context.Context, claims *ServiceClaims) context.Context {
	return context.WithValue(ctx, ServiceClaimsKey, claims)
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/SinaHo/referral-gate-backend/internal/auth"
)

// ErrUnauthenticated is returned when no or invalid token is provided.
var ErrUnauthenticated = status.Errorf(codes.Unauthenticated, "unauthenticated")

type claimsKey struct{}

// ClaimsFromContext returns the verified token claims, if any.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return c, ok
}

func bearer(header string) string {
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// AuthInterceptor returns a unary interceptor that requires a valid token
// carrying role.
func AuthInterceptor(logger *zap.SugaredLogger, jwtSecret, role string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			logger.Warn("Missing metadata in context")
			return nil, ErrUnauthenticated
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			logger.Warn("No authorization header provided")
			return nil, ErrUnauthenticated
		}

		tokenString := bearer(authHeaders[0])
		if tokenString == "" {
			logger.Warn("Empty bearer token")
			return nil, ErrUnauthenticated
		}

		claims, err := auth.ParseToken([]byte(jwtSecret), tokenString)
		if err != nil {
			logger.Warnw("Invalid token", "error", err)
			return nil, ErrUnauthenticated
		}
		if claims.Role != role {
			logger.Warnw("Token role not allowed", "role", claims.Role, "method", info.FullMethod)
			return nil, ErrUnauthenticated
		}

		return handler(context.WithValue(ctx, claimsKey{}, claims), req)
	}
}

// RequireRole is the HTTP counterpart of AuthInterceptor. Failures get a bare
// 401 with no detail.
func RequireRole(logger *zap.SugaredLogger, jwtSecret, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				unauthorized(w)
				return
			}
			claims, err := auth.ParseToken([]byte(jwtSecret), tokenString)
			if err != nil || claims.Role != role {
				logger.Warnw("Rejected admin request", "path", r.URL.Path, "error", err)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"Unauthorized"}`))
}

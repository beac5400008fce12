// auth.go: аутентификация по JWT bearer через JWKS провайдера.
// На этом уровне аутентификация необязательна: запрос без токена
// проходит анонимно, запрос с плохим токеном отклоняется.
// Нужна ли identity, решают обработчики.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/stl-directory/internal/api/errors"
	"github.com/bigkaa/stl-directory/internal/domain/model"
)

type contextKey string

// ContextKeyIdentity: ключ *model.Identity аутентифицированного запроса.
const ContextKeyIdentity contextKey = "identity"

// idpClaims: сырые claims провайдера.
type idpClaims struct {
	jwt.RegisteredClaims
	Name              string       `json:"name"`
	PreferredUsername string       `json:"preferred_username"`
	Email             string       `json:"email"`
	Picture           string       `json:"picture"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth проверяет bearer-токены RS256.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	issuer    string
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// NewJWTAuth создаёт middleware с фоновым обновлением JWKS.
// caCertPath необязателен. Старт не падает, если провайдер ещё
// недоступен.
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("load CA certificate %s: %w", caCertPath, err)
		}
	}

	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("create keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовым keyfunc.
// Используется в тестах.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   kf,
		issuer: issuer,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	pool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		},
	}, nil
}

// Middleware кладёт identity вызывающего в контекст запроса, если
// передан валидный bearer-токен.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				apierrors.Unauthorized(w, "Malformed Authorization header, expected Bearer <token>")
				return
			}

			ident, err := j.authenticate(r.Context(), parts[1])
			if err != nil {
				j.logger.Debug("JWT отклонён",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyIdentity, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (j *JWTAuth) authenticate(ctx context.Context, tokenString string) (*model.Identity, error) {
	raw := &idpClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token not valid")
	}
	if raw.Subject == "" {
		return nil, fmt.Errorf("token has no sub")
	}
	return identityFromClaims(raw), nil
}

func identityFromClaims(raw *idpClaims) *model.Identity {
	ident := &model.Identity{
		ID:          raw.Subject,
		DisplayName: raw.Name,
		Email:       raw.Email,
		AvatarURL:   raw.Picture,
	}
	if ident.DisplayName == "" {
		ident.DisplayName = raw.PreferredUsername
	}
	if raw.RealmAccess != nil {
		ident.Roles = raw.RealmAccess.Roles
	}
	return ident
}

// RequireRole отвечает 401 анонимным и 403 вызывающим без role.
// Должен выполняться после JWTAuth.Middleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := IdentityFromContext(r.Context())
			if ident == nil {
				apierrors.Unauthorized(w, "Authentication required")
				return
			}
			if !ident.HasRole(role) {
				apierrors.Forbidden(w, fmt.Sprintf("Role %s required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext возвращает identity вызывающего или nil.
func IdentityFromContext(ctx context.Context) *model.Identity {
	ident, _ := ctx.Value(ContextKeyIdentity).(*model.Identity)
	return ident
}

// WithIdentity возвращает ctx с ident.
func WithIdentity(ctx context.Context, ident *model.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, ident)
}

const statusFail = "fail"

// IdPReadinessChecker проверяет JWKS endpoint для /health/ready.
type IdPReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewIdPReadinessChecker создаёт проверку.
func NewIdPReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*IdPReadinessChecker, error) {
	client := &http.Client{Timeout: timeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, timeout)
		if err != nil {
			return nil, fmt.Errorf("load CA for readiness checker: %w", err)
		}
	}
	return &IdPReadinessChecker{jwksURL: jwksURL, client: client}, nil
}

// CheckReady загружает JWKS и считает ключи.
func (c *IdPReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, c.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "build request: " + err.Error()
	}
	resp, err := c.client.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return statusFail, fmt.Sprintf("JWKS unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("JWKS returned status %d", resp.StatusCode)
	}

	var body struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "degraded", fmt.Sprintf("JWKS is not valid JSON: %v", err)
	}
	if len(body.Keys) == 0 {
		return "degraded", "JWKS has no keys"
	}
	return "ok", fmt.Sprintf("JWKS reachable, %d keys", len(body.Keys))
}

// idp-mock: IdP для локальной разработки directory-api.
// При старте генерирует RSA-ключ, отдаёт публичный набор ключей на
// GET /jwks и подписывает токены в формате настоящего провайдера на
// POST /token (sub, name, email, picture, realm_access.roles).
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const keyID = "dev-key-1"

type mockConfig struct {
	// MOCK_PORT (по умолчанию 8081)
	Port string
	// MOCK_ISSUER, должен совпадать с LD_JWT_ISSUER, если тот задан
	Issuer string
	// MOCK_KEY_SIZE (по умолчанию 2048)
	KeySize int
}

func loadConfig() mockConfig {
	cfg := mockConfig{
		Port:    envOrDefault("MOCK_PORT", "8081"),
		Issuer:  envOrDefault("MOCK_ISSUER", "idp-mock"),
		KeySize: 2048,
	}
	if v := os.Getenv("MOCK_KEY_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size >= 1024 {
			cfg.KeySize = size
		}
	}
	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

type tokenRequest struct {
	Sub        string   `json:"sub"`
	Name       string   `json:"name"`
	Username   string   `json:"preferred_username"`
	Email      string   `json:"email"`
	Picture    string   `json:"picture"`
	Roles      []string `json:"roles"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

type mockClaims struct {
	jwt.RegisteredClaims
	Name              string       `json:"name,omitempty"`
	PreferredUsername string       `json:"preferred_username,omitempty"`
	Email             string       `json:"email,omitempty"`
	Picture           string       `json:"picture,omitempty"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
}

type mockServer struct {
	privateKey *rsa.PrivateKey
	issuer     string
	// jwks: закэшированный публичный набор ключей
	jwks   []byte
	now    func() time.Time
	logger *slog.Logger
}

func newMockServer(ctx context.Context, key *rsa.PrivateKey, issuer string, logger *slog.Logger) (*mockServer, error) {
	jwk, err := jwkset.NewJWKFromKey(&key.PublicKey, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			ALG: jwkset.AlgRS256,
			KID: keyID,
			USE: jwkset.UseSig,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build JWK: %w", err)
	}
	storage := jwkset.NewMemoryStorage()
	if err := storage.KeyWrite(ctx, jwk); err != nil {
		return nil, fmt.Errorf("store JWK: %w", err)
	}
	raw, err := storage.JSONPublic(ctx)
	if err != nil {
		return nil, fmt.Errorf("marshal JWKS: %w", err)
	}

	return &mockServer{
		privateKey: key,
		issuer:     issuer,
		jwks:       raw,
		now:        time.Now,
		logger:     logger,
	}, nil
}

func (s *mockServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/jwks", s.handleJWKS)
	r.Post("/token", s.handleToken)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *mockServer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.jwks)
}

func (s *mockServer) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Sub == "" {
		writeError(w, http.StatusBadRequest, "sub is required")
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := s.now()
	expires := now.Add(ttl)

	claims := mockClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Sub,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Name:              req.Name,
		PreferredUsername: req.Username,
		Email:             req.Email,
		Picture:           req.Picture,
	}
	if len(req.Roles) > 0 {
		claims.RealmAccess = &realmAccess{Roles: req.Roles}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		s.logger.Error("Ошибка подписи токена", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "token signing failed")
		return
	}

	s.logger.Info("Токен выпущен",
		slog.String("sub", req.Sub),
		slog.Any("roles", req.Roles),
		slog.Duration("ttl", ttl),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		Token:     signed,
		ExpiresAt: expires.UTC().Format(time.RFC3339),
	})
}

func (s *mockServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    http.StatusText(status),
			"message": message,
		},
	})
}

func main() {
	cfg := loadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	logger.Info("Генерация RSA-ключа", slog.Int("key_size", cfg.KeySize))
	key, err := rsa.GenerateKey(rand.Reader, cfg.KeySize)
	if err != nil {
		logger.Error("Ошибка генерации RSA-ключа", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := newMockServer(context.Background(), key, cfg.Issuer, logger)
	if err != nil {
		logger.Error("Ошибка инициализации mock-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("idp-mock слушает",
		slog.String("addr", httpServer.Addr),
		slog.String("issuer", cfg.Issuer),
	)
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

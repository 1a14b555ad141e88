package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"dropshop/backend/internal/auth"
	"dropshop/backend/internal/config"
	"dropshop/backend/internal/crypto"
	"dropshop/backend/internal/model"
	"dropshop/backend/internal/repository"
)

type Server struct {
	cfg   config.Config
	store *repository.Store
	redis *redis.Client
}

func NewServer(cfg config.Config, store *repository.Store, redisClient *redis.Client) *Server {
	return &Server{
		cfg:   cfg,
		store: store,
		redis: redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-Requested-With", "X-Request-ID"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/uploads/*", http.StripPrefix("/static/uploads/", http.FileServer(http.Dir(s.cfg.UploadDir))))

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)
	r.With(s.requireAccount).Get("/auth/me", s.handleMe)

	r.Route("/shops", func(r chi.Router) {
		r.Get("/public/{subdomain}", s.handleGetPublicShop)
		r.With(s.requireAccount).Post("/", s.handleCreateShop)
		r.With(s.requireAccount).Get("/my-shop", s.handleGetMyShop)
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(s.requireAccount)
		r.With(s.requireRole(model.RoleShopOwner, model.RoleSysadmin)).Get("/", s.handleListUsers)
		r.With(s.requireRole(model.RoleSysadmin)).Post("/", s.handleCreateUser)
		r.Get("/{uid}", s.handleGetUser)
		r.Put("/{uid}", s.handleUpdateUser)
		r.Delete("/{uid}", s.handleDeleteUser)
		r.Patch("/{uid}/status", s.handleUpdateUserStatus)
		r.Patch("/{uid}/password", s.handleChangePassword)
	})

	r.Route("/upload", func(r chi.Router) {
		r.Use(s.requireAccount)
		r.Post("/avatar", s.handleUploadAvatar)
		r.Post("/product-images", s.handleUploadProductImages)
		r.Delete("/file/{folder}/{filename}", s.handleDeleteFile)
	})

	return r
}

// requireAccount resolves the bearer token to an account, in strict order:
// token present, signature and expiry valid, account found, account active.
// The first three all collapse to 401 so a valid-token-but-deleted-account
// probe is indistinguishable from a bad token.
func (s *Server) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		uid, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		account, err := s.store.GetAccountByUID(r.Context(), uid)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, r, http.StatusUnauthorized, "Could not validate credentials")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
			return
		}

		if !account.IsActive {
			writeError(w, r, http.StatusBadRequest, "Account has been disabled")
			return
		}

		ctx := context.WithValue(r.Context(), accountKey{}, &account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := accountFromContext(r.Context())
			if account == nil || !hasRole(account, roles...) {
				writeError(w, r, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type accountKey struct{}

func accountFromContext(ctx context.Context) *model.Account {
	value := ctx.Value(accountKey{})
	account, _ := value.(*model.Account)
	return account
}

func hasRole(account *model.Account, roles ...model.Role) bool {
	for _, role := range roles {
		if account.Role == role {
			return true
		}
	}
	return false
}

// isPrivileged mirrors the self-or-privileged policy: sysadmins and shop
// owners may act on other accounts.
func isPrivileged(account *model.Account) bool {
	return account.Role == model.RoleSysadmin || account.Role == model.RoleShopOwner
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(strings.ToLower(req.Username))
	if req.Username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "Missing credentials")
		return
	}

	account, err := s.store.GetAccountByEmail(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, r, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := crypto.CheckPassword(account.PasswordHash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, account.UID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

type registerRequest struct {
	FullName    string  `json:"full_name"`
	Email       string  `json:"email"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	NationalID  *string `json:"national_id,omitempty"`
	Password    string  `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	var details []fieldError
	details = appendFieldErrors(details, validateFullName(req.FullName))
	details = appendFieldErrors(details, validateEmail(req.Email))
	details = appendFieldErrors(details, validatePassword(req.Password))
	details = appendFieldErrors(details, validateOptionalLength("phone_number", req.PhoneNumber, 20))
	details = appendFieldErrors(details, validateOptionalLength("national_id", req.NationalID, 20))
	if len(details) > 0 {
		writeValidationError(w, r, details)
		return
	}

	taken, err := s.store.EmailExists(r.Context(), req.Email, "")
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	if taken {
		writeError(w, r, http.StatusBadRequest, "Email already in use")
		return
	}

	account, err := s.createAccount(r.Context(), req.FullName, req.Email, req.PhoneNumber, req.NationalID, req.Password, model.RoleCustomer, true)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			writeError(w, r, http.StatusBadRequest, duplicateMessage(err))
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, mapAccountResponse(account))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())
	if account == nil {
		writeError(w, r, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, mapAccountResponse(*account))
}

func (s *Server) createAccount(ctx context.Context, fullName, email string, phone, nationalID *string, password string, role model.Role, isActive bool) (model.Account, error) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return model.Account{}, err
	}
	uid, err := crypto.NewPublicID(crypto.AccountUIDLength)
	if err != nil {
		return model.Account{}, err
	}

	now := time.Now().UTC()
	account := model.Account{
		UID:          uid,
		FullName:     fullName,
		Email:        email,
		PhoneNumber:  phone,
		NationalID:   nationalID,
		PasswordHash: hash,
		Role:         role,
		IsActive:     isActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.store.CreateAccount(ctx, account)
}

type accountResponse struct {
	UID         string    `json:"uid"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	PhoneNumber *string   `json:"phone_number"`
	NationalID  *string   `json:"national_id"`
	AvatarURL   *string   `json:"avatar_url"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func mapAccountResponse(account model.Account) accountResponse {
	return accountResponse{
		UID:         account.UID,
		FullName:    account.FullName,
		Email:       account.Email,
		PhoneNumber: account.PhoneNumber,
		NationalID:  account.NationalID,
		AvatarURL:   account.AvatarURL,
		Role:        string(account.Role),
		IsActive:    account.IsActive,
		CreatedAt:   account.CreatedAt,
		UpdatedAt:   account.UpdatedAt,
	}
}

type paginationInfo struct {
	CurrentPage  int  `json:"current_page"`
	TotalPages   int  `json:"total_pages"`
	TotalItems   int  `json:"total_items"`
	ItemsPerPage int  `json:"items_per_page"`
	HasNext      bool `json:"has_next"`
	HasPrev      bool `json:"has_prev"`
}

func paginate(page, limit, totalItems int) paginationInfo {
	totalPages := 1
	if totalItems > 0 {
		totalPages = (totalItems + limit - 1) / limit
	}
	return paginationInfo{
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalItems:   totalItems,
		ItemsPerPage: limit,
		HasNext:      page < totalPages,
		HasPrev:      page > 1,
	}
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func appendFieldErrors(details []fieldError, errs []fieldError) []fieldError {
	return append(details, errs...)
}

func validateFullName(fullName string) []fieldError {
	if len(fullName) < 2 || len(fullName) > 255 {
		return []fieldError{{Field: "full_name", Message: "must be between 2 and 255 characters", Type: "string_length"}}
	}
	return nil
}

func validateEmail(email string) []fieldError {
	if email == "" {
		return []fieldError{{Field: "email", Message: "field required", Type: "missing"}}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return []fieldError{{Field: "email", Message: "value is not a valid email address", Type: "value_error"}}
	}
	return nil
}

func validatePassword(password string) []fieldError {
	if len(password) < 6 {
		return []fieldError{{Field: "password", Message: "must be at least 6 characters", Type: "string_length"}}
	}
	return nil
}

func validateOptionalLength(field string, value *string, max int) []fieldError {
	if value == nil {
		return nil
	}
	if len(*value) > max {
		return []fieldError{{Field: field, Message: "value too long", Type: "string_length"}}
	}
	return nil
}

// duplicateMessage names the field behind a unique-violation backstop hit.
// The pre-checks normally catch duplicates first; this only fires when a
// concurrent request wins the race, so the constraint name is the sole clue
// to which field collided.
func duplicateMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.Contains(pgErr.ConstraintName, "email"):
			return "Email already in use"
		case strings.Contains(pgErr.ConstraintName, "phone"):
			return "Phone number already in use"
		case strings.Contains(pgErr.ConstraintName, "national"):
			return "National ID already in use"
		case strings.Contains(pgErr.ConstraintName, "subdomain"):
			return "Subdomain already registered"
		case strings.Contains(pgErr.ConstraintName, "owner"):
			return "User already owns a shop"
		}
	}
	return "Duplicate value"
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error      bool         `json:"error"`
	Message    string       `json:"message"`
	StatusCode int          `json:"status_code"`
	Path       string       `json:"path"`
	Details    []fieldError `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorResponse{
		Error:      true,
		Message:    message,
		StatusCode: status,
		Path:       r.URL.Path,
	})
}

func writeValidationError(w http.ResponseWriter, r *http.Request, details []fieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Error:      true,
		Message:    "Validation error",
		StatusCode: http.StatusUnprocessableEntity,
		Path:       r.URL.Path,
		Details:    details,
	})
}

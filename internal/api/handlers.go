package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/zaibshamsi/Brofessor/internal/auth"
	"github.com/zaibshamsi/Brofessor/internal/core"
	"github.com/zaibshamsi/Brofessor/internal/logger"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

// UserStore is the account storage the handlers need.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	CreateUser(ctx context.Context, email, passwordHash string, role store.Role) (*store.User, error)
}

type Deps struct {
	Users         UserStore
	Sessions      *core.SessionRegistry
	Knowledge     *core.KnowledgeBaseController
	Timetables    *core.TimetableController
	Pipeline      *core.IngestionPipeline
	Notifications *core.NotificationHub
	// IsAdminEmail decides the role given to a newly registered account.
	IsAdminEmail func(email string) bool
}

type APIHandler struct {
	log *logger.Logger
	Deps
}

func NewAPIHandler(log *logger.Logger, deps Deps) *APIHandler {
	if deps.IsAdminEmail == nil {
		deps.IsAdminEmail = func(string) bool { return false }
	}
	return &APIHandler{log: log.With("component", "APIHandler"), Deps: deps}
}

type ctxKey struct{}

func userFromContext(ctx context.Context) *store.User {
	u, _ := ctx.Value(ctxKey{}).(*store.User)
	return u
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.Users.GetUserByID(r.Context(), userID)
		if err != nil {
			h.log.Error("Failed to load user for token", "user_id", userID, "error", err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func (h *APIHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !userFromContext(r.Context()).IsAdmin() {
			h.respondWithError(w, r, core.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondWithError maps domain errors to status codes. Unknown errors are
// logged and reported as 500 without detail.
func (h *APIHandler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, core.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondWithJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	respondWithJSON(w, status, map[string]string{"error": err.Error()})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func decodeCredentials(r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	return req, req.Email != "" && req.Password != ""
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(r)
	if !ok {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	existing, err := h.Users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if existing != nil {
		http.Error(w, "Email is already registered", http.StatusConflict)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error("Failed to hash password", "error", err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	role := store.RoleUser
	if h.IsAdminEmail(req.Email) {
		role = store.RoleAdmin
	}
	user, err := h.Users.CreateUser(r.Context(), req.Email, hashedPassword, role)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.log.Info("User registered", "user_id", user.ID, "role", user.Role)

	token, err := auth.GenerateJWT(user.ID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(r)
	if !ok {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.Users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.log.Error("Failed to look up user", "error", err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(user.ID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	User        exam.User `json:"user"`
}

// HashPassword is exported for seeding.
func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// POST /auth/register  { "username": "...", "password": "...", "role": "faculty|student" }
func RegisterHandler(a *AuthService, store exam.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			http.Error(w, "username and password required", http.StatusBadRequest)
			return
		}
		if req.Role != exam.RoleFaculty && req.Role != exam.RoleStudent {
			http.Error(w, "role must be faculty or student", http.StatusBadRequest)
			return
		}
		// "all" is the broadcast audience selector and cannot name a student.
		if req.Username == exam.AudienceAll {
			http.Error(w, "username is reserved", http.StatusBadRequest)
			return
		}

		hash, err := HashPassword(req.Password)
		if err != nil {
			http.Error(w, "hash password", http.StatusInternalServerError)
			return
		}
		u, err := store.CreateUser(r.Context(), exam.User{Username: req.Username, Role: req.Role, PasswordHash: hash})
		if errors.Is(err, exam.ErrUsernameTaken) {
			http.Error(w, "username already exists", http.StatusConflict)
			return
		}
		if err != nil {
			log.Error("create user", zap.String("username", req.Username), zap.Error(err))
			http.Error(w, "create user", http.StatusInternalServerError)
			return
		}
		log.Info("user registered", zap.String("user_id", u.ID), zap.String("role", u.Role))
		writeToken(w, a, u, http.StatusCreated)
	}
}

// POST /auth/login  { "username": "...", "password": "..." }
func LoginHandler(a *AuthService, store exam.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		u, err := store.FindUserByUsername(r.Context(), strings.TrimSpace(req.Username))
		if err != nil && !errors.Is(err, exam.ErrNotFound) {
			log.Error("find user", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err != nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		writeToken(w, a, u, http.StatusOK)
	}
}

func writeToken(w http.ResponseWriter, a *AuthService, u exam.User, status int) {
	tok, err := a.IssueJWT(u)
	if err != nil {
		http.Error(w, "issue token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: tok, User: u})
}

package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	domain "newtab/auth/internal/domain/auth"
)

// Trust-assertion headers consumed by downstream services. They must only be
// accepted from this service acting as gateway-side validator, never from an
// untrusted client directly.
const (
	HeaderUserEmail = "X-User-Email"
	HeaderUserType  = "X-User-Type"
)

type authResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	Type         string `json:"type"`
	UserType     string `json:"userType"`
	Email        string `json:"email"`
}

type validateResponse struct {
	Email    string `json:"email"`
	UserType string `json:"userType"`
}

func newAuthResponse(pair *domain.TokenPair) authResponse {
	return authResponse{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Type:         "Bearer",
		UserType:     string(pair.Role),
		Email:        pair.Subject,
	}
}

func (s *Server) registerRoutes() {
	s.router.Handle("/health", http.HandlerFunc(s.handleHealth))
	s.router.Handle("/api/auth/register", http.HandlerFunc(s.handleRegister))
	s.router.Handle("/api/auth/login", http.HandlerFunc(s.handleLogin))
	s.router.Handle("/api/auth/guest", http.HandlerFunc(s.handleGuest))
	s.router.Handle("/api/auth/refresh", http.HandlerFunc(s.handleRefresh))
	s.router.Handle("/api/auth/validate", http.HandlerFunc(s.handleValidate))
	s.router.Handle("/api/auth/logout", http.HandlerFunc(s.handleLogout))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if msg := validateCredentialInput(payload.Email, payload.Password); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	pair, err := s.authService.Register(r.Context(), payload.Email, payload.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuthResponse(pair))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if msg := validateCredentialInput(payload.Email, payload.Password); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	pair, err := s.authService.Login(r.Context(), domain.Credentials{
		Email:    payload.Email,
		Password: payload.Password,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuthResponse(pair))
}

func (s *Server) handleGuest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	pair, err := s.authService.Guest(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuthResponse(pair))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	token := s.refreshTokenFromRequest(w, r)
	if token == "" {
		return
	}

	pair, err := s.authService.Refresh(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuthResponse(pair))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "authorization token required")
		return
	}

	identity, err := s.authService.Validate(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set(HeaderUserEmail, identity.Subject)
	w.Header().Set(HeaderUserType, string(identity.Role))
	writeJSON(w, http.StatusOK, validateResponse{
		Email:    identity.Subject,
		UserType: string(identity.Role),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	token := s.refreshTokenFromRequest(w, r)
	if token == "" {
		return
	}

	if err := s.authService.Logout(r.Context(), token); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refreshTokenFromRequest pulls the refresh token from the Authorization
// header or a {"refreshToken": ...} body. Writes a 400 and returns "" when
// none is supplied.
func (s *Server) refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) string {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		var payload struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			if errors.Is(err, io.EOF) {
				writeError(w, http.StatusBadRequest, "refresh token required")
			} else {
				writeError(w, http.StatusBadRequest, "invalid JSON payload")
			}
			return ""
		}
		token = strings.TrimSpace(payload.RefreshToken)
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "refresh token required")
		return ""
	}
	return token
}

// writeServiceError maps each sentinel from the identity service onto its
// HTTP status, logging the distinct kind. Store faults surface as a generic
// 503 without internal detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrEmailExists):
		s.logger.Info("registration rejected", slog.String("reason", "email taken"))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		s.logger.Info("login rejected", slog.String("reason", "invalid credentials"))
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, domain.ErrTokenInvalid),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrWrongTokenKind),
		errors.Is(err, domain.ErrTokenNotFound),
		errors.Is(err, domain.ErrRefreshTokenExpired):
		s.logger.Info("token rejected",
			slog.String("path", r.URL.Path), slog.String("reason", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.logger.Error("store unavailable",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		writeStoreUnavailable(w)
	default:
		s.logger.Error("unexpected failure",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func validateCredentialInput(email, password string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return "email is required"
	}
	if !strings.Contains(email, "@") {
		return "email is malformed"
	}
	if password == "" {
		return "password is required"
	}
	return ""
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkazmin/auth-rbac-service/internal/http/middleware"
	"github.com/pkazmin/auth-rbac-service/internal/http/response"
	"github.com/pkazmin/auth-rbac-service/internal/observability"
	"github.com/pkazmin/auth-rbac-service/internal/security"
	"github.com/pkazmin/auth-rbac-service/internal/service"
)

const maxJSONBody = 1 << 20

type AuthHandler struct {
	auth     *service.AuthService
	users    *service.UserService
	sessions *service.SessionService
}

func NewAuthHandler(auth *service.AuthService, users *service.UserService, sessions *service.SessionService) *AuthHandler {
	return &AuthHandler{auth: auth, users: users, sessions: sessions}
}

type signUpRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword         string `json:"old_password"`
	RepeatedOldPassword string `json:"repeated_old_password"`
	NewPassword         string `json:"new_password"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "malformed request body", nil)
		return false
	}
	return true
}

// requireUserAgent rejects requests without a User-Agent header. Sessions
// are keyed by (user, device) and a device without an identifier cannot
// participate in the lifecycle.
func requireUserAgent(w http.ResponseWriter, r *http.Request) (string, bool) {
	ua := r.UserAgent()
	if ua == "" {
		response.Error(w, r, http.StatusBadRequest, "MISSING_USER_AGENT", "User-Agent header is required", nil)
		return "", false
	}
	return ua, true
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Email == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "username and email are required", nil)
		return
	}
	if len(req.Password) < 8 {
		response.Error(w, r, http.StatusBadRequest, "WEAK_PASSWORD", "password must be at least 8 characters", nil)
		return
	}
	view, err := h.users.Register(req.Username, req.Password, req.Email, req.FirstName, req.LastName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "user.signup", "user_id", view.ID)
	response.JSON(w, r, http.StatusCreated, view)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	ua, ok := requireUserAgent(w, r)
	if !ok {
		return
	}
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := h.auth.SignIn(r.Context(), req.Username, req.Password, ua, clientIP(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.signin", "username", req.Username)
	setTokenCookies(w, pair)
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ua, ok := requireUserAgent(w, r)
	if !ok {
		return
	}
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "missing token", nil)
		return
	}
	if err := h.auth.Logout(r.Context(), claims, ua); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.logout", "user_id", claims.UserID)
	clearTokenCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ua, ok := requireUserAgent(w, r)
	if !ok {
		return
	}
	var req refreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	token := req.RefreshToken
	if token == "" {
		token = security.GetCookie(r, refreshTokenCookie)
	}
	if token == "" {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "missing refresh token", nil)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), token, ua)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	setTokenCookies(w, pair)
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "missing token", nil)
		return
	}
	userID, err := claims.SubjectID()
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "malformed subject", nil)
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.NewPassword) < 8 {
		response.Error(w, r, http.StatusBadRequest, "WEAK_PASSWORD", "password must be at least 8 characters", nil)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), userID, req.OldPassword, req.RepeatedOldPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.password_change", "user_id", claims.UserID)
	clearTokenCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_changed"})
}

func (h *AuthHandler) LoginHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "missing token", nil)
		return
	}
	userID, err := claims.SubjectID()
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "malformed subject", nil)
		return
	}
	page := queryInt(r, "page", 0)
	pageSize := queryInt(r, "page_size", 0)
	result, err := h.auth.LoginHistory(userID, page, pageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AuthHandler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "missing token", nil)
		return
	}
	userID, err := claims.SubjectID()
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "malformed subject", nil)
		return
	}
	views, err := h.sessions.ListActiveSessions(userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, views)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "missing token", nil)
		return
	}
	userID, err := claims.SubjectID()
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "malformed subject", nil)
		return
	}
	user, perms, err := h.users.GetByID(userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]interface{}{
		"id":          user.ID,
		"username":    user.Login,
		"email":       user.Email,
		"first_name":  user.FirstName,
		"last_name":   user.LastName,
		"permissions": perms,
	})
}

const (
	accessTokenCookie  = "access_token"
	refreshTokenCookie = "refresh_token"
)

func setTokenCookies(w http.ResponseWriter, pair *service.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    pair.RefreshToken,
		Path:     "/api/v1/auth",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearTokenCookies(w http.ResponseWriter) {
	expired := time.Unix(0, 0)
	http.SetCookie(w, &http.Cookie{Name: accessTokenCookie, Value: "", Path: "/", HttpOnly: true, Expires: expired, MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: refreshTokenCookie, Value: "", Path: "/api/v1/auth", HttpOnly: true, Expires: expired, MaxAge: -1})
}

// clientIP trusts RemoteAddr; the router's RealIP middleware has already
// resolved forwarding headers by the time a handler runs.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

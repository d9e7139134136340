// Package port exposes the verification engine over HTTP JSON endpoints.
// It translates requests into app-layer calls and maps domain errors onto
// wire responses via errmap.
package port

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/medlinkhq/auth-service/internal/auth"
	"github.com/medlinkhq/auth-service/internal/authsvc/app"
	"github.com/medlinkhq/auth-service/internal/domain"
	"github.com/medlinkhq/auth-service/internal/errmap"
	"github.com/medlinkhq/auth-service/internal/otp"
)

// maxBodyBytes bounds request bodies; every endpoint takes a small JSON object.
const maxBodyBytes = 1 << 16

// authService is a narrow, consumer-defined interface for the operations the
// handler requires. The *app.Service satisfies this.
type authService interface {
	RequestOTP(ctx context.Context, rawIdentifier string, channel domain.Channel) (*app.RequestOTPResult, error)
	VerifyOTP(ctx context.Context, rawIdentifier string, channel domain.Channel, code string) (*app.VerifyOTPResult, error)
	CompleteProfile(ctx context.Context, handle string, input domain.ProfileInput) (*app.CompleteProfileResult, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*app.RefreshResult, error)
}

// Handler serves the /v1/auth endpoints.
type Handler struct {
	svc authService

	// retryAfter is echoed in the Retry-After header on cooldown refusals.
	retryAfter time.Duration
}

// NewHandler creates a Handler backed by the given service. retryAfter should
// match the configured resend cooldown.
func NewHandler(svc *app.Service, retryAfter time.Duration) *Handler {
	return &Handler{svc: svc, retryAfter: retryAfter}
}

// Register mounts the auth routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/auth/otp/request", h.requestOTP)
	mux.HandleFunc("POST /v1/auth/otp/verify", h.verifyOTP)
	mux.HandleFunc("POST /v1/auth/profile/complete", h.completeProfile)
	mux.HandleFunc("POST /v1/auth/token/refresh", h.refreshTokens)
}

type requestOTPRequest struct {
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"`
}

type requestOTPResponse struct {
	ExpiresAt         time.Time `json:"expires_at"`
	RetryAfterSeconds int       `json:"retry_after_seconds"`
}

func (h *Handler) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.svc.RequestOTP(r.Context(), req.Identifier, domain.Channel(req.Channel))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, requestOTPResponse{
		ExpiresAt:         result.ExpiresAt,
		RetryAfterSeconds: result.RetryAfterSeconds,
	})
}

type verifyOTPRequest struct {
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"`
	Code       string `json:"code"`
}

type verifyOTPResponse struct {
	EmailVerification bool          `json:"email_verification,omitempty"`
	ProfileComplete   bool          `json:"profile_complete"`
	Handle            string        `json:"handle,omitempty"`
	User              userPayload   `json:"user"`
	Tokens            *tokenPayload `json:"tokens,omitempty"`
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	// Reject garbage before the engine spends a verification attempt.
	if !otp.IsNumeric(req.Code) {
		h.writeError(w, fmt.Errorf("verification code must be numeric: %w", domain.ErrInvalidInput))
		return
	}

	result, err := h.svc.VerifyOTP(r.Context(), req.Identifier, domain.Channel(req.Channel), req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := verifyOTPResponse{
		EmailVerification: result.EmailVerification,
		ProfileComplete:   result.ProfileComplete,
		User:              toUserPayload(result.User),
	}
	if !result.Handle.IsZero() {
		resp.Handle = result.Handle.String()
	}
	if result.Tokens != nil {
		tokens := toTokenPayload(*result.Tokens)
		resp.Tokens = &tokens
	}

	writeJSON(w, http.StatusOK, resp)
}

type completeProfileRequest struct {
	Handle      string `json:"handle"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
	Referred    bool   `json:"referred"`
}

type completeProfileResponse struct {
	User    userPayload    `json:"user"`
	Profile profilePayload `json:"profile"`
	Tokens  tokenPayload   `json:"tokens"`
}

func (h *Handler) completeProfile(w http.ResponseWriter, r *http.Request) {
	var req completeProfileRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.svc.CompleteProfile(r.Context(), req.Handle, domain.ProfileInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		DateOfBirth: req.DateOfBirth,
		Gender:      domain.Gender(req.Gender),
		Referred:    req.Referred,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completeProfileResponse{
		User:    toUserPayload(result.User),
		Profile: toProfilePayload(result.Profile),
		Tokens:  toTokenPayload(result.Tokens),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Tokens tokenPayload `json:"tokens"`
}

func (h *Handler) refreshTokens(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.svc.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{Tokens: toTokenPayload(result.Tokens)})
}

type userPayload struct {
	UserID        string    `json:"user_id"`
	PhoneNumber   string    `json:"phone_number,omitempty"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

func toUserPayload(u domain.User) userPayload {
	return userPayload{
		UserID:        u.ID.String(),
		PhoneNumber:   u.PhoneNumber,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

type profilePayload struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
	Referred    bool   `json:"referred"`
}

func toProfilePayload(p domain.Profile) profilePayload {
	return profilePayload{
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DateOfBirth: p.DateOfBirth,
		Gender:      string(p.Gender),
		Referred:    p.Referred,
	}
}

type tokenPayload struct {
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

func toTokenPayload(t auth.TokenPair) tokenPayload {
	return tokenPayload{
		AccessToken:           t.AccessToken,
		AccessTokenExpiresAt:  t.AccessExpiresAt,
		RefreshToken:          t.RefreshToken,
		RefreshTokenExpiresAt: t.RefreshExpiresAt,
	}
}

// decode reads and unmarshals the request body, writing a 400 on failure.
// Returns false when the caller must stop.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, fmt.Errorf("malformed request body: %w", domain.ErrInvalidInput))
		return false
	}
	return true
}

// writeError maps a domain error to its wire form. Cooldown refusals carry a
// Retry-After header so well-behaved clients know when to come back.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	httpErr := errmap.ToHTTPError(err)
	if errors.Is(err, domain.ErrCooldownActive) && h.retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
	}
	writeJSON(w, httpErr.StatusCode, httpErr)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode failures at this point can only mean a dead connection.
	_ = json.NewEncoder(w).Encode(body)
}

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"dialdesk/internal/auth"
	"dialdesk/internal/billing"
	"dialdesk/internal/calls"
	"dialdesk/internal/crm"
	"dialdesk/internal/rbac"
	"dialdesk/internal/users"
	"dialdesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	OAuth   *auth.OAuth
	Users   users.Store
	Calls   *calls.Service
	CallLog CallHistory
	Billing *billing.Service
	CRM     *crm.Syncer

	// Production redacts upstream error detail from responses. Outside
	// production the underlying error is included to ease debugging.
	Production bool
}

func (h Handlers) errMessage(generic string, err error) string {
	if h.Production {
		return generic
	}
	return generic + ": " + err.Error()
}

// CallHistory reads persisted calls after they leave the in-memory
// registry. Implemented by calls.LogRepo.
type CallHistory interface {
	ListRecent(ctx context.Context, email string, limit int) ([]calls.Record, error)
}

func caller(c *gin.Context) calls.Caller {
	return calls.Caller{
		Email: c.GetString("email"),
		Admin: rbac.IsAdmin(c.GetString("role")),
	}
}

// --- Auth ---

// Login redirects the browser to the identity provider's consent page.
func (h Handlers) Login(c *gin.Context) {
	url, err := h.OAuth.LoginURL(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("login url", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": h.errMessage("login unavailable", err)})
		return
	}
	c.Redirect(http.StatusFound, url)
}

// Callback completes the OAuth flow: exchange the code, upsert the account,
// issue a token pair.
func (h Handlers) Callback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "state and code required"})
		return
	}

	info, err := h.OAuth.Exchange(c.Request.Context(), state, code)
	if err != nil {
		if errors.Is(err, auth.ErrBadState) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
			return
		}
		logger.FromGin(c).Error("oauth exchange", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": h.errMessage("identity provider error", err)})
		return
	}

	user, err := h.Users.UpsertOnLogin(c.Request.Context(), info.ProviderID, info.Email, info.Name)
	if err != nil {
		logger.FromGin(c).Error("login upsert", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": h.errMessage("login failed", err)})
		return
	}

	if h.CRM != nil {
		h.CRM.UserLoggedIn(user.Email, user.Name)
	}

	pair, err := h.Auth.IssuePair(time.Now(), user.ID, user.Email, user.Role)
	if err != nil {
		logger.FromGin(c).Error("token issuance", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": h.errMessage("token issuance failed", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"user":          user,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a fresh pair. The role is re-read
// from the user store so a role change takes effect at rotation.
func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}

	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	user, err := h.Users.GetByEmail(c.Request.Context(), claims.Email)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
		return
	}

	pair, err := h.Auth.IssuePair(time.Now(), user.ID, user.Email, user.Role)
	if err != nil {
		logger.FromGin(c).Error("token issuance", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": h.errMessage("token issuance failed", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// Me returns the authenticated user's account.
func (h Handlers) Me(c *gin.Context) {
	user, err := h.Users.GetByEmail(c.Request.Context(), c.GetString("email"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": h.Calls.List(caller(c))})
}

// CallHistoryList returns persisted calls, newest first. Admins see all
// owners; everyone else sees their own.
func (h Handlers) CallHistoryList(c *gin.Context) {
	who := caller(c)
	email := who.Email
	if who.Admin {
		email = ""
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	recs, err := h.CallLog.ListRecent(c.Request.Context(), email, limit)
	if err != nil {
		logger.FromGin(c).Error("call history", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": h.errMessage("history lookup failed", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}

func (h Handlers) GetCall(c *gin.Context) {
	rec, err := h.Calls.GetForCaller(caller(c), c.Param("id"))
	if err != nil {
		h.abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type startCallRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PhoneNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phoneNumber required"})
		return
	}
	rec, err := h.Calls.Start(c.Request.Context(), c.GetString("email"), req.PhoneNumber)
	if err != nil {
		logger.FromGin(c).Error("start call", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": h.errMessage("call could not be placed", err)})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h Handlers) AnswerCall(c *gin.Context) {
	rec, err := h.Calls.Answer(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) RejectCall(c *gin.Context) {
	rec, err := h.Calls.Reject(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) EndCall(c *gin.Context) {
	rec, err := h.Calls.End(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) abortCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, calls.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not your call"})
	case errors.Is(err, calls.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call is not in a controllable state"})
	case errors.Is(err, calls.ErrControlUnavailable):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call cannot be controlled yet"})
	default:
		logger.FromGin(c).Error("call control", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": h.errMessage("call control failed", err)})
	}
}

// --- Billing ---

type checkoutRequest struct {
	Plan string `json:"plan"`
}

func (h Handlers) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Plan == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "plan required"})
		return
	}
	sess, err := h.Billing.Checkout(c.Request.Context(), c.GetString("email"), req.Plan)
	if err != nil {
		logger.FromGin(c).Error("checkout", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": h.errMessage("checkout unavailable", err)})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) GetSubscription(c *gin.Context) {
	sub, err := h.Billing.Subscription(c.Request.Context(), c.GetString("email"))
	if errors.Is(err, billing.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no subscription"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("get subscription", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": h.errMessage("subscription lookup failed", err)})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// --- Admin ---

type updateRoleRequest struct {
	Role string `json:"role"`
}

// UpdateUserRole changes a user's role. RBAC: admin only.
func (h Handlers) UpdateUserRole(c *gin.Context) {
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "role required"})
		return
	}
	user, err := h.Users.UpdateRole(c.Request.Context(), c.Param("id"), req.Role)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidRole):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		case errors.Is(err, users.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			logger.FromGin(c).Error("update role", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": h.errMessage("role update failed", err)})
		}
		return
	}
	c.JSON(http.StatusOK, user)
}

package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/oauth"
	"github.com/spigell/hh-autopilot/internal/store"
	"github.com/spigell/hh-autopilot/internal/trigger"
	"github.com/spigell/hh-autopilot/internal/utils"
)

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func (s *Server) health(c *gin.Context) {
	failed := gin.H{}
	for name, check := range s.deps.Health {
		if err := check(c.Request.Context()); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorize sends the browser to the hh.ru consent page. A signed link decides the user, not the query.
func (s *Server) authorize(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user"))
	if linked := c.GetString(linkUserKey); linked != "" {
		userID = linked
	}
	if userID == "" {
		errorJSON(c, http.StatusBadRequest, "user is required")
		return
	}

	ctx := c.Request.Context()
	if _, err := s.deps.Users.Add(ctx, userID, c.Query("locale")); err != nil {
		loggerFrom(c).Error("registering user failed", zap.String(logger.FieldUser, userID), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "cannot register user")
		return
	}

	url, err := s.deps.OAuth.AuthorizeURL(ctx, userID)
	if err != nil {
		loggerFrom(c).Error("issuing oauth state failed", zap.String(logger.FieldUser, userID), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "cannot start authorization")
		return
	}

	c.Redirect(http.StatusFound, url)
}

// callback completes the handshake hh.ru redirects back to.
func (s *Server) callback(c *gin.Context) {
	log := loggerFrom(c)

	if reason := c.Query("error"); reason != "" {
		log.Warn("authorization declined", zap.String("error", reason))
		c.String(http.StatusBadRequest, "Authorization was declined: %s", reason)
		return
	}

	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		c.String(http.StatusBadRequest, "Missing code or state.")
		return
	}

	ctx := c.Request.Context()
	token, err := s.deps.OAuth.CompleteHandshake(ctx, state, code)
	if err != nil {
		var transient *oauth.TransientAuthError
		switch {
		case errors.Is(err, oauth.ErrUnknownState):
			c.String(http.StatusBadRequest, "The authorization link expired, request a new one.")
		case errors.Is(err, oauth.ErrReauthRequired):
			log.Warn("code exchange rejected", zap.Error(err))
			c.String(http.StatusBadRequest, "hh.ru rejected the authorization, request a new link.")
		case errors.As(err, &transient):
			log.Warn("code exchange failed", zap.Error(err))
			c.String(http.StatusBadGateway, "hh.ru is not reachable, try again later.")
		default:
			log.Error("completing handshake failed", zap.Error(err))
			c.String(http.StatusInternalServerError, "Authorization failed.")
		}
		return
	}

	log = log.With(zap.String(logger.FieldUser, token.UserID))

	resumeID := ""
	resumes, err := s.deps.Resumes.GetMineResumes(ctx, token.AccessToken)
	switch {
	case err != nil:
		log.Warn("listing hh.ru resumes failed", zap.String("error", utils.TruncateForLog(err.Error(), 300)))
	case resumes.Default() == nil:
		log.Warn("user has no hh.ru resumes, responses are impossible until one is published")
	default:
		resumeID = resumes.Default().ID
	}

	if err := s.deps.Users.Authorized(ctx, token.UserID, resumeID); err != nil {
		log.Error("activating user failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "Authorization failed.")
		return
	}

	log.Info("user connected hh.ru", zap.String("resume_id", resumeID))
	c.String(http.StatusOK, "hh.ru is connected. You can close this page.")
}

// trigger queues an out-of-band cycle for the user.
func (s *Server) trigger(c *gin.Context) {
	userID := c.Param("id")
	if s.deps.Triggers == nil {
		errorJSON(c, http.StatusServiceUnavailable, "manual triggers are disabled")
		return
	}

	ctx := c.Request.Context()
	user, err := s.deps.Users.Get(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		errorJSON(c, http.StatusNotFound, "unknown user")
		return
	case err != nil:
		loggerFrom(c).Error("loading user failed", zap.String(logger.FieldUser, userID), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "cannot load user")
		return
	case !user.Active():
		errorJSON(c, http.StatusConflict, "user is "+string(user.Status))
		return
	}

	taskID, err := s.deps.Triggers.Enqueue(ctx, userID)
	switch {
	case errors.Is(err, trigger.ErrAlreadyQueued):
		errorJSON(c, http.StatusConflict, "a cycle is already queued")
	case err != nil:
		loggerFrom(c).Error("queueing cycle failed", zap.String(logger.FieldUser, userID), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "cannot queue cycle")
	default:
		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
	}
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/bikerental/internal/apperr"
	"github.com/semanticallynull/bikerental/internal/middleware"
	"github.com/semanticallynull/bikerental/user"
)

type profileResponse struct {
	ID             uuid.UUID `json:"id"`
	Email          *string   `json:"email,omitempty"`
	Name           *string   `json:"name,omitempty"`
	DNI            *string   `json:"dni,omitempty"`
	ProfilePicture *string   `json:"profilePicture,omitempty"`
	Role           string    `json:"role"`
	CO2Saved       float64   `json:"co2Saved"`
}

func toProfileResponse(u *user.User) profileResponse {
	pr := profileResponse{
		ID:       u.ID,
		Role:     u.Role,
		CO2Saved: u.CO2Saved,
	}
	if u.Email.Valid {
		pr.Email = &u.Email.String
	}
	if u.Name.Valid {
		pr.Name = &u.Name.String
	}
	if u.DNI.Valid {
		pr.DNI = &u.DNI.String
	}
	if u.ProfilePicture.Valid {
		pr.ProfilePicture = &u.ProfilePicture.String
	}
	return pr
}

// profileHandler returns the caller's profile, creating it from the
// identity backend on first access.
func (a *API) profileHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)
	ctx := c.Request.Context()

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	u, err := a.Users.GetUser(ctx, userID)
	if err == nil {
		c.JSON(http.StatusOK, toProfileResponse(u))
		return
	}
	if !errors.Is(err, user.ErrNotFound) {
		writeError(c, err)
		return
	}

	info, err := a.Identity.GetUser(ctx, middleware.GetToken(c))
	if err != nil {
		logger.Error("failed to fetch user info", "error", err)
		writeError(c, err)
		return
	}
	if info.ID != userID {
		logger.Warn("identity backend returned another user", "userId", userID, "identityId", info.ID)
		abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	u, err = a.Users.CreateUser(ctx, userID, info.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Info("created user profile", "userId", userID)
	c.JSON(http.StatusOK, toProfileResponse(u))
}

type updateProfileRequest struct {
	Name string `json:"name"`
	DNI  string `json:"dni"`
}

func (a *API) updateProfileHandler(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.DNI = strings.ToUpper(strings.TrimSpace(req.DNI))
	if len(req.Name) > 100 || len(req.DNI) > 20 {
		writeError(c, fmt.Errorf("name or dni too long: %w", apperr.ErrInvalidArgument))
		return
	}

	ctx := c.Request.Context()
	if err := a.Users.UpdateProfile(ctx, userID, req.Name, req.DNI); err != nil {
		writeError(c, err)
		return
	}

	u, err := a.Users.GetUser(ctx, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(u))
}

func (a *API) statsHandler(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	s, err := a.Users.Stats(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

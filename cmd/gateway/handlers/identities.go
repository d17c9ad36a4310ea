package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/models"
	"github.com/opsrelay/opsrelay/common/repository"
)

// IdentityHandler manages external-account to user mappings
type IdentityHandler struct {
	identities *repository.IdentityRepository
}

// NewIdentityHandler creates a new identity handler
func NewIdentityHandler(identities *repository.IdentityRepository) *IdentityHandler {
	return &IdentityHandler{identities: identities}
}

// Upsert creates or replaces a mapping
// PUT /v1/identities
func (h *IdentityHandler) Upsert(c echo.Context) error {
	var identity models.Identity
	if err := c.Bind(&identity); err != nil {
		return writeError(c, apperrors.New(apperrors.KindValidation, "malformed request body"))
	}
	if identity.ExternalType == "" || identity.ExternalID == "" || identity.UserID == "" {
		return writeError(c, apperrors.New(apperrors.KindValidation, "external_type, external_id and user_id are required"))
	}

	if err := h.identities.Upsert(c.Request().Context(), &identity); err != nil {
		return writeError(c, apperrors.Wrap(err, apperrors.KindUnavailable, "failed to save identity"))
	}
	return c.JSON(http.StatusOK, identity)
}

// Lookup resolves an external account
// GET /v1/identities/:type/:id
func (h *IdentityHandler) Lookup(c echo.Context) error {
	identity, err := h.identities.Lookup(c.Request().Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return writeError(c, apperrors.New(apperrors.KindNotFound, "identity not found"))
		}
		return writeError(c, apperrors.Wrap(err, apperrors.KindUnavailable, "failed to lookup identity"))
	}
	return c.JSON(http.StatusOK, identity)
}

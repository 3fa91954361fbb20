package authrecipes

import (
	"net/http"

	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/recipe"
)

// handleError turns an API error into a response. Domain outcomes never get
// here; they are 200s with a status field.
func (a *App) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if bad, ok := recipe.IsBadInput(err); ok {
		_ = recipe.SendNon200(w, http.StatusBadRequest, bad.Message)
		return
	}
	if unauth, ok := recipe.IsUnauthorised(err); ok {
		if unauth.ClearTokens {
			a.Session.ClearTokens(w, r)
		}
		_ = recipe.SendNon200(w, http.StatusUnauthorized, "unauthorised")
		return
	}
	if claim, ok := recipe.IsInvalidClaim(err); ok {
		_ = recipe.SendInvalidClaim(w, claim.ClaimID)
		return
	}
	if a.cfg.OnError != nil {
		a.cfg.OnError(w, r, err)
		return
	}
	logging.LogError(a.logger, "auth api failed", err)
	_ = recipe.SendNon200(w, http.StatusInternalServerError, "Internal Server Error")
}

// Package recipe holds the types every auth recipe shares: users and login
// methods, the recipe contract the app router dispatches through, app info,
// and the error values that become HTTP statuses.
package recipe

import (
	"context"
	"net/http"
)

// DefaultTenantID is used when a request path carries no tenant.
const DefaultTenantID = "public"

// APIHandled describes one route exposed by a recipe.
type APIHandled struct {
	// ID is unique within the app and is what HandleAPIRequest is called with.
	ID string
	// Method is an HTTP method such as http.MethodPost.
	Method string
	// PathWithoutBase is appended to the API base path, after an optional
	// tenant segment.
	PathWithoutBase string
	// Disabled routes are not registered.
	Disabled bool
}

// Recipe is what the app router knows about a recipe.
type Recipe interface {
	ID() string
	APIs() []APIHandled
	HandleAPIRequest(ctx context.Context, apiID string, tenantID string, w http.ResponseWriter, r *http.Request) error
}

// FirstFactorProvider is implemented by recipes that can authenticate a user
// on their own.
type FirstFactorProvider interface {
	FirstFactors() []string
}

// HandlesAPI reports whether rec exposes an enabled API with the given ID.
func HandlesAPI(rec Recipe, apiID string) bool {
	for _, api := range rec.APIs() {
		if api.ID == apiID && !api.Disabled {
			return true
		}
	}
	return false
}

// Package multitenancy looks up tenant configuration in the core and
// associates users with tenants.
package multitenancy

import (
	"context"
	"slices"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
)

// RecipeID is sent as the rid header on multitenancy requests.
const RecipeID = "multitenancy"

// TenantConfig is a tenant's login configuration. A nil FirstFactors means
// every initialised recipe may be used as a first factor.
type TenantConfig struct {
	TenantID                 string           `json:"tenantId"`
	FirstFactors             []string         `json:"firstFactors,omitempty"`
	RequiredSecondaryFactors []string         `json:"requiredSecondaryFactors,omitempty"`
	ThirdPartyProviders      []map[string]any `json:"-"`
}

// Recipe talks to the core's multitenancy endpoints.
type Recipe struct {
	q *querier.Querier
}

// New returns the multitenancy recipe.
func New(q *querier.Querier) *Recipe {
	return &Recipe{q: q.WithRecipeID(RecipeID)}
}

// GetTenant returns the tenant, or nil when the core does not know it.
func (r *Recipe) GetTenant(ctx context.Context, tenantID string) (*TenantConfig, error) {
	path := querier.TenantPath(tenantID, "/recipe/multitenancy/tenant/v2")
	var resp struct {
		Status string `json:"status"`
		TenantConfig
		ThirdParty struct {
			Providers []map[string]any `json:"providers"`
		} `json:"thirdParty"`
	}
	if err := r.q.SendGetRequest(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	switch resp.Status {
	case "OK":
		cfg := resp.TenantConfig
		cfg.ThirdPartyProviders = resp.ThirdParty.Providers
		return &cfg, nil
	case "TENANT_NOT_FOUND_ERROR":
		return nil, nil
	}
	return nil, querier.UnknownStatus(path, resp.Status)
}

// AssociateResult is the outcome of AssociateUserToTenant.
type AssociateResult struct {
	Status               string `json:"status"`
	WasAlreadyAssociated bool   `json:"wasAlreadyAssociated"`
}

// Statuses returned by AssociateUserToTenant besides OK.
const (
	StatusUnknownUserID  = "UNKNOWN_USER_ID_ERROR"
	StatusTenantNotFound = "TENANT_NOT_FOUND_ERROR"

	StatusEmailAlreadyExists       = "EMAIL_ALREADY_EXISTS_ERROR"
	StatusPhoneNumberAlreadyExists = "PHONE_NUMBER_ALREADY_EXISTS_ERROR"
	StatusThirdPartyAlreadyExists  = "THIRD_PARTY_USER_ALREADY_EXISTS_ERROR"
	StatusAssociationNotAllowed    = "ASSOCIATION_NOT_ALLOWED_ERROR"
)

// AssociateUserToTenant adds the login method to tenantID.
func (r *Recipe) AssociateUserToTenant(ctx context.Context, tenantID string, recipeUserID recipe.RecipeUserID) (AssociateResult, error) {
	path := querier.TenantPath(tenantID, "/recipe/multitenancy/tenant/user")
	var resp AssociateResult
	body := map[string]any{"recipeUserId": recipeUserID}
	if err := r.q.SendPostRequest(ctx, path, body, &resp); err != nil {
		return AssociateResult{}, err
	}
	switch resp.Status {
	case "OK", StatusUnknownUserID, StatusTenantNotFound, StatusEmailAlreadyExists,
		StatusPhoneNumberAlreadyExists, StatusThirdPartyAlreadyExists, StatusAssociationNotAllowed:
		return resp, nil
	}
	return AssociateResult{}, querier.UnknownStatus(path, resp.Status)
}

// IsFirstFactorEnabled reports whether factorID may start a sign in on
// tenantID. available lists the first factors of the initialised recipes.
func (r *Recipe) IsFirstFactorEnabled(ctx context.Context, tenantID, factorID string, available []string) (bool, error) {
	tenant, err := r.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if tenant == nil {
		return false, oops.Code("TENANT_NOT_FOUND").With("tenant_id", tenantID).Errorf("tenant %q not found", tenantID)
	}
	if tenant.FirstFactors != nil {
		return slices.Contains(tenant.FirstFactors, factorID), nil
	}
	return slices.Contains(available, factorID), nil
}

// RequiredSecondaryFactors returns the tenant's required secondary factors.
func (r *Recipe) RequiredSecondaryFactors(ctx context.Context, tenantID string) ([]string, error) {
	tenant, err := r.GetTenant(ctx, tenantID)
	if err != nil || tenant == nil {
		return nil, err
	}
	return tenant.RequiredSecondaryFactors, nil
}

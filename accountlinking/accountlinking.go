// Package accountlinking decides when login methods that share an email,
// phone number or provider account are merged under one primary user, and
// talks to the core's linking endpoints.
package accountlinking

import (
	"context"
	"log/slog"

	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/override"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// RecipeID is sent as the rid header on linking requests.
const RecipeID = "accountlinking"

// ShouldLink is the app's linking decision for one login method.
type ShouldLink struct {
	ShouldAutomaticallyLink   bool
	ShouldRequireVerification bool
}

// ShouldDoAutomaticAccountLinkingFunc decides whether newInfo should be linked
// to user. user is nil when no primary user exists yet; s is nil without a
// session.
type ShouldDoAutomaticAccountLinkingFunc func(ctx context.Context, newInfo recipe.AccountInfoWithRecipeID, user *recipe.User, s session.Session, tenantID string) (ShouldLink, error)

// Config configures account linking. The zero value never links.
type Config struct {
	ShouldDoAutomaticAccountLinking ShouldDoAutomaticAccountLinkingFunc
	// OnAccountLinked runs after a login method is linked to a primary user.
	OnAccountLinked func(ctx context.Context, user *recipe.User, linked recipe.LoginMethod)
	Override        override.Func[RecipeInterface]
	Logger          *slog.Logger
}

// Recipe holds the built linking implementation.
type Recipe struct {
	Impl   RecipeInterface
	cfg    Config
	logger *slog.Logger
}

// New builds the recipe.
func New(q *querier.Querier, cfg Config) (*Recipe, error) {
	if cfg.ShouldDoAutomaticAccountLinking == nil {
		cfg.ShouldDoAutomaticAccountLinking = func(context.Context, recipe.AccountInfoWithRecipeID, *recipe.User, session.Session, string) (ShouldLink, error) {
			return ShouldLink{}, nil
		}
	}
	impl, err := override.New(NewRecipeImplementation(q.WithRecipeID(RecipeID), cfg)).
		Override(cfg.Override).
		Build()
	if err != nil {
		return nil, err
	}
	return &Recipe{Impl: impl, cfg: cfg, logger: logging.OrDefault(cfg.Logger)}, nil
}

// ShouldDoAutomaticAccountLinking calls the configured decision func.
func (r *Recipe) ShouldDoAutomaticAccountLinking(ctx context.Context, newInfo recipe.AccountInfoWithRecipeID, user *recipe.User, s session.Session, tenantID string) (ShouldLink, error) {
	return r.cfg.ShouldDoAutomaticAccountLinking(ctx, newInfo, user, s, tenantID)
}

// IsVerifiedForLinking reports whether lm counts as verified when deciding on
// linking. Login methods without an email have nothing to verify.
func IsVerifiedForLinking(lm recipe.LoginMethod) bool {
	return lm.Verified || lm.Email == ""
}

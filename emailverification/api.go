package emailverification

import (
	"context"
	"net/http"

	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
)

// APIOptions gives API implementations access to the recipe and the request.
type APIOptions struct {
	Recipe *Recipe
	Req    *http.Request
	W      http.ResponseWriter
}

// StatusResponse is the body of the token and verify APIs.
type StatusResponse struct {
	Status string        `json:"status"`
	User   *VerifiedUser `json:"user,omitempty"`
}

// IsVerifiedResponse is the body of the GET verify API.
type IsVerifiedResponse struct {
	Status     string `json:"status"`
	IsVerified bool   `json:"isVerified"`
}

// APIInterface is the overridable set of HTTP operations.
type APIInterface struct {
	GenerateEmailVerifyTokenPOST func(ctx context.Context, s session.Session, tenantID string, opts APIOptions) (StatusResponse, error)
	VerifyEmailPOST              func(ctx context.Context, token, tenantID string, s session.Session, opts APIOptions) (StatusResponse, error)
	IsEmailVerifiedGET           func(ctx context.Context, s session.Session, opts APIOptions) (IsVerifiedResponse, error)
}

// NewAPIImplementation returns the default HTTP operations.
func NewAPIImplementation() APIInterface {
	return APIInterface{
		GenerateEmailVerifyTokenPOST: func(ctx context.Context, s session.Session, tenantID string, opts APIOptions) (StatusResponse, error) {
			r := opts.Recipe
			rid := s.RecipeUserID()
			email, ok, err := r.GetEmailForRecipeUserID(ctx, nil, rid)
			if err != nil {
				return StatusResponse{}, err
			}
			if !ok {
				r.logger.DebugContext(ctx, "login method has no email, treating as verified", "recipe_user_id", rid)
				return StatusResponse{Status: StatusEmailAlreadyVerified}, r.setClaim(ctx, s, true)
			}

			tok, err := r.Impl.CreateEmailVerificationToken(ctx, tenantID, rid, email)
			if err != nil {
				return StatusResponse{}, err
			}
			if tok.Status == StatusEmailAlreadyVerified {
				return StatusResponse{Status: StatusEmailAlreadyVerified}, r.setClaim(ctx, s, true)
			}

			link := EmailVerifyLink(r.deps.AppInfo, opts.Req, tok.Token, tenantID)
			msg := delivery.NewEmailVerificationEmail(delivery.EmailVerification{
				User:            delivery.EmailUser{ID: s.UserID(), RecipeUserID: rid.String(), Email: email},
				EmailVerifyLink: link,
				TenantID:        tenantID,
			})
			if err := r.emailDelivery.Send(ctx, msg); err != nil {
				return StatusResponse{}, err
			}
			return StatusResponse{Status: StatusOK}, nil
		},

		VerifyEmailPOST: func(ctx context.Context, token, tenantID string, s session.Session, opts APIOptions) (StatusResponse, error) {
			r := opts.Recipe
			res, err := r.Impl.VerifyEmailUsingToken(ctx, tenantID, token, true)
			if err != nil {
				return StatusResponse{}, err
			}
			if res.Status != StatusOK {
				return StatusResponse{Status: res.Status}, nil
			}
			if s != nil && s.RecipeUserID() == res.User.RecipeUserID {
				if err := r.setClaim(ctx, s, true); err != nil {
					return StatusResponse{}, err
				}
			}
			return StatusResponse{Status: StatusOK, User: res.User}, nil
		},

		IsEmailVerifiedGET: func(ctx context.Context, s session.Session, opts APIOptions) (IsVerifiedResponse, error) {
			verified, err := opts.Recipe.FetchAndSetClaim(ctx, s)
			if err != nil {
				return IsVerifiedResponse{}, err
			}
			return IsVerifiedResponse{Status: StatusOK, IsVerified: verified}, nil
		},
	}
}

func (r *Recipe) handleGenerateToken(ctx context.Context, tenantID string, opts APIOptions) error {
	s, err := r.deps.Session.GetSession(opts.W, opts.Req, session.Options{SessionRequired: true})
	if err != nil {
		return err
	}
	resp, err := r.API.GenerateEmailVerifyTokenPOST(ctx, s, tenantID, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, resp)
}

func (r *Recipe) handleVerifyEmail(ctx context.Context, tenantID string, opts APIOptions) error {
	var body struct {
		Method string `json:"method"`
		Token  string `json:"token"`
	}
	if err := recipe.DecodeJSONBody(opts.Req, &body); err != nil {
		return err
	}
	if body.Method != "token" {
		return recipe.NewBadInputError("Unsupported method for email verification")
	}
	if body.Token == "" {
		return recipe.NewBadInputError("Please provide the email verification token")
	}
	s, err := r.deps.Session.GetSession(opts.W, opts.Req, session.Options{})
	if err != nil {
		return err
	}
	resp, err := r.API.VerifyEmailPOST(ctx, body.Token, tenantID, s, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, resp)
}

func (r *Recipe) handleIsEmailVerified(ctx context.Context, opts APIOptions) error {
	s, err := r.deps.Session.GetSession(opts.W, opts.Req, session.Options{SessionRequired: true})
	if err != nil {
		return err
	}
	resp, err := r.API.IsEmailVerifiedGET(ctx, s, opts)
	if err != nil {
		return err
	}
	return recipe.Send200(opts.W, resp)
}

package thirdpartyemailpassword_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/authutils"
	"github.com/panyam/authrecipes/emailpassword"
	"github.com/panyam/authrecipes/internal/coretest"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/multitenancy"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
	"github.com/panyam/authrecipes/thirdparty"
	"github.com/panyam/authrecipes/thirdpartyemailpassword"
)

func build(t *testing.T, cfg thirdpartyemailpassword.Config) (*thirdpartyemailpassword.Recipe, *coretest.Server) {
	t.Helper()
	core := coretest.New(t)
	q, err := querier.New(querier.Config{ConnectionURI: core.URL})
	require.NoError(t, err)
	sess, err := session.New("Test", session.Config{Logger: logging.Discard()})
	require.NoError(t, err)
	al, err := accountlinking.New(q, accountlinking.Config{Logger: logging.Discard()})
	require.NoError(t, err)
	deps := &authutils.Deps{
		Querier:        q,
		Session:        sess,
		Multitenancy:   multitenancy.New(q),
		AccountLinking: al,
		Logger:         logging.Discard(),
	}
	r, err := thirdpartyemailpassword.New(cfg, deps)
	require.NoError(t, err)
	deps.AvailableFirstFactors = r.FirstFactors
	return r, core
}

func withGoogle() thirdpartyemailpassword.Config {
	cfg := thirdpartyemailpassword.Config{}
	cfg.ThirdParty.Providers = []thirdparty.ProviderConfig{{
		ThirdPartyID: "google",
		ClientID:     "client-google",
		Endpoint:     oauth2.Endpoint{AuthURL: "http://idp.test/authorize", TokenURL: "http://idp.test/token"},
		GetUserInfo: func(context.Context, *thirdparty.Provider, *oauth2.Token) (thirdparty.UserInfo, error) {
			return thirdparty.UserInfo{}, nil
		},
	}}
	return cfg
}

func TestLegacyEmailExistsBelongsToEmailPassword(t *testing.T) {
	r, _ := build(t, withGoogle())
	var owners []string
	for _, api := range r.APIs() {
		if api.Method == http.MethodGet && api.PathWithoutBase == "/signup/email/exists" && !api.Disabled {
			owners = append(owners, api.ID)
		}
	}
	assert.Equal(t, []string{emailpassword.APIEmailExistsLegacy}, owners)
	assert.True(t, recipe.HandlesAPI(r, thirdparty.APISignInUp))
	assert.True(t, recipe.HandlesAPI(r, emailpassword.APISignUp))
	assert.Equal(t, []string{recipe.FactorEmailPassword, recipe.FactorThirdParty}, r.FirstFactors())
}

func TestWithoutProviders(t *testing.T) {
	r, _ := build(t, thirdpartyemailpassword.Config{})
	assert.Nil(t, r.ThirdParty)
	assert.False(t, recipe.HandlesAPI(r, thirdparty.APIAuthorisationURL))

	_, err := r.ThirdPartyManuallyCreateOrUpdateUser(context.Background(), thirdparty.SignInUpInput{TenantID: "public"})
	assert.True(t, logging.HasCode(err, "CONFIG_INVALID"))
}

func TestServerSideHelpers(t *testing.T) {
	r, core := build(t, withGoogle())
	ctx := context.Background()

	up, err := r.EmailPasswordSignUp(ctx, "public", "jane@example.com", "validPass123")
	require.NoError(t, err)
	assert.Equal(t, emailpassword.StatusOK, up.Status)

	in, err := r.EmailPasswordSignIn(ctx, "public", "jane@example.com", "validPass123")
	require.NoError(t, err)
	assert.Equal(t, emailpassword.StatusOK, in.Status)
	assert.Equal(t, up.RecipeUserID, in.RecipeUserID)

	in, err = r.EmailPasswordSignIn(ctx, "public", "jane@example.com", "nope")
	require.NoError(t, err)
	assert.Equal(t, emailpassword.StatusWrongCredentials, in.Status)

	tp, err := r.ThirdPartyManuallyCreateOrUpdateUser(ctx, thirdparty.SignInUpInput{
		ThirdPartyID:     "google",
		ThirdPartyUserID: "g-1",
		Email:            "jane@example.com",
		TenantID:         "public",
		TryLinking:       authutils.TryLinkingNever,
	})
	require.NoError(t, err)
	assert.Equal(t, thirdparty.StatusOK, tp.Status)
	assert.Equal(t, 2, core.UserCount(), "linking is off by default")
}

package thirdparty

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/panyam/authrecipes/recipe"
)

// UserInfoMap names the fields of the provider's user info response. Nested
// fields are written with dots, such as "data.id".
type UserInfoMap struct {
	UserID        string
	Email         string
	EmailVerified string
}

// ProviderConfig configures one OAuth2 provider.
type ProviderConfig struct {
	ThirdPartyID string
	Name         string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	// UserInfoEndpoint is called with the access token as a bearer token.
	UserInfoEndpoint string
	UserInfoMap      UserInfoMap
	// AuthorisationParams are added to the authorisation URL.
	AuthorisationParams map[string]string
	// GetUserInfo replaces the user info lookup.
	GetUserInfo func(ctx context.Context, p *Provider, token *oauth2.Token) (UserInfo, error)
	// HTTPClient is used for the token exchange and user info calls.
	HTTPClient *http.Client
}

// EmailInfo is the email a provider returned.
type EmailInfo struct {
	ID         string `json:"id"`
	IsVerified bool   `json:"isVerified"`
}

// UserInfo is what a provider says about the signed in user.
type UserInfo struct {
	ThirdPartyUserID        string
	Email                   *EmailInfo
	RawUserInfoFromProvider map[string]any
}

// RedirectURIInfo is what the frontend got back from the provider.
type RedirectURIInfo struct {
	RedirectURIOnProviderDashboard string            `json:"redirectURIOnProviderDashboard"`
	RedirectURIQueryParams         map[string]string `json:"redirectURIQueryParams"`
	PKCECodeVerifier               string            `json:"pkceCodeVerifier"`
}

// AuthorisationURL is where the frontend sends the user.
type AuthorisationURL struct {
	URLWithQueryParams string `json:"urlWithQueryParams"`
	PKCECodeVerifier   string `json:"pkceCodeVerifier,omitempty"`
}

// Provider signs users in through an OAuth2 authorisation code flow.
type Provider struct {
	cfg ProviderConfig
}

// NewProvider validates cfg.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.ThirdPartyID == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("thirdparty: provider needs a thirdPartyId")
	}
	if cfg.ClientID == "" {
		return nil, oops.Code("CONFIG_INVALID").With("third_party_id", cfg.ThirdPartyID).
			Errorf("thirdparty: provider %s needs a client id", cfg.ThirdPartyID)
	}
	if cfg.Endpoint.AuthURL == "" || cfg.Endpoint.TokenURL == "" {
		return nil, oops.Code("CONFIG_INVALID").With("third_party_id", cfg.ThirdPartyID).
			Errorf("thirdparty: provider %s needs authorisation and token endpoints", cfg.ThirdPartyID)
	}
	if cfg.GetUserInfo == nil && (cfg.UserInfoEndpoint == "" || cfg.UserInfoMap.UserID == "") {
		return nil, oops.Code("CONFIG_INVALID").With("third_party_id", cfg.ThirdPartyID).
			Errorf("thirdparty: provider %s needs a user info endpoint and user id field", cfg.ThirdPartyID)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ThirdPartyID
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Provider{cfg: cfg}, nil
}

// ID returns the thirdPartyId.
func (p *Provider) ID() string { return p.cfg.ThirdPartyID }

// Config returns the provider config.
func (p *Provider) Config() ProviderConfig { return p.cfg }

func (p *Provider) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       p.cfg.Scopes,
		Endpoint:     p.cfg.Endpoint,
	}
}

// GetAuthorisationRedirectURL builds the provider's authorisation URL with a
// fresh PKCE challenge. The frontend adds its own state.
func (p *Provider) GetAuthorisationRedirectURL(redirectURIOnProviderDashboard string) AuthorisationURL {
	verifier := oauth2.GenerateVerifier()
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	for k, v := range p.cfg.AuthorisationParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return AuthorisationURL{
		URLWithQueryParams: p.oauthConfig(redirectURIOnProviderDashboard).AuthCodeURL("", opts...),
		PKCECodeVerifier:   verifier,
	}
}

// ExchangeAuthCodeForOAuthTokens redeems the code in info.
func (p *Provider) ExchangeAuthCodeForOAuthTokens(ctx context.Context, info RedirectURIInfo) (*oauth2.Token, error) {
	code := info.RedirectURIQueryParams["code"]
	if code == "" {
		return nil, recipe.NewBadInputError("Auth code not found in redirect URI query params")
	}
	var opts []oauth2.AuthCodeOption
	if info.PKCECodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(info.PKCECodeVerifier))
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
	tok, err := p.oauthConfig(info.RedirectURIOnProviderDashboard).Exchange(ctx, code, opts...)
	if err != nil {
		return nil, oops.Code("PROVIDER_EXCHANGE_FAILED").With("third_party_id", p.cfg.ThirdPartyID).Wrapf(err, "code exchange")
	}
	return tok, nil
}

// GetUserInfo asks the provider who token belongs to.
func (p *Provider) GetUserInfo(ctx context.Context, token *oauth2.Token) (UserInfo, error) {
	if p.cfg.GetUserInfo != nil {
		return p.cfg.GetUserInfo(ctx, p, token)
	}
	raw, err := p.fetchJSON(ctx, p.cfg.UserInfoEndpoint, token)
	if err != nil {
		return UserInfo{}, err
	}
	m, _ := raw.(map[string]any)
	info := UserInfo{
		ThirdPartyUserID:        lookupString(m, p.cfg.UserInfoMap.UserID),
		RawUserInfoFromProvider: m,
	}
	if info.ThirdPartyUserID == "" {
		return UserInfo{}, oops.With("third_party_id", p.cfg.ThirdPartyID).Errorf("user info has no user id")
	}
	if email := lookupString(m, p.cfg.UserInfoMap.Email); email != "" {
		verified := lookupString(m, p.cfg.UserInfoMap.EmailVerified)
		info.Email = &EmailInfo{ID: email, IsVerified: verified == "true"}
	}
	return info, nil
}

func (p *Provider) fetchJSON(ctx context.Context, endpoint string, token *oauth2.Token) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, oops.Wrapf(err, "building user info request")
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, oops.Code("PROVIDER_UNREACHABLE").With("third_party_id", p.cfg.ThirdPartyID).Wrapf(err, "getting user info")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, oops.Code("PROVIDER_BAD_STATUS").
			With("third_party_id", p.cfg.ThirdPartyID).
			With("status", resp.StatusCode).
			Errorf("user info request failed: %s", strings.TrimSpace(string(body)))
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, oops.Wrapf(err, "decoding user info")
	}
	return out, nil
}

// lookupString follows a dotted path through m and renders the leaf as a
// string.
func lookupString(m map[string]any, path string) string {
	if path == "" || m == nil {
		return ""
	}
	var cur any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	switch v := cur.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	}
	return ""
}

func envDefault(v, key string) string {
	if v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(key))
}

// Google fills in Google's endpoints and field names. Empty credentials are
// read from OAUTH2_GOOGLE_CLIENT_ID and OAUTH2_GOOGLE_CLIENT_SECRET.
func Google(cfg ProviderConfig) ProviderConfig {
	if cfg.ThirdPartyID == "" {
		cfg.ThirdPartyID = "google"
	}
	if cfg.Name == "" {
		cfg.Name = "Google"
	}
	cfg.ClientID = envDefault(cfg.ClientID, "OAUTH2_GOOGLE_CLIENT_ID")
	cfg.ClientSecret = envDefault(cfg.ClientSecret, "OAUTH2_GOOGLE_CLIENT_SECRET")
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		}
	}
	if cfg.UserInfoEndpoint == "" {
		cfg.UserInfoEndpoint = "https://www.googleapis.com/oauth2/v2/userinfo"
	}
	if cfg.UserInfoMap == (UserInfoMap{}) {
		cfg.UserInfoMap = UserInfoMap{UserID: "id", Email: "email", EmailVerified: "verified_email"}
	}
	if cfg.AuthorisationParams == nil {
		cfg.AuthorisationParams = map[string]string{"include_granted_scopes": "true", "access_type": "offline"}
	}
	return cfg
}

// GitHub fills in GitHub's endpoints. Empty credentials are read from
// OAUTH2_GITHUB_CLIENT_ID and OAUTH2_GITHUB_CLIENT_SECRET. The email comes
// from the user's primary address in {UserInfoEndpoint}/emails.
func GitHub(cfg ProviderConfig) ProviderConfig {
	if cfg.ThirdPartyID == "" {
		cfg.ThirdPartyID = "github"
	}
	if cfg.Name == "" {
		cfg.Name = "GitHub"
	}
	cfg.ClientID = envDefault(cfg.ClientID, "OAUTH2_GITHUB_CLIENT_ID")
	cfg.ClientSecret = envDefault(cfg.ClientSecret, "OAUTH2_GITHUB_CLIENT_SECRET")
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = github.Endpoint
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"read:user", "user:email"}
	}
	if cfg.UserInfoEndpoint == "" {
		cfg.UserInfoEndpoint = "https://api.github.com/user"
	}
	if cfg.UserInfoMap == (UserInfoMap{}) {
		cfg.UserInfoMap = UserInfoMap{UserID: "id"}
	}
	if cfg.GetUserInfo == nil {
		cfg.GetUserInfo = githubUserInfo
	}
	return cfg
}

func githubUserInfo(ctx context.Context, p *Provider, token *oauth2.Token) (UserInfo, error) {
	raw, err := p.fetchJSON(ctx, p.cfg.UserInfoEndpoint, token)
	if err != nil {
		return UserInfo{}, err
	}
	user, _ := raw.(map[string]any)
	info := UserInfo{
		ThirdPartyUserID:        lookupString(user, p.cfg.UserInfoMap.UserID),
		RawUserInfoFromProvider: map[string]any{"user": user},
	}
	if info.ThirdPartyUserID == "" {
		return UserInfo{}, oops.With("third_party_id", p.cfg.ThirdPartyID).Errorf("user info has no user id")
	}

	raw, err = p.fetchJSON(ctx, strings.TrimSuffix(p.cfg.UserInfoEndpoint, "/")+"/emails", token)
	if err != nil {
		return UserInfo{}, err
	}
	emails, _ := raw.([]any)
	info.RawUserInfoFromProvider["emails"] = emails
	for _, e := range emails {
		entry, _ := e.(map[string]any)
		if lookupString(entry, "primary") != "true" {
			continue
		}
		if addr := lookupString(entry, "email"); addr != "" {
			info.Email = &EmailInfo{ID: addr, IsVerified: lookupString(entry, "verified") == "true"}
		}
		break
	}
	return info, nil
}

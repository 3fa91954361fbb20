package recipe_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authrecipes/recipe"
)

func TestLoginMethod_Comparisons(t *testing.T) {
	lm := recipe.LoginMethod{
		RecipeID:    recipe.IDPasswordless,
		Email:       "Alice@Example.com",
		PhoneNumber: "+14155550100",
		ThirdParty:  &recipe.ThirdPartyInfo{ID: "google", UserID: "g-1"},
		TenantIDs:   []string{"public"},
	}

	assert.True(t, lm.HasSameEmailAs(" alice@example.com "))
	assert.False(t, lm.HasSameEmailAs("bob@example.com"))
	assert.False(t, lm.HasSameEmailAs(""))
	assert.True(t, lm.HasSamePhoneNumberAs("+14155550100"))
	assert.True(t, lm.HasSameThirdPartyInfoAs(&recipe.ThirdPartyInfo{ID: "google", UserID: "g-1"}))
	assert.False(t, lm.HasSameThirdPartyInfoAs(&recipe.ThirdPartyInfo{ID: "github", UserID: "g-1"}))
	assert.True(t, lm.InTenant("public"))
	assert.False(t, lm.InTenant("acme"))
	assert.True(t, lm.Matches(recipe.AccountInfo{PhoneNumber: "+14155550100"}))
}

func TestUser_LoginMethod(t *testing.T) {
	u := &recipe.User{LoginMethods: []recipe.LoginMethod{{RecipeUserID: "a"}, {RecipeUserID: "b"}}}
	require.NotNil(t, u.LoginMethod("b"))
	assert.Nil(t, u.LoginMethod("c"))

	var nilUser *recipe.User
	assert.Nil(t, nilUser.LoginMethod("a"))
}

func TestAppInfo_Normalise(t *testing.T) {
	info, err := recipe.AppInfo{
		AppName:       "demo",
		APIDomain:     "api.example.com/",
		WebsiteDomain: "localhost:3000",
	}.Normalise()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", info.APIDomain)
	assert.Equal(t, "http://localhost:3000", info.WebsiteDomain)
	assert.Equal(t, "/auth", info.APIBasePath)
	assert.Equal(t, "/auth", info.WebsiteBasePath)

	_, err = recipe.AppInfo{APIDomain: "x"}.Normalise()
	assert.Error(t, err)
}

func TestAppInfo_Origin(t *testing.T) {
	info := recipe.AppInfo{
		WebsiteDomain: "https://example.com",
		GetOrigin: func(r *http.Request) string {
			return r.Header.Get("Origin")
		},
	}
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Equal(t, "https://example.com", info.Origin(r))

	r.Header.Set("Origin", "https://app.example.org")
	assert.Equal(t, "https://app.example.org", info.Origin(r))
}

func TestDecodeJSONBody(t *testing.T) {
	var body struct {
		Email *string `json:"email"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co"}`))
	require.NoError(t, recipe.DecodeJSONBody(r, &body))
	require.NotNil(t, body.Email)
	assert.Equal(t, "a@b.co", *body.Email)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	err := recipe.DecodeJSONBody(r, &body)
	_, ok := recipe.IsBadInput(err)
	assert.True(t, ok)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":5}`))
	err = recipe.DecodeJSONBody(r, &body)
	bad, ok := recipe.IsBadInput(err)
	require.True(t, ok)
	assert.Contains(t, bad.Message, "email")
}

func TestFDIVersionAtLeast(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", true},
		{"1.17", false},
		{"1.18", true},
		{"1.19", true},
		{"1.16,1.17", false},
		{"1.17,1.18", true},
		{"garbage", true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				r.Header.Set(recipe.FDIVersionHeader, tt.header)
			}
			assert.Equal(t, tt.want, recipe.FDIVersionAtLeast(r, "1.18"))
		})
	}
}

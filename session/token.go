package session

import (
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Claim names set by the SDK. Custom payload keys may not reuse them.
const (
	claimSubject       = "sub"
	claimRecipeUserID  = "rsub"
	claimTenantID      = "tId"
	claimSessionHandle = "sessionHandle"
	claimIssuedAt      = "iat"
	claimExpiry        = "exp"
	claimIssuer        = "iss"
)

var protectedClaims = []string{
	claimSubject, claimRecipeUserID, claimTenantID, claimSessionHandle,
	claimIssuedAt, claimExpiry, claimIssuer,
}

type tokenInfo struct {
	userID       string
	recipeUserID string
	tenantID     string
	handle       string
	payload      map[string]any
}

func (r *Recipe) signAccessToken(info tokenInfo) (string, error) {
	now := r.now()
	claims := jwt.MapClaims{}
	for k, v := range info.payload {
		claims[k] = v
	}
	claims[claimSubject] = info.userID
	claims[claimRecipeUserID] = info.recipeUserID
	claims[claimTenantID] = info.tenantID
	claims[claimSessionHandle] = info.handle
	claims[claimIssuer] = r.cfg.Issuer
	claims[claimIssuedAt] = now.Unix()
	claims[claimExpiry] = now.Add(r.cfg.AccessTokenValidity).Unix()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(r.cfg.SecretKey))
	if err != nil {
		return "", oops.Wrapf(err, "signing access token")
	}
	return signed, nil
}

func (r *Recipe) verifyAccessToken(tokenString string) (tokenInfo, error) {
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return []byte(r.cfg.SecretKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(r.cfg.Issuer),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		return tokenInfo{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return tokenInfo{}, oops.Errorf("claims is not a map")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return tokenInfo{}, err
	}
	if sub == "" {
		return tokenInfo{}, oops.Errorf("subject not found")
	}

	info := tokenInfo{userID: sub, payload: map[string]any{}}
	info.recipeUserID, _ = claims[claimRecipeUserID].(string)
	info.tenantID, _ = claims[claimTenantID].(string)
	info.handle, _ = claims[claimSessionHandle].(string)
	if info.handle == "" {
		return tokenInfo{}, oops.Errorf("session handle not found")
	}
	if info.recipeUserID == "" {
		info.recipeUserID = sub
	}

	custom := maps.Clone(map[string]any(claims))
	for _, k := range protectedClaims {
		delete(custom, k)
	}
	info.payload = custom
	return info, nil
}

func (r *Recipe) now() time.Time {
	if r.cfg.Now != nil {
		return r.cfg.Now()
	}
	return time.Now()
}

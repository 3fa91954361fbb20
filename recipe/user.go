package recipe

import (
	"strings"
)

// Recipe IDs as reported by the core in login methods.
const (
	IDPasswordless      = "passwordless"
	IDThirdParty        = "thirdparty"
	IDEmailPassword     = "emailpassword"
	IDEmailVerification = "emailverification"
)

// RecipeUserID identifies a single login method. A primary user's ID equals
// the recipe user ID of the login method it was created from.
type RecipeUserID string

func (id RecipeUserID) String() string { return string(id) }

// ThirdPartyInfo identifies an account at an external identity provider.
type ThirdPartyInfo struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

// LoginMethod is one way of authenticating as a user.
type LoginMethod struct {
	RecipeID     string          `json:"recipeId"`
	RecipeUserID RecipeUserID    `json:"recipeUserId"`
	TenantIDs    []string        `json:"tenantIds"`
	Email        string          `json:"email,omitempty"`
	PhoneNumber  string          `json:"phoneNumber,omitempty"`
	ThirdParty   *ThirdPartyInfo `json:"thirdParty,omitempty"`
	Verified     bool            `json:"verified"`
	TimeJoined   int64           `json:"timeJoined"`
}

// HasSameEmailAs compares case-insensitively after trimming.
func (lm LoginMethod) HasSameEmailAs(email string) bool {
	if lm.Email == "" || email == "" {
		return false
	}
	return NormaliseEmail(lm.Email) == NormaliseEmail(email)
}

// HasSamePhoneNumberAs compares trimmed numbers. Callers are expected to have
// normalised both sides to E.164 already.
func (lm LoginMethod) HasSamePhoneNumberAs(phone string) bool {
	if lm.PhoneNumber == "" || phone == "" {
		return false
	}
	return strings.TrimSpace(lm.PhoneNumber) == strings.TrimSpace(phone)
}

// HasSameThirdPartyInfoAs reports whether both refer to the same provider account.
func (lm LoginMethod) HasSameThirdPartyInfoAs(tp *ThirdPartyInfo) bool {
	if lm.ThirdParty == nil || tp == nil {
		return false
	}
	return lm.ThirdParty.ID == tp.ID && lm.ThirdParty.UserID == tp.UserID
}

// Matches reports whether the login method carries any of info's identifiers.
func (lm LoginMethod) Matches(info AccountInfo) bool {
	return lm.HasSameEmailAs(info.Email) ||
		lm.HasSamePhoneNumberAs(info.PhoneNumber) ||
		lm.HasSameThirdPartyInfoAs(info.ThirdParty)
}

// InTenant reports whether the login method belongs to tenantID.
func (lm LoginMethod) InTenant(tenantID string) bool {
	for _, t := range lm.TenantIDs {
		if t == tenantID {
			return true
		}
	}
	return false
}

// AccountInfo returns the identifiers carried by this login method.
func (lm LoginMethod) AccountInfo() AccountInfoWithRecipeID {
	return AccountInfoWithRecipeID{
		RecipeID: lm.RecipeID,
		AccountInfo: AccountInfo{
			Email:       lm.Email,
			PhoneNumber: lm.PhoneNumber,
			ThirdParty:  lm.ThirdParty,
		},
	}
}

// User is the core's view of a (possibly linked) user.
type User struct {
	ID            string           `json:"id"`
	TimeJoined    int64            `json:"timeJoined"`
	IsPrimaryUser bool             `json:"isPrimaryUser"`
	TenantIDs     []string         `json:"tenantIds"`
	Emails        []string         `json:"emails"`
	PhoneNumbers  []string         `json:"phoneNumbers"`
	ThirdParty    []ThirdPartyInfo `json:"thirdParty"`
	LoginMethods  []LoginMethod    `json:"loginMethods"`
}

// LoginMethod returns the login method for id, or nil.
func (u *User) LoginMethod(id RecipeUserID) *LoginMethod {
	if u == nil {
		return nil
	}
	for i := range u.LoginMethods {
		if u.LoginMethods[i].RecipeUserID == id {
			return &u.LoginMethods[i]
		}
	}
	return nil
}

// AccountInfo is the set of identifiers used to look up users. Empty fields
// are absent.
type AccountInfo struct {
	Email       string          `json:"email,omitempty"`
	PhoneNumber string          `json:"phoneNumber,omitempty"`
	ThirdParty  *ThirdPartyInfo `json:"thirdParty,omitempty"`
}

// IsEmpty reports whether no identifier is set.
func (a AccountInfo) IsEmpty() bool {
	return a.Email == "" && a.PhoneNumber == "" && a.ThirdParty == nil
}

// AccountInfoWithRecipeID ties account info to the recipe it is being used with.
type AccountInfoWithRecipeID struct {
	RecipeID string `json:"recipeId"`
	AccountInfo
	RecipeUserID RecipeUserID `json:"recipeUserId,omitempty"`
}

// NormaliseEmail trims and lowercases an email address.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

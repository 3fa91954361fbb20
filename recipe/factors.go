package recipe

// Factor IDs used by pre-auth checks and the MFA claim.
const (
	FactorOTPEmail      = "otp-email"
	FactorLinkEmail     = "link-email"
	FactorOTPPhone      = "otp-phone"
	FactorLinkPhone     = "link-phone"
	FactorEmailPassword = "emailpassword"
	FactorThirdParty    = "thirdparty"
)

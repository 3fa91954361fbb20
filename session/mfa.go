package session

import (
	"context"
	"slices"
)

// MFAClaimKey is the access token claim recording completed factors.
const MFAClaimKey = "st-mfa"

// MFAClaim is the value of the st-mfa claim. C maps factor ids to the unix
// time they were completed; V says whether the session satisfies the tenant's
// factor requirements.
type MFAClaim struct {
	C map[string]int64 `json:"c"`
	V bool             `json:"v"`
}

// ReadMFAClaim decodes the claim from s. A session without the claim yields
// an empty, satisfied claim.
func ReadMFAClaim(s Session) MFAClaim {
	out := MFAClaim{C: map[string]int64{}, V: true}
	raw, ok := s.AccessTokenPayload()[MFAClaimKey].(map[string]any)
	if !ok {
		return out
	}
	if c, ok := raw["c"].(map[string]any); ok {
		for factor, at := range c {
			switch v := at.(type) {
			case float64:
				out.C[factor] = int64(v)
			case int64:
				out.C[factor] = v
			case int:
				out.C[factor] = int64(v)
			}
		}
	}
	if v, ok := raw["v"].(bool); ok {
		out.V = v
	}
	return out
}

// MarkFactorCompleted records factorID on s and recomputes V against the
// required secondary factors: one of them must be completed when any are
// required.
func MarkFactorCompleted(ctx context.Context, s Session, factorID string, at int64, requiredSecondary []string) error {
	claim := ReadMFAClaim(s)
	claim.C[factorID] = at
	claim.V = len(requiredSecondary) == 0
	for _, f := range requiredSecondary {
		if _, done := claim.C[f]; done {
			claim.V = true
			break
		}
	}
	return s.MergeIntoAccessTokenPayload(ctx, map[string]any{MFAClaimKey: claim.payload()})
}

// Completed reports whether factorID has been completed.
func (c MFAClaim) Completed(factorID string) bool {
	_, ok := c.C[factorID]
	return ok
}

// CompletedFactors returns the completed factor ids, sorted.
func (c MFAClaim) CompletedFactors() []string {
	out := make([]string, 0, len(c.C))
	for f := range c.C {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

func (c MFAClaim) payload() map[string]any {
	done := make(map[string]any, len(c.C))
	for f, at := range c.C {
		done[f] = at
	}
	return map[string]any{"c": done, "v": c.V}
}

package querier

import (
	"context"
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// SupportedCDIVersions are the core driver interface versions this SDK speaks.
var SupportedCDIVersions = []string{"3.0", "4.0", "5.0", "5.1", "5.2"}

// APIVersion returns the highest CDI version supported by both the core and
// this SDK. The result is cached after the first successful call.
func (q *Querier) APIVersion(ctx context.Context) (string, error) {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()

	if q.state.apiVersion != "" {
		return q.state.apiVersion, nil
	}

	var resp struct {
		Versions []string `json:"versions"`
	}
	if err := q.do(ctx, http.MethodGet, RootPath(apiVersionPath), nil, nil, &resp, ""); err != nil {
		return "", err
	}

	version, ok := highestCommonVersion(resp.Versions, SupportedCDIVersions)
	if !ok {
		return "", oops.Code(CodeIncompatible).
			With("core_versions", resp.Versions).
			Errorf("core supports none of the CDI versions %s", strings.Join(SupportedCDIVersions, ", "))
	}

	q.state.apiVersion = version
	q.logger.DebugContext(ctx, "negotiated core CDI version", "version", version)
	return version, nil
}

func highestCommonVersion(core, ours []string) (string, bool) {
	var best *semver.Version
	var bestRaw string
	for _, o := range ours {
		ov, err := semver.NewVersion(o)
		if err != nil {
			continue
		}
		for _, c := range core {
			cv, err := semver.NewVersion(c)
			if err != nil || !cv.Equal(ov) {
				continue
			}
			if best == nil || ov.GreaterThan(best) {
				best, bestRaw = ov, o
			}
		}
	}
	return bestRaw, best != nil
}

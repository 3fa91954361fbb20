package recipe

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/oops"
)

// AppInfo describes where the API and the website live.
type AppInfo struct {
	AppName         string
	APIDomain       string
	WebsiteDomain   string
	APIBasePath     string
	WebsiteBasePath string

	// GetOrigin, when set, picks the website origin per request. It takes
	// precedence over WebsiteDomain.
	GetOrigin func(r *http.Request) string
}

// Normalise validates the domains and fills default base paths ("/auth").
func (a AppInfo) Normalise() (AppInfo, error) {
	if a.AppName == "" {
		return a, oops.Code("CONFIG_INVALID").Errorf("appInfo.appName is required")
	}
	if a.APIDomain == "" {
		return a, oops.Code("CONFIG_INVALID").Errorf("appInfo.apiDomain is required")
	}
	if a.WebsiteDomain == "" && a.GetOrigin == nil {
		return a, oops.Code("CONFIG_INVALID").Errorf("appInfo.websiteDomain or appInfo.getOrigin is required")
	}

	var err error
	if a.APIDomain, err = normaliseDomain(a.APIDomain); err != nil {
		return a, oops.Code("CONFIG_INVALID").With("apiDomain", a.APIDomain).Wrap(err)
	}
	if a.WebsiteDomain != "" {
		if a.WebsiteDomain, err = normaliseDomain(a.WebsiteDomain); err != nil {
			return a, oops.Code("CONFIG_INVALID").With("websiteDomain", a.WebsiteDomain).Wrap(err)
		}
	}
	a.APIBasePath = normaliseBasePath(a.APIBasePath)
	a.WebsiteBasePath = normaliseBasePath(a.WebsiteBasePath)
	return a, nil
}

// Origin returns the website origin for r.
func (a AppInfo) Origin(r *http.Request) string {
	if a.GetOrigin != nil {
		if origin := a.GetOrigin(r); origin != "" {
			if n, err := normaliseDomain(origin); err == nil {
				return n
			}
		}
	}
	return a.WebsiteDomain
}

func normaliseDomain(domain string) (string, error) {
	domain = strings.TrimSpace(domain)
	if !strings.Contains(domain, "://") {
		scheme := "https://"
		if strings.HasPrefix(domain, "localhost") || strings.HasPrefix(domain, "127.0.0.1") {
			scheme = "http://"
		}
		domain = scheme + domain
	}
	u, err := url.Parse(domain)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", oops.Errorf("domain %q has no host", domain)
	}
	return u.Scheme + "://" + u.Host, nil
}

func normaliseBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/auth"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	return p
}

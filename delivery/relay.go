package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/panyam/authrecipes/internal/logging"
)

// Hosted relay endpoints used when an app configures no delivery service.
const (
	DefaultPasswordlessLoginRelayURL = "https://api.supertokens.io/0/st/auth/passwordless/login"
	DefaultEmailVerificationRelayURL = "https://api.supertokens.io/0/st/auth/email/verify"
	DefaultPasswordResetRelayURL     = "https://api.supertokens.io/0/st/auth/password/reset"

	relayTimeout = 10 * time.Second
)

// relay posts JSON payloads to the hosted relay. Failures are logged and
// never returned, so a flaky relay cannot fail a sign in. Unless
// WaitForCompletion is set the post happens in the background; Wait blocks
// until in-flight posts finish.
type relay struct {
	client *http.Client
	logger *slog.Logger
	wait   bool
	wg     sync.WaitGroup
}

func (r *relay) dispatch(ctx context.Context, url string, body map[string]any) {
	if r.wait {
		r.post(ctx, url, body)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.post(context.WithoutCancel(ctx), url, body)
	}()
}

func (r *relay) post(ctx context.Context, url string, body map[string]any) {
	logger := logging.OrDefault(r.logger)
	if err := r.doPost(ctx, url, body); err != nil {
		logging.LogError(logger, "relay delivery failed", err)
		return
	}
	logger.DebugContext(ctx, "relay delivery sent", "url", url)
}

func (r *relay) doPost(ctx context.Context, url string, body map[string]any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return oops.Wrapf(err, "encoding relay payload")
	}
	ctx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return oops.With("url", url).Wrapf(err, "building relay request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-version", "0")

	client := r.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return oops.Code("DELIVERY_FAILED").With("url", url).Wrapf(err, "posting to relay")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return oops.Code("DELIVERY_FAILED").With("url", url).With("status", resp.StatusCode).
			Errorf("relay responded with status %d", resp.StatusCode)
	}
	return nil
}

// RelayEmailService posts emails to the hosted relay.
type RelayEmailService struct {
	relay
	appName string
	urls    RelayURLs
}

// RelayURLs overrides the relay endpoints. Empty fields use the defaults.
type RelayURLs struct {
	PasswordlessLogin string
	EmailVerification string
	PasswordReset     string
}

// RelayOptions configures the relay services.
type RelayOptions struct {
	HTTPClient        *http.Client
	Logger            *slog.Logger
	WaitForCompletion bool
	URLs              RelayURLs
}

// NewRelayEmailService returns an email service backed by the hosted relay.
func NewRelayEmailService(appName string, opts RelayOptions) *RelayEmailService {
	urls := opts.URLs
	if urls.PasswordlessLogin == "" {
		urls.PasswordlessLogin = DefaultPasswordlessLoginRelayURL
	}
	if urls.EmailVerification == "" {
		urls.EmailVerification = DefaultEmailVerificationRelayURL
	}
	if urls.PasswordReset == "" {
		urls.PasswordReset = DefaultPasswordResetRelayURL
	}
	return &RelayEmailService{
		relay:   relay{client: opts.HTTPClient, logger: opts.Logger, wait: opts.WaitForCompletion},
		appName: appName,
		urls:    urls,
	}
}

func (s *RelayEmailService) Send(ctx context.Context, input EmailInput) error {
	body := map[string]any{"email": input.Email, "appName": s.appName}
	var url string

	switch {
	case input.Type == TypePasswordlessLogin && input.PasswordlessLogin != nil:
		url = s.urls.PasswordlessLogin
		body["codeLifetime"] = input.PasswordlessLogin.CodeLifetime
		if input.PasswordlessLogin.UserInputCode != "" {
			body["userInputCode"] = input.PasswordlessLogin.UserInputCode
		}
		if input.PasswordlessLogin.URLWithLinkCode != "" {
			body["urlWithLinkCode"] = input.PasswordlessLogin.URLWithLinkCode
		}
	case input.Type == TypeEmailVerification && input.EmailVerification != nil:
		url = s.urls.EmailVerification
		body["emailVerifyURL"] = input.EmailVerification.EmailVerifyLink
	case input.Type == TypePasswordReset && input.PasswordReset != nil:
		url = s.urls.PasswordReset
		body["passwordResetURL"] = input.PasswordReset.PasswordResetLink
	default:
		return oops.Code("DELIVERY_INVALID").With("type", input.Type).Errorf("unknown email type %q", input.Type)
	}

	s.dispatch(ctx, url, body)
	return nil
}

// Wait blocks until background sends finish.
func (s *RelayEmailService) Wait() { s.wg.Wait() }

// RelaySMSService posts text messages to the hosted relay.
type RelaySMSService struct {
	relay
	appName string
	url     string
}

// NewRelaySMSService returns an SMS service backed by the hosted relay.
func NewRelaySMSService(appName string, opts RelayOptions) *RelaySMSService {
	url := opts.URLs.PasswordlessLogin
	if url == "" {
		url = DefaultPasswordlessLoginRelayURL
	}
	return &RelaySMSService{
		relay:   relay{client: opts.HTTPClient, logger: opts.Logger, wait: opts.WaitForCompletion},
		appName: appName,
		url:     url,
	}
}

func (s *RelaySMSService) Send(ctx context.Context, input SMSInput) error {
	if input.Type != TypePasswordlessLogin || input.PasswordlessLogin == nil {
		return oops.Code("DELIVERY_INVALID").With("type", input.Type).Errorf("unsupported sms type %q", input.Type)
	}
	body := map[string]any{
		"phoneNumber":  input.PhoneNumber,
		"appName":      s.appName,
		"codeLifetime": input.PasswordlessLogin.CodeLifetime,
	}
	if input.PasswordlessLogin.UserInputCode != "" {
		body["userInputCode"] = input.PasswordlessLogin.UserInputCode
	}
	if input.PasswordlessLogin.URLWithLinkCode != "" {
		body["urlWithLinkCode"] = input.PasswordlessLogin.URLWithLinkCode
	}
	s.dispatch(ctx, s.url, body)
	return nil
}

// Wait blocks until background sends finish.
func (s *RelaySMSService) Wait() { s.wg.Wait() }

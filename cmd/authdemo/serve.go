package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/panyam/authrecipes"
	"github.com/panyam/authrecipes/accountlinking"
	"github.com/panyam/authrecipes/delivery"
	"github.com/panyam/authrecipes/emailpassword"
	"github.com/panyam/authrecipes/emailverification"
	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/passwordless"
	"github.com/panyam/authrecipes/querier"
	"github.com/panyam/authrecipes/recipe"
	"github.com/panyam/authrecipes/session"
	"github.com/panyam/authrecipes/thirdparty"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the auth APIs and the demo API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	registerServeFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg serveConfig) error {
	level, err := cfg.logLevel()
	if err != nil {
		return err
	}
	logger := logging.Setup("authdemo", cfg.LogFormat, level, nil)

	d, err := buildDemo(cfg, logger)
	if err != nil {
		logging.LogError(logger, "building app", err)
		return err
	}
	defer d.close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           d.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "api_base", d.app.AppInfo.APIBasePath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return oops.Wrapf(err, "serving http")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Wrapf(err, "shutting down http server")
	}
	return nil
}

// demo is the built app plus whatever must be flushed on shutdown.
type demo struct {
	app      *authrecipes.App
	logger   *slog.Logger
	waiters  []interface{ Wait() }
	sessions *scs.SessionManager
}

func buildDemo(cfg serveConfig, logger *slog.Logger) (*demo, error) {
	d := &demo{logger: logger}

	var email delivery.Service[delivery.EmailInput] = &delivery.ConsoleEmailService{Logger: logger}
	var sms delivery.Service[delivery.SMSInput] = &delivery.ConsoleSMSService{Logger: logger}
	if cfg.Relay {
		opts := delivery.RelayOptions{Logger: logger}
		relayEmail := delivery.NewRelayEmailService(cfg.AppName, opts)
		relaySMS := delivery.NewRelaySMSService(cfg.AppName, opts)
		email, sms = relayEmail, relaySMS
		d.waiters = append(d.waiters, relayEmail, relaySMS)
	}

	sessionCfg := session.Config{
		SecretKey:    cfg.SecretKey,
		CookieSecure: cfg.CookieSecure,
		Logger:       logger,
	}
	if cfg.ServerSessions {
		d.sessions = scs.New()
		d.sessions.Cookie.Secure = cfg.CookieSecure
		sessionCfg.Manager = d.sessions
	}

	appCfg := authrecipes.Config{
		AppInfo: recipe.AppInfo{
			AppName:       cfg.AppName,
			APIDomain:     cfg.APIDomain,
			WebsiteDomain: cfg.WebsiteDomain,
			APIBasePath:   cfg.APIBasePath,
		},
		Core:                querier.Config{ConnectionURI: cfg.CoreURI, APIKey: cfg.CoreAPIKey},
		CoreOptions:         []querier.Option{querier.WithLogger(logger)},
		Session:             sessionCfg,
		AllowedOrigins:      cfg.AllowedOrigins,
		DefaultEmailService: email,
		DefaultSMSService:   sms,
		Logger:              logger,
	}

	if cfg.AccountLinking {
		appCfg.AccountLinking.ShouldDoAutomaticAccountLinking = func(context.Context, recipe.AccountInfoWithRecipeID, *recipe.User, session.Session, string) (accountlinking.ShouldLink, error) {
			return accountlinking.ShouldLink{ShouldAutomaticallyLink: true, ShouldRequireVerification: true}, nil
		}
	}

	switch mode := strings.ToUpper(strings.TrimSpace(cfg.EmailVerification)); mode {
	case "":
	case string(emailverification.ModeRequired), string(emailverification.ModeOptional):
		appCfg.EmailVerification = &emailverification.Config{Mode: emailverification.Mode(mode)}
	default:
		return nil, oops.Code("CONFIG_INVALID").With("email_verification", cfg.EmailVerification).
			Errorf("email verification must be required or optional")
	}

	if cfg.ContactMethod != "" {
		appCfg.Recipes = append(appCfg.Recipes, authrecipes.Passwordless(passwordless.Config{
			ContactMethod: passwordless.ContactMethod(strings.ToUpper(cfg.ContactMethod)),
			FlowType:      passwordless.FlowType(strings.ToUpper(cfg.FlowType)),
		}))
	}
	if cfg.EmailPassword {
		appCfg.Recipes = append(appCfg.Recipes, authrecipes.EmailPassword(emailpassword.Config{}))
	}
	if len(cfg.Providers) > 0 {
		providers, err := providerConfigs(cfg.Providers)
		if err != nil {
			return nil, err
		}
		appCfg.Recipes = append(appCfg.Recipes, authrecipes.ThirdParty(thirdparty.Config{Providers: providers}))
	}

	app, err := authrecipes.New(appCfg)
	if err != nil {
		return nil, err
	}
	d.app = app
	return d, nil
}

// providerConfigs maps provider names to their presets. Credentials come from
// the OAUTH2_* environment variables.
func providerConfigs(names []string) ([]thirdparty.ProviderConfig, error) {
	var out []thirdparty.ProviderConfig
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "google":
			out = append(out, thirdparty.Google(thirdparty.ProviderConfig{}))
		case "github":
			out = append(out, thirdparty.GitHub(thirdparty.ProviderConfig{}))
		default:
			return nil, oops.Code("CONFIG_INVALID").With("provider", name).Errorf("unknown provider %q", name)
		}
	}
	return out, nil
}

// handler serves the demo API behind the auth middleware.
func (d *demo) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = recipe.Send200(w, map[string]any{"status": "OK"})
	})

	verify := d.app.Session.VerifySession(session.Options{SessionRequired: true})
	mux.Handle("GET /api/me", verify(http.HandlerFunc(d.me)))
	mux.Handle("GET /api/me/user", verify(http.HandlerFunc(d.meUser)))

	return d.app.Middleware(mux)
}

func (d *demo) me(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	_ = recipe.Send200(w, map[string]any{
		"userId":       s.UserID(),
		"recipeUserId": s.RecipeUserID().String(),
		"tenantId":     s.TenantID(),
		"payload":      s.AccessTokenPayload(),
	})
}

func (d *demo) meUser(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	user, err := d.app.AccountLinking.Impl.GetUser(r.Context(), s.UserID())
	if err != nil {
		logging.LogError(d.logger, "loading user", err)
		_ = recipe.SendNon200(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if user == nil {
		_ = recipe.SendNon200(w, http.StatusNotFound, "user not found")
		return
	}
	_ = recipe.Send200(w, map[string]any{"user": user})
}

// close waits for background deliveries to finish.
func (d *demo) close() {
	for _, w := range d.waiters {
		w.Wait()
	}
}

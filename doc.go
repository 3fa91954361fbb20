// Package authrecipes composes authentication recipes into one HTTP surface.
//
// A recipe is a self contained sign in method (passwordless codes, OAuth
// providers, email and password) whose default behaviour can be layered
// over with overrides. All durable state lives in an external core service
// reached over HTTP; this module validates requests, runs the account
// linking and multi factor checks shared by every recipe, sends emails and
// SMS, and issues sessions.
//
// # Basic Usage
//
// Build an App with the recipes you need:
//
//	app, err := authrecipes.New(authrecipes.Config{
//	    AppInfo: recipe.AppInfo{
//	        AppName:       "Example",
//	        APIDomain:     "https://api.example.com",
//	        WebsiteDomain: "https://example.com",
//	    },
//	    Core:           querier.Config{ConnectionURI: "http://localhost:3567"},
//	    AllowedOrigins: []string{"https://example.com"},
//	    Recipes: []authrecipes.RecipeBuilder{
//	        authrecipes.Passwordless(passwordless.Config{
//	            ContactMethod: passwordless.ContactMethodEmail,
//	            FlowType:      passwordless.FlowTypeUserInputCodeAndMagicLink,
//	        }),
//	        authrecipes.EmailPassword(emailpassword.Config{}),
//	    },
//	})
//
// Then mount it in front of your own routes:
//
//	mux := http.NewServeMux()
//	mux.Handle("/api/", app.Session.VerifySession(session.Options{SessionRequired: true})(apiHandler))
//	http.ListenAndServe(":8080", app.Middleware(mux))
//
// Every API is served under the API base path ("/auth" by default), and
// again under "{base}/{tenantId}" for multi tenant apps.
//
// # Overrides
//
// Each recipe exposes a RecipeInterface (operations against the core) and
// an APIInterface (the HTTP level flows). Both are structs of funcs. An
// override receives the implementation built so far and returns a copy with
// some funcs wrapped:
//
//	cfg.Override.Functions = func(orig passwordless.RecipeInterface, _ *override.Builder[passwordless.RecipeInterface]) passwordless.RecipeInterface {
//	    consume := orig.ConsumeCode
//	    orig.ConsumeCode = func(ctx context.Context, in passwordless.ConsumeCodeInput) (passwordless.ConsumeCodeResult, error) {
//	        res, err := consume(ctx, in)
//	        if err == nil && res.Status == passwordless.StatusOK {
//	            audit(ctx, res.User.ID)
//	        }
//	        return res, err
//	    }
//	    return orig
//	}
//
// # Errors
//
// Expected outcomes such as a wrong code or a denied sign up are 200
// responses with a status field. Malformed requests are 400s, missing
// sessions 401s, and failed claim checks 403s. Anything else goes to
// Config.OnError, or is logged and answered with a 500.
package authrecipes

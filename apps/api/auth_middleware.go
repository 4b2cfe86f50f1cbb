package main

import (
	"context"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3filter"
	"go.uber.org/zap"

	platformauth "github.com/atlas-itam/atlas/platform/go/auth"
	"github.com/atlas-itam/atlas/platform/go/gcp"
	platformmiddleware "github.com/atlas-itam/atlas/platform/go/middleware"
	"github.com/atlas-itam/atlas/platform/go/setups"
)

// authSetup bundles the pieces that change with AUTH_PROVIDER.
type authSetup struct {
	// middleware verifies bearer tokens; nil when auth is disabled.
	middleware func(http.Handler) http.Handler
	// admin gates counter configuration and block reservation; nil when auth is disabled.
	admin func(http.Handler) http.Handler
	// check satisfies the contract's security requirements during request validation.
	check openapi3filter.AuthenticationFunc
}

func newAuthSetup(verify platformauth.VerifyFunc) authSetup {
	return authSetup{
		middleware: platformauth.JWT(verify, platformauth.DefaultCredentialExtractor),
		admin:      platformauth.RequireRole(platformauth.RoleAdmin),
		check:      platformmiddleware.ValidateAuthenticationViaSwagger,
	}
}

func mustBuildAuth(ctx context.Context, cfg config, logger *zap.Logger) authSetup {
	switch cfg.AuthProvider {
	case "firebase":
		fbAuth, err := gcp.InitFirebaseAuth(ctx, setups.FirebaseCredentialsPath())
		if err != nil {
			logger.Fatal("init firebase auth", zap.Error(err))
		}
		return newAuthSetup(platformauth.FirebaseTokenVerifier(fbAuth))
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		return newAuthSetup(platformauth.UnsignedTokenVerifier())
	case "none":
		logger.Warn("authentication disabled; every caller may configure the counter")
		return authSetup{check: platformmiddleware.SkipAuthentication}
	default:
		logger.Fatal("unsupported auth provider", zap.String("provider", cfg.AuthProvider))
	}
	return authSetup{}
}

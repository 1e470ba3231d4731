package auth

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/teamloop/teamloop/config"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/globals"
	"github.com/teamloop/teamloop/types"
)

// resolveOIDC verifies an OIDC ID token against the named configured provider
// and maps the email claim to a stored user.
func (r *Resolver) resolveOIDC(ctx context.Context, idToken, providerName string) (*types.User, error) {
	var oidcConf *config.OIDCConfig
	for i, c := range r.cfg.AuthConfig.OIDCConfigs {
		if c.Name == providerName {
			oidcConf = &r.cfg.AuthConfig.OIDCConfigs[i]
			break
		}
	}
	if oidcConf == nil {
		globals.AppLogger.Debug("no oidc config found for provider", "provider", providerName)
		return nil, errs.Authentication("invalid token")
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		globals.AppLogger.Error("could not discover oidc provider", "error", err)
		return nil, errs.Authentication("invalid token")
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifier := provider.Verifier(&conf)
	verifiedIdToken, err := verifier.Verify(ctx, idToken)
	if err != nil {
		globals.AppLogger.Debug("oidc verification failed", "error", err)
		if tokenExpiredError(err) {
			return nil, errs.Authentication("token expired")
		}
		return nil, errs.Authentication("invalid token")
	}
	claims := struct {
		Email string `json:"email"`
	}{}
	if err := verifiedIdToken.Claims(&claims); err != nil || claims.Email == "" {
		return nil, errs.Authentication("invalid token")
	}
	user, err := r.users.GetUserByEmail(ctx, claims.Email)
	if err != nil {
		return nil, errs.Authentication("user not found")
	}
	return user, nil
}

func tokenExpiredError(err error) bool {
	_, ok := err.(*oidc.TokenExpiredError)
	return ok
}

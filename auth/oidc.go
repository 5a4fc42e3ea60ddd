package auth

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/hideout-chat/hideout/config"
	"github.com/hideout-chat/hideout/globals"
)

// Authenticate verifies an OIDC ID token against the configured provider
// and returns the email claim. An empty token or an unknown provider
// yields an empty email without an error, so callers can fall back to
// anonymous handling where that is allowed.
func Authenticate(ctx context.Context, idToken, providerName string, cfg *config.Config) (string, error) {
	if idToken == "" || len(cfg.OIDCConfigs) == 0 {
		return "", nil
	}
	var oidcConf *config.OIDCConfig
	for i := range cfg.OIDCConfigs {
		if cfg.OIDCConfigs[i].Name == providerName {
			oidcConf = &cfg.OIDCConfigs[i]
			break
		}
	}
	if oidcConf == nil {
		globals.AppLogger.Debug("no oidc config found for provider", "provider", providerName)
		return "", nil
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return "", err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifiedToken, err := provider.Verifier(&conf).Verify(ctx, idToken)
	if err != nil {
		globals.AppLogger.Debug("token verification failed", "error", err)
		return "", err
	}
	claims := struct {
		Email string `json:"email"`
	}{}
	if err := verifiedToken.Claims(&claims); err != nil {
		return "", err
	}
	return claims.Email, nil
}

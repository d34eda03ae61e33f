package cmd

import (
	"context"
	"errors"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/codemux/agentauth/internal/auth"
	"github.com/codemux/agentauth/internal/misc"
	"github.com/codemux/agentauth/internal/oauth"
)

// LoginOptions carries the command-line switches for a login.
type LoginOptions struct {
	// NoBrowser prints the authorization URL instead of opening a browser.
	NoBrowser bool
	// Headless forces the paste-the-redirect-URL path. Detected
	// automatically for SSH sessions.
	Headless bool
}

// DoLogin runs the OAuth flow for the named provider and saves the result.
func DoLogin(app *App, providerIDOrAlias string, options *LoginOptions) {
	if options == nil {
		options = &LoginOptions{}
	}
	headless := options.Headless || isRemoteSession()
	caps := app.capabilities(options.NoBrowser, headless)

	opts := &auth.LoginOptions{CallbackTimeout: app.Config.CallbackTimeout()}
	profile, err := app.Flow.Login(context.Background(), providerIDOrAlias, caps, opts)
	if err != nil {
		var authErr *oauth.AuthError
		if errors.As(err, &authErr) {
			log.Error(oauth.GetUserFriendlyMessage(authErr))
			if authErr.Type == oauth.ErrPortInUse.Type {
				os.Exit(oauth.ErrPortInUse.Code)
			}
			return
		}
		log.Fatalf("Authentication failed: %v", err)
		return
	}

	misc.LogCredentialSeparator()
	misc.LogSavingCredentials(app.Store.Path())
	log.Infof("Authentication successful for profile %s", profile.ProfileID)
}

// DoLogout removes a stored profile.
func DoLogout(app *App, profileID string) {
	if err := app.Flow.Logout(profileID); err != nil {
		if errors.Is(err, oauth.ErrProfileNotFound) {
			log.Errorf("No such profile: %s", profileID)
			return
		}
		log.Fatalf("Logout failed: %v", err)
		return
	}
	log.Infof("Removed profile %s", profileID)
}

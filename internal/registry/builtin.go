package registry

import (
	"golang.org/x/oauth2/google"
)

const (
	geminiClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	geminiClientSecret = "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"

	claudeClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	codexClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
)

// RegisterBuiltins registers the built-in provider descriptors. Called once
// during startup; a failure here means the static tables collide and is a
// programming error.
func RegisterBuiltins(r *Registry) error {
	builtins := []*ProviderDescriptor{
		{
			ID:      "gemini",
			Label:   "Google Gemini",
			Aliases: []string{"google", "gemini-cli"},
			AuthMethods: []AuthMethod{
				{
					Kind:                  AuthMethodOAuthPKCE,
					ClientID:              geminiClientID,
					ClientSecret:          geminiClientSecret,
					AuthorizationEndpoint: google.Endpoint.AuthURL,
					TokenEndpoint:         google.Endpoint.TokenURL,
					UserinfoEndpoint:      "https://www.googleapis.com/oauth2/v1/userinfo?alt=json",
					Scopes: []string{
						"https://www.googleapis.com/auth/cloud-platform",
						"https://www.googleapis.com/auth/userinfo.email",
						"https://www.googleapis.com/auth/userinfo.profile",
					},
					RedirectURI:  "http://localhost:8085/oauth-callback",
					CallbackPort: 8085,
				},
			},
			UsageEndpoint: "https://cloudcode-pa.googleapis.com/v1internal:fetchUserQuota",
		},
		{
			ID:      "claude",
			Label:   "Anthropic Claude",
			Aliases: []string{"anthropic"},
			AuthMethods: []AuthMethod{
				{
					Kind:                  AuthMethodOAuthPKCE,
					ClientID:              claudeClientID,
					AuthorizationEndpoint: "https://claude.ai/oauth/authorize",
					TokenEndpoint:         "https://console.anthropic.com/v1/oauth/token",
					Scopes:                []string{"org:create_api_key", "user:profile", "user:inference"},
					RedirectURI:           "http://localhost:54545/oauth-callback",
					CallbackPort:          54545,
				},
			},
			UsageEndpoint: "https://api.anthropic.com/api/oauth/usage",
		},
		{
			ID:      "codex",
			Label:   "OpenAI Codex",
			Aliases: []string{"openai", "chatgpt"},
			AuthMethods: []AuthMethod{
				{
					Kind:                  AuthMethodOAuthPKCE,
					ClientID:              codexClientID,
					AuthorizationEndpoint: "https://auth.openai.com/oauth/authorize",
					TokenEndpoint:         "https://auth.openai.com/oauth/token",
					UserinfoEndpoint:      "https://auth.openai.com/oauth/userinfo",
					Scopes:                []string{"openid", "profile", "email", "offline_access"},
					RedirectURI:           "http://localhost:1455/oauth-callback",
					CallbackPort:          1455,
				},
			},
			UsageEndpoint: "https://chatgpt.com/backend-api/wham/usage",
		},
	}

	for _, descriptor := range builtins {
		if err := r.Register(descriptor); err != nil {
			return err
		}
	}
	return nil
}

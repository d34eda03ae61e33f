package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/codemux/agentauth/internal/credstore"
	"github.com/codemux/agentauth/internal/oauth"
)

const codeAssistEndpoint = "https://cloudcode-pa.googleapis.com"

// fetchEmail queries the provider's userinfo endpoint and extracts the
// account email for the profile id.
func (f *Flow) fetchEmail(ctx context.Context, endpoint, accessToken string) (string, error) {
	body, err := f.authorizedGet(ctx, endpoint, accessToken)
	if err != nil {
		return "", err
	}

	email := gjson.GetBytes(body, "email")
	if !email.Exists() || email.String() == "" {
		return "", fmt.Errorf("userinfo response carries no email")
	}
	return email.String(), nil
}

// enrichCredential populates provider-specific extra fields required by
// later API calls. Only Google-backed providers need one today: the cloud
// project id that scopes every code-assist request.
func (f *Flow) enrichCredential(ctx context.Context, providerID string, cred *credstore.Credential) error {
	if providerID != "gemini" {
		return nil
	}

	projectID, err := f.lookupProjectID(ctx, cred.AccessToken)
	if err != nil {
		// No silent fallback to a default project: a wrong project id
		// produces confusing permission errors much later.
		return oauth.WrapAuthError(oauth.ErrProjectLookupFailed, err)
	}

	if cred.Extra == nil {
		cred.Extra = make(map[string]string)
	}
	cred.Extra["project_id"] = projectID
	log.Debugf("discovered project id %s", projectID)
	return nil
}

// lookupProjectID asks the code-assist service which cloud project the
// account is onboarded to.
func (f *Flow) lookupProjectID(ctx context.Context, accessToken string) (string, error) {
	url := codeAssistEndpoint + "/v1internal:loadCodeAssist"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(`{"metadata":{"pluginType":"AGENT"}}`))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("loadCodeAssist returned status %d: %s", resp.StatusCode, string(body))
	}

	projectID := gjson.GetBytes(body, "cloudaicompanionProject").String()
	if projectID == "" {
		return "", fmt.Errorf("account is not onboarded to a cloud project")
	}
	return projectID, nil
}

// authorizedGet performs one bearer-authenticated GET and returns the body.
func (f *Flow) authorizedGet(ctx context.Context, endpoint, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request to %s failed with status %d: %s", endpoint, resp.StatusCode, string(body))
	}
	return body, nil
}

package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// Endpoint defaults.
const (
	DefaultOpenAIURL       = "wss://api.openai.com/v1/realtime"
	DefaultModel           = "gpt-4o-realtime-preview"
	DefaultAzureAPIVersion = "2024-10-01-preview"

	// BetaHeader opts into the realtime beta protocol on api.openai.com.
	BetaHeader      = "OpenAI-Beta"
	BetaHeaderValue = "realtime=v1"

	azureCognitiveScope = "https://cognitiveservices.azure.com/.default"
)

// tokenRefreshBuffer is how long before expiry a cached token is renewed.
const tokenRefreshBuffer = 5 * time.Minute

// Credential adds authentication to the handshake headers.
type Credential interface {
	// Apply sets authentication headers on h.
	Apply(ctx context.Context, h http.Header) error

	// Type returns the credential type identifier.
	Type() string
}

// APIKey authenticates with an OpenAI bearer key.
type APIKey string

// Apply sets the Authorization header.
func (k APIKey) Apply(_ context.Context, h http.Header) error {
	if k != "" {
		h.Set("Authorization", "Bearer "+string(k))
	}
	return nil
}

// Type returns "api_key".
func (APIKey) Type() string { return "api_key" }

// AzureAPIKey authenticates against Azure OpenAI with a resource key.
type AzureAPIKey string

// Apply sets the api-key header.
func (k AzureAPIKey) Apply(_ context.Context, h http.Header) error {
	if k != "" {
		h.Set("api-key", string(k))
	}
	return nil
}

// Type returns "azure_api_key".
func (AzureAPIKey) Type() string { return "azure_api_key" }

// AzureTokenCredential authenticates against Azure OpenAI with Entra ID
// tokens. Tokens are cached until shortly before they expire.
type AzureTokenCredential struct {
	cred   azcore.TokenCredential
	scopes []string

	mu     sync.RWMutex
	cached *azcore.AccessToken
}

// NewAzureTokenCredential wraps an existing azcore token credential.
func NewAzureTokenCredential(cred azcore.TokenCredential) *AzureTokenCredential {
	return &AzureTokenCredential{
		cred:   cred,
		scopes: []string{azureCognitiveScope},
	}
}

// NewAzureDefaultCredential builds a token credential from the default Azure
// credential chain (environment, managed identity, Azure CLI and so on).
func NewAzureDefaultCredential() (*AzureTokenCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return NewAzureTokenCredential(cred), nil
}

// Apply sets a bearer token on the Authorization header.
func (c *AzureTokenCredential) Apply(ctx context.Context, h http.Header) error {
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get Azure token: %w", err)
	}
	h.Set("Authorization", "Bearer "+token.Token)
	return nil
}

// Type returns "azure".
func (c *AzureTokenCredential) Type() string { return "azure" }

func (c *AzureTokenCredential) token(ctx context.Context) (*azcore.AccessToken, error) {
	c.mu.RLock()
	if c.cached != nil && c.cached.ExpiresOn.After(time.Now().Add(tokenRefreshBuffer)) {
		token := c.cached
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.cached.ExpiresOn.After(time.Now().Add(tokenRefreshBuffer)) {
		return c.cached, nil
	}

	token, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: c.scopes})
	if err != nil {
		return nil, err
	}
	c.cached = &token
	return &token, nil
}

// OpenAIURL returns the realtime endpoint for model. An empty base uses
// DefaultOpenAIURL and an empty model uses DefaultModel.
func OpenAIURL(base, model string) string {
	if base == "" {
		base = DefaultOpenAIURL
	}
	if model == "" {
		model = DefaultModel
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "model=" + url.QueryEscape(model)
}

// OpenAIHeaders returns the handshake headers api.openai.com expects.
func OpenAIHeaders() http.Header {
	h := http.Header{}
	h.Set(BetaHeader, BetaHeaderValue)
	return h
}

// AzureURL builds the realtime endpoint of an Azure OpenAI deployment from
// the resource endpoint (https://<resource>.openai.azure.com).
func AzureURL(endpoint, deployment, apiVersion string) (string, error) {
	if deployment == "" {
		return "", fmt.Errorf("azure deployment is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid azure endpoint: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid azure endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid azure endpoint: missing host")
	}
	if apiVersion == "" {
		apiVersion = DefaultAzureAPIVersion
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/openai/realtime"
	q := url.Values{}
	q.Set("api-version", apiVersion)
	q.Set("deployment", deployment)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

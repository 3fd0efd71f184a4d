package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"aiproxy-go/internal/cache"
	"aiproxy-go/internal/constants"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/google"
)

const (
	tokenCachePrefix   = "aiproxy/oauth/"
	azureEntraScope    = "https://cognitiveservices.azure.com/.default"
	databricksScope    = "all-apis"
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

type cachedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// TokenCache exchanges and caches bearer tokens for OAuth-gated providers.
// Tokens live in the encrypted cache under digest(client identity), sealed
// with digest(cacheKey:client_secret), for expires_in minus a safety margin.
type TokenCache struct {
	cache  *cache.Encrypted
	client *http.Client
	now    func() time.Time
}

// NewTokenCache builds a token cache. client is used for token endpoints.
func NewTokenCache(c *cache.Encrypted, client *http.Client) *TokenCache {
	if client == nil {
		client = &http.Client{Timeout: constants.TokenExchangeTimeout}
	}
	return &TokenCache{cache: c, client: client, now: time.Now}
}

// Token returns a cached token for identity or obtains one with fetch.
func (t *TokenCache) Token(ctx context.Context, identity, clientSecret string, fetch func(context.Context) (*oauth2.Token, error)) (string, error) {
	cacheKey := tokenCachePrefix + cache.Digest(identity)
	encKey := cache.Digest(cacheKey + ":" + clientSecret)

	if t.cache != nil {
		if raw, err := t.cache.Get(ctx, encKey, cacheKey); err == nil {
			var ct cachedToken
			if json.Unmarshal(raw, &ct) == nil && ct.AccessToken != "" {
				return ct.AccessToken, nil
			}
		}
	}

	tok, err := fetch(context.WithValue(ctx, oauth2.HTTPClient, t.client))
	if err != nil {
		return "", tokenError(err)
	}
	if tok.AccessToken == "" {
		return "", &UpstreamError{Status: http.StatusBadGateway, Msg: "token endpoint returned no access_token"}
	}

	if t.cache != nil && !tok.Expiry.IsZero() {
		ttl := tok.Expiry.Sub(t.now()) - constants.TokenCacheSafetySkew
		if ttl > 0 {
			raw, _ := json.Marshal(cachedToken{AccessToken: tok.AccessToken, TokenType: tok.TokenType})
			if err := t.cache.Put(ctx, encKey, cacheKey, raw, ttl); err != nil {
				log.WithError(err).Debug("token cache write failed")
			}
		}
	}
	return tok.AccessToken, nil
}

// ClientCredentials performs a client_credentials grant.
func (t *TokenCache) ClientCredentials(ctx context.Context, tokenURL, clientID, clientSecret, scope string) (string, error) {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if scope != "" {
		cfg.Scopes = strings.Fields(scope)
	}
	identity := strings.Join([]string{tokenURL, clientID, scope}, "|")
	return t.Token(ctx, identity, clientSecret, cfg.Token)
}

// GoogleServiceAccount returns an access token for a service-account key.
// Secrets that are not JSON are treated as ready-made access tokens.
func (t *TokenCache) GoogleServiceAccount(ctx context.Context, secret string) (string, error) {
	trimmed := strings.TrimSpace(secret)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	identity := "google|" + gjson.Get(trimmed, "client_email").String()
	return t.Token(ctx, identity, trimmed, func(ctx context.Context) (*oauth2.Token, error) {
		creds, err := google.CredentialsFromJSON(ctx, []byte(trimmed), cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account: %w", err)
		}
		return creds.TokenSource.Token()
	})
}

func azureTokenURL(tenant string) string {
	return "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0/token"
}

// tokenError keeps the token endpoint's status so the failover engine can
// move on to the next secret.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &UpstreamError{
			Status: re.Response.StatusCode,
			Hdr:    re.Response.Header,
			Body:   re.Body,
			Msg:    "token exchange failed",
		}
	}
	return err
}

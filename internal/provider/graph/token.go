package graph

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenExpiryBuffer is how long before actual expiry a token is replaced,
// so a request never starts with a token about to lapse.
const tokenExpiryBuffer = 5 * time.Minute

const graphScope = "https://graph.microsoft.com/.default"

// tokenCache hands out client-credentials access tokens, fetching a new one
// when the cached token nears expiry or after ForceRefresh.
type tokenCache struct {
	mu     sync.Mutex
	creds  *clientcredentials.Config
	ctx    context.Context
	source oauth2.TokenSource
}

func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	tc := &tokenCache{
		creds: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		ctx: context.WithValue(context.Background(), oauth2.HTTPClient, httpClient),
	}
	tc.source = tc.newSource()
	return tc
}

// Token returns a valid token. Safe for concurrent use.
func (tc *tokenCache) Token() (*oauth2.Token, error) {
	tc.mu.Lock()
	src := tc.source
	tc.mu.Unlock()
	return src.Token()
}

// ForceRefresh drops the cached token and fetches a new one. Used after a
// 401 shows the current token was rejected.
func (tc *tokenCache) ForceRefresh() (*oauth2.Token, error) {
	tc.mu.Lock()
	tc.source = tc.newSource()
	src := tc.source
	tc.mu.Unlock()
	return src.Token()
}

func (tc *tokenCache) newSource() oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, fetcher{tc.creds, tc.ctx}, tokenExpiryBuffer)
}

// fetcher always hits the token endpoint; caching is left to the reuse source.
type fetcher struct {
	creds *clientcredentials.Config
	ctx   context.Context
}

func (f fetcher) Token() (*oauth2.Token, error) {
	return f.creds.Token(f.ctx)
}

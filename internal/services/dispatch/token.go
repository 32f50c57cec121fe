package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// metadataTokenSource fetches Google identity tokens from the compute
// metadata server. The audience claim is pinned to the render service URL,
// which is what Cloud Run validates on the receiving side.
type metadataTokenSource struct {
	identityURL string
	audience    string
	client      *http.Client
}

// NewIdentityTokenSource returns a cached token source for identity tokens
// with the given audience. Tokens are reused until shortly before expiry.
func NewIdentityTokenSource(identityURL, audience string) oauth2.TokenSource {
	source := &metadataTokenSource{
		identityURL: identityURL,
		audience:    audience,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
	return oauth2.ReuseTokenSource(nil, source)
}

func (s *metadataTokenSource) Token() (*oauth2.Token, error) {
	endpoint := fmt.Sprintf("%s?audience=%s&format=full", s.identityURL, url.QueryEscape(s.audience))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch identity token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("metadata server returned %d: %s", resp.StatusCode, string(body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity token: %w", err)
	}

	token := &oauth2.Token{
		AccessToken: string(raw),
		TokenType:   "Bearer",
		Expiry:      tokenExpiry(string(raw)),
	}
	return token, nil
}

// tokenExpiry reads the exp claim so ReuseTokenSource knows when to refresh.
// The token is issued by the metadata server, so no signature check here.
func tokenExpiry(raw string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Now().Add(5 * time.Minute)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(5 * time.Minute)
	}
	return exp.Time
}

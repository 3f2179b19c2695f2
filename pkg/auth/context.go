package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// contextWithHTTPClient attaches client to ctx using the oauth2 package's
// well-known context key, so clientcredentials.Config.Token uses it instead
// of http.DefaultClient.
func contextWithHTTPClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

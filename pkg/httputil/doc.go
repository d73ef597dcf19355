// Package httputil holds the HTTP plumbing shared by rebill's outbound
// clients and its operational server.
//
// # Outbound JSON
//
// NewClient builds an *http.Client, optionally authenticated with the OAuth2
// client credentials grant. DoJSON sends a JSON request and decodes a 2xx
// reply; any other status comes back as a *StatusError carrying the body:
//
//	client := httputil.NewClient(ctx, &httputil.ClientCredentials{
//		ClientID:     id,
//		ClientSecret: secret,
//		TokenURL:     "https://auth.example.com/oauth/token",
//	}, 10*time.Second, nil)
//
//	var order orderResponse
//	err := httputil.DoJSON(ctx, client, http.MethodPost, url, req, nil, &order)
//	var statusErr *httputil.StatusError
//	if errors.As(err, &statusErr) && !statusErr.Temporary() {
//		// permanent rejection
//	}
//
// # Server helpers
//
// WriteJSON and the error writers produce the {"error": "..."} body used by
// the health endpoints. LoggingMiddleware and RecoveryMiddleware log through
// logrus and compose with Chain.
package httputil

/*
Package authsdk is the wire contract of the SecureHealth gateway together with
a small HTTP client.

The request and response types in this package are what the gateway's HTTP
handlers encode and decode, so collaborators (the records, prescription and
appointment services) can depend on this package alone.

	c := authsdk.NewClient("https://gateway.internal")

	if _, err := c.Signup(ctx, authsdk.SignupRequest{...}); err != nil { ... }

	login, err := c.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: pw, TwoFAToken: code})
	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Code == authsdk.ErrorCodeTwoFactorRequired {
		// prompt for a TOTP code and retry
	}

	me, err := c.WithToken(login.Token).Me(ctx)

Every non-2xx response is returned as *APIError.
*/
package authsdk

// Package auth verifies widget session tokens.
//
// Tokens are HS256 JWTs carrying the end-user id in "sub" and, optionally,
// an application scope in "app". The HTTP middleware extracts a token from
// the Authorization header or the "token" query parameter and attaches the
// verified claims to the request context; the Checker turns those claims
// into the session access check. Deployments without a secret run open.
package auth

package common

// AuthorizationHeaderName is the HTTP header and gRPC metadata key that
// carries the bearer access token.
const AuthorizationHeaderName = "authorization"

// BearerPrefix precedes the access token in the authorization value.
// The match is case-sensitive.
const BearerPrefix = "Bearer "

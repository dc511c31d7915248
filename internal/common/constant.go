package common

const (
	// AuthorizationHeaderName carries the bearer token on HTTP requests.
	AuthorizationHeaderName = "Authorization"
	// BearerScheme is the scheme prefix expected in AuthorizationHeaderName.
	BearerScheme = "Bearer"

	RoleUser  = "user"
	RoleAdmin = "admin"
)

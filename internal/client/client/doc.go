// Package client is the HTTP transport for the keeperauth REST API.
//
// RESTClient maps every endpoint onto a method. Non-2xx answers come back as
// *APIError, which unwraps to the matching sentinel from internal/common so
// callers can use errors.Is. Network failures unwrap to ErrUnavailable.
//
// The client keeps no session state; bearer and refresh tokens are passed in
// by the caller (see client/services.Session).
package client

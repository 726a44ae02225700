// Package homely is the REST client for the Homely cloud API.
//
// It covers the three calls the sync core needs: obtaining and refreshing
// an OAuth token, listing the account's locations, and fetching the full
// device snapshot of one location. Responses are translated into the
// snapshot package's types so callers never see the upstream JSON shape.
//
// Session wraps a Client with a cached token that is refreshed shortly
// before it expires and re-established from credentials when the refresh
// token is rejected.
package homely

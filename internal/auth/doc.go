// Package auth provides API key middleware for the HTTP surfaces.
//
// Middleware(mode, header, key) validates the API key from the named request
// header. When mode != "apikey" or key == "", all requests pass through
// (useful for local development with auth disabled). A missing or incorrect
// key is rejected with 401 immediately.
package auth

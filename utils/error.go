package utils

// API error codes returned in response bodies, stable across releases so
// clients can branch on them without parsing messages.
const (
	ErrorTokenAuthFail = 40100
)

// Package auth issues and validates the bearer tokens accepted by the
// WebSocket API.
//
// Two token kinds are accepted:
//   - HS256 JWTs signed with auth.jwt_secret, issued by `grayhub token`
//   - static long-lived tokens listed in auth.long_lived_tokens
//
// Successful validations are cached for auth.token_cache_ttl seconds, or
// until the JWT expires if that is sooner.
package auth

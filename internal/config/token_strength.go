package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

// Tokens scoring below this zxcvbn score (scale 0-4) are rejected at startup.
const weakTokenScoreThreshold = 3

// IsWeakToken reports whether the admin token is too guessable to protect the
// API surface. An empty token disables auth entirely and is not screened here.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, nil).Score < weakTokenScoreThreshold
}

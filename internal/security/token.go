// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// AgentTokenPrefix marks agent credentials so admin routes can refuse
	// them before any verification.
	AgentTokenPrefix = "lpa_"
	// DisplayPrefixLen is how much of a plaintext token is kept for display.
	DisplayPrefixLen = 12

	agentTokenBytes = 32
	bcryptCost      = 12
)

// ErrEmptyCredential is returned when hashing an empty admin credential.
var ErrEmptyCredential = errors.New("credential must not be empty")

// GenerateAgentToken returns a fresh plaintext agent token.
func GenerateAgentToken() (string, error) {
	buf := make([]byte, agentTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate agent token: %w", err)
	}
	return AgentTokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex sha256 of token. Agent tokens carry 256 bits of
// entropy, so a fast hash is sufficient and allows indexed lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenDisplayPrefix returns the leading characters of token shown to admins.
func TokenDisplayPrefix(token string) string {
	if len(token) <= DisplayPrefixLen {
		return token
	}
	return token[:DisplayPrefixLen]
}

// IsAgentToken reports whether token is shaped like an agent credential.
func IsAgentToken(token string) bool {
	return strings.HasPrefix(token, AgentTokenPrefix)
}

// HashAdminCredential bcrypt-hashes the admin credential for the config file.
func HashAdminCredential(credential string) (string, error) {
	if credential == "" {
		return "", ErrEmptyCredential
	}
	out, err := bcrypt.GenerateFromPassword([]byte(credential), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CheckAdminCredential compares credential with a bcrypt hash.
func CheckAdminCredential(credential, hash string) bool {
	if credential == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)) == nil
}

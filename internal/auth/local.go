// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/tejzpr/meetcute/internal/database"
	"gorm.io/gorm"
)

// ErrInvalidUsername is returned for empty or malformed usernames
var ErrInvalidUsername = errors.New("invalid username")

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@-]{0,63}$`)

// LocalAuthenticator issues tokens for local users without a password.
// It backs the stdio MCP mode and the development login endpoint.
type LocalAuthenticator struct {
	tokenManager     *TokenManager
	useAccessingUser bool // If true, use ACCESSING_USER env var instead of whoami
}

// NewLocalAuthenticator creates a new local authenticator
func NewLocalAuthenticator(tm *TokenManager) *LocalAuthenticator {
	return &LocalAuthenticator{
		tokenManager:     tm,
		useAccessingUser: false,
	}
}

// NewLocalAuthenticatorWithAccessingUser creates a local authenticator that uses ACCESSING_USER env var
func NewLocalAuthenticatorWithAccessingUser(tm *TokenManager) *LocalAuthenticator {
	return &LocalAuthenticator{
		tokenManager:     tm,
		useAccessingUser: true,
	}
}

// GetLocalUsername gets the username based on configuration:
// - If useAccessingUser is true: use ACCESSING_USER env var
// - Otherwise: use whoami
func (l *LocalAuthenticator) GetLocalUsername() (string, error) {
	if l.useAccessingUser {
		username := os.Getenv("ACCESSING_USER")
		if username == "" {
			return "", fmt.Errorf("ACCESSING_USER environment variable is required but not set")
		}
		return strings.TrimSpace(username), nil
	}

	cmd := exec.Command("whoami")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get username via whoami: %w", err)
	}
	username := strings.TrimSpace(string(output))
	if username == "" {
		return "", fmt.Errorf("whoami returned empty username")
	}
	return username, nil
}

// ValidateUsername checks a username supplied by a client
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return nil
}

// Authenticate creates or retrieves the local user and generates a token
func (l *LocalAuthenticator) Authenticate(db *gorm.DB) (*database.User, *database.AuthToken, error) {
	username, err := l.GetLocalUsername()
	if err != nil {
		return nil, nil, err
	}
	return l.AuthenticateUsername(db, username)
}

// AuthenticateUsername finds or creates the named user and generates a token
func (l *LocalAuthenticator) AuthenticateUsername(db *gorm.DB, username string) (*database.User, *database.AuthToken, error) {
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return nil, nil, err
	}

	var user database.User
	result := db.Where("username = ?", username).FirstOrCreate(&user, database.User{
		Username: username,
		Email:    username + "@local",
	})
	if result.Error != nil {
		return nil, nil, fmt.Errorf("failed to create/find user: %w", result.Error)
	}

	token, err := l.tokenManager.Issue(user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &user, token, nil
}

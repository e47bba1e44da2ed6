// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tejzpr/meetcute/internal/database"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
	// ErrUserGone means the token's user was deleted after the token was issued
	ErrUserGone = errors.New("token user no longer exists")
)

// tokenBytes is the entropy of access and refresh tokens
const tokenBytes = 32

// TokenManager issues and checks bearer tokens for the HTTP API.
// An access token lives for the TTL; its refresh token can rotate the pair
// for one more TTL after that.
type TokenManager struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewTokenManager creates a token manager
func NewTokenManager(db *gorm.DB, ttlHours int) *TokenManager {
	return &TokenManager{
		db:  db,
		ttl: time.Duration(ttlHours) * time.Hour,
	}
}

// Issue creates a new access/refresh pair for userID
func (tm *TokenManager) Issue(userID string) (*database.AuthToken, error) {
	access, refresh, err := newTokenPair()
	if err != nil {
		return nil, err
	}

	token := &database.AuthToken{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(tm.ttl),
	}
	if err := tm.db.Omit("User").Create(token).Error; err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return token, nil
}

// Validate checks an access token and loads its user
func (tm *TokenManager) Validate(accessToken string) (*database.AuthToken, error) {
	var token database.AuthToken
	err := tm.db.Preload("User").Where("access_token = ?", accessToken).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}

	if time.Now().After(token.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	// soft-deleted users are not preloaded
	if token.User.ID == "" {
		return nil, ErrUserGone
	}
	return &token, nil
}

// Refresh rotates both halves of the pair that refreshToken belongs to.
// The old refresh token cannot be used again.
func (tm *TokenManager) Refresh(refreshToken string) (*database.AuthToken, error) {
	var token database.AuthToken
	err := tm.db.Where("refresh_token = ?", refreshToken).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("refresh %w", ErrTokenNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh token: %w", err)
	}

	if time.Now().After(token.ExpiresAt.Add(tm.ttl)) {
		return nil, fmt.Errorf("refresh %w", ErrTokenExpired)
	}

	access, refresh, err := newTokenPair()
	if err != nil {
		return nil, err
	}
	expires := time.Now().Add(tm.ttl)

	// guarded on the old refresh token so a concurrent refresh wins only once
	res := tm.db.Model(&database.AuthToken{}).
		Where("id = ? AND refresh_token = ?", token.ID, refreshToken).
		Updates(map[string]interface{}{
			"access_token":  access,
			"refresh_token": refresh,
			"expires_at":    expires,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to rotate token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("refresh %w", ErrTokenNotFound)
	}

	token.AccessToken = access
	token.RefreshToken = refresh
	token.ExpiresAt = expires
	return &token, nil
}

// Revoke deletes one access token
func (tm *TokenManager) Revoke(accessToken string) error {
	result := tm.db.Where("access_token = ?", accessToken).Delete(&database.AuthToken{})
	if result.Error != nil {
		return fmt.Errorf("failed to revoke token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// RevokeUser deletes every token of userID and reports how many were removed
func (tm *TokenManager) RevokeUser(userID string) (int64, error) {
	result := tm.db.Where("user_id = ?", userID).Delete(&database.AuthToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to revoke user tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CleanExpired removes tokens that can no longer be used or refreshed
func (tm *TokenManager) CleanExpired() (int64, error) {
	cutoff := time.Now().Add(-tm.ttl)
	result := tm.db.Where("expires_at < ?", cutoff).Delete(&database.AuthToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean expired tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func newTokenPair() (access, refresh string, err error) {
	if access, err = randomToken(); err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}
	if refresh, err = randomToken(); err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return access, refresh, nil
}

func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Package auth resolves a bearer credential from the connection handshake
// into a verified user identity. It accepts both AES-wrapped and raw JWT
// credentials, or an OIDC ID token when the client names a configured
// provider. Verification failures are reported in exactly three categories:
// expired, invalid, user not found.
package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/teamloop/teamloop/config"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/globals"
	"github.com/teamloop/teamloop/types"
)

// UserLookup is the slice of the store the resolver needs.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
}

type Resolver struct {
	cfg   *config.Config
	users UserLookup
}

func NewResolver(cfg *config.Config, users UserLookup) *Resolver {
	return &Resolver{cfg: cfg, users: users}
}

// Resolve verifies credential and returns the identity it belongs to.
// provider optionally names a configured OIDC provider; otherwise the
// credential is treated as a (possibly wrapped) locally issued JWT.
func (r *Resolver) Resolve(ctx context.Context, credential, provider string) (*types.User, error) {
	if credential == "" {
		return nil, errs.Authentication("missing credential")
	}
	if provider != "" {
		return r.resolveOIDC(ctx, credential, provider)
	}
	token := Unwrap(credential, r.cfg.AuthConfig.TokenUnwrapKey)
	userId, err := VerifyJWT(token, r.cfg.AuthConfig.JWTSecret)
	if err != nil {
		return nil, err
	}
	user, err := r.users.GetUser(ctx, userId)
	if err != nil {
		return nil, errs.Authentication("user not found")
	}
	return user, nil
}

// Unwrap attempts to decrypt an AES-GCM wrapped credential. If key is empty
// or decryption fails in any way, the credential is returned unchanged so
// legacy raw tokens keep working.
func Unwrap(credential, key string) string {
	if key == "" {
		return credential
	}
	raw, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return credential
	}
	k := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return credential
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return credential
	}
	if len(raw) < gcm.NonceSize() {
		return credential
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		globals.AppLogger.Debug("credential unwrap failed, treating as raw token", "error", err)
		return credential
	}
	return string(plain)
}

// Wrap is the inverse of Unwrap, used by the admin CLI to issue wrapped
// tokens.
func Wrap(token, key string, nonce []byte) (string, error) {
	k := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return "", errors.Wrap(err, "could not create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "could not create gcm")
	}
	if len(nonce) != gcm.NonceSize() {
		return "", errors.Errorf("nonce must be %d bytes", gcm.NonceSize())
	}
	sealed := gcm.Seal(nil, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// VerifyJWT validates an HS256 token against secret and returns the subject
// user id.
func VerifyJWT(tokenString, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errs.Authentication("token expired")
		}
		return "", errs.Authentication("invalid token")
	}
	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errs.Authentication("invalid token")
	}
	sub, ok := (*claims)["sub"].(string)
	if !ok || sub == "" {
		return "", errs.Authentication("invalid token")
	}
	return sub, nil
}

// SignJWT issues an HS256 token for userId, used by the admin CLI.
func SignJWT(userId, secret string, ttlSeconds int64, now int64) (string, error) {
	claims := jwt.MapClaims{
		"sub": userId,
		"iat": now,
		"exp": now + ttlSeconds,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

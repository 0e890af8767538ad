// internal/auth/token.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jason-s-yu/gameroom/internal/models"
)

// privateKey and publicKey are used for signing and verifying JWT tokens on the room server.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// TokenExpireTime is how long issued tokens stay valid (0 => never).
	TokenExpireTime time.Duration
)

// parseTokenExpireTime reads TOKEN_EXPIRE_TIME ("never", "0", or a Go duration).
func parseTokenExpireTime() error {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		TokenExpireTime = 0
		return nil
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return fmt.Errorf("failed to parse token expire time: %w", err)
	}
	TokenExpireTime = d
	return nil
}

// Init generates a fresh ed25519 key pair at runtime and sets the token expiration.
func Init() error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return parseTokenExpireTime()
}

// InitFromPath reads ed25519 private/public keys from file and sets the token expiration.
func InitFromPath(privatePath, publicPath string) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	return parseTokenExpireTime()
}

// CreateJWT signs a token for the actor: "sub" = id, plus nickname and role claims.
func CreateJWT(actor models.Actor) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("auth keys not initialized")
	}
	claims := jwt.MapClaims{
		"sub":      actor.ID,
		"nickname": actor.Nickname,
		"role":     string(actor.Role),
	}
	if TokenExpireTime > 0 {
		claims["exp"] = time.Now().Add(TokenExpireTime).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// Authenticate verifies a token signature and returns the actor it identifies.
func Authenticate(tokenString string) (models.Actor, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return models.Actor{}, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return models.Actor{}, fmt.Errorf("invalid token")
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return models.Actor{}, fmt.Errorf("invalid jwt claims")
	}
	return actorFromClaims(claims)
}

// ActorFromToken reads the actor identity out of a bearer token without verifying its
// signature. Clients hold the token opaque and only need to know who they are; the
// server verifies every request.
func ActorFromToken(tokenString string) (models.Actor, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return models.Actor{}, fmt.Errorf("jwt parse error: %w", err)
	}
	return actorFromClaims(claims)
}

func actorFromClaims(claims jwt.MapClaims) (models.Actor, error) {
	id, ok := claims["sub"].(string)
	if !ok || id == "" {
		return models.Actor{}, fmt.Errorf("missing sub in jwt")
	}
	nickname, _ := claims["nickname"].(string)
	if nickname == "" {
		return models.Actor{}, fmt.Errorf("missing nickname in jwt")
	}
	roleStr, _ := claims["role"].(string)
	role, err := models.ParseRole(roleStr)
	if err != nil {
		return models.Actor{}, err
	}
	return models.Actor{ID: id, Nickname: nickname, Role: role}, nil
}

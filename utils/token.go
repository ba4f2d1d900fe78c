package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
)

type JwtCustomClaim struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	jwt.StandardClaims
}

var jwtSecret = []byte(getApiSecret())

func getApiSecret() string {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return "PhotoID-Secret"
	}
	return secret
}

func JwtGenerate(userID int, name string, capabilities []string) (string, error) {
	tokenLifespan, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil {
		tokenLifespan = 24
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		ID:           userID,
		Name:         name,
		Capabilities: capabilities,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour * time.Duration(tokenLifespan)).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})

	return t.SignedString(jwtSecret)
}

func JwtValidate(token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return jwtSecret, nil
	})
}

// Customer re-upload tokens.
//
// A token is a keyed hash over {order id, billing email, random salt}. The
// salt and expiry are retained on the order's ledger (one pair per order),
// so issuing a new token invalidates any previous one, and verification is
// a recompute-and-compare with the stored salt rather than a decode.

// IssueReuploadToken returns the token handed to the customer plus the
// salt and expiry to persist.
func IssueReuploadToken(orderID int, email string, now time.Time, ttl time.Duration) (token, salt string, expiry time.Time, err error) {
	raw := make([]byte, 16)
	if _, err = rand.Read(raw); err != nil {
		return "", "", time.Time{}, err
	}
	salt = hex.EncodeToString(raw)
	return reuploadTokenDigest(orderID, email, salt), salt, now.Add(ttl), nil
}

// VerifyReuploadToken recomputes the digest with the stored salt.
func VerifyReuploadToken(orderID int, email, salt string, expiry time.Time, token string, now time.Time) error {
	if salt == "" || token == "" {
		return ErrTokenMismatch
	}
	expected := reuploadTokenDigest(orderID, email, salt)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(token)) != 1 {
		return ErrTokenMismatch
	}
	if now.After(expiry) {
		return ErrTokenExpired
	}
	return nil
}

func reuploadTokenDigest(orderID int, email, salt string) string {
	mac := hmac.New(sha256.New, jwtSecret)
	fmt.Fprintf(mac, "%d|%s|%s", orderID, email, salt)
	return hex.EncodeToString(mac.Sum(nil))
}

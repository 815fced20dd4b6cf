package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// AdminClaims は管理 API 用の JWT クレーム
type AdminClaims struct {
	Operator string `json:"operator"`
	jwt.StandardClaims
}

// GenerateToken signs an HS256 token for operator valid for ttl.
func GenerateToken(secret []byte, operator string, ttl time.Duration) (string, error) {
	claims := &AdminClaims{
		Operator: operator,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken は署名方式と有効期限を検証してクレームを返す
func ParseToken(secret []byte, tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func IsValidToken(secret []byte, tokenString string) bool {
	_, err := ParseToken(secret, tokenString)
	return err == nil
}

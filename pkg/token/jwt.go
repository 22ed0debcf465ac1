// Package token 提供了 agent 之间调用使用的服务令牌 (JWT)。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager 负责服务令牌的签发和验证。
type JWTManager struct {
	secretKey []byte
	issuer    string
	tokenDur  time.Duration
}

// ServiceClaims 标识调用方服务与目标 agent。
type ServiceClaims struct {
	Service string `json:"service"`
	Agent   string `json:"agent,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
// secret: 用于签名的密钥字符串；issuer: 签发方服务名；ttlMinutes: 令牌有效期（分钟），<=0 时为 10 分钟。
func NewJWTManager(secret, issuer string, ttlMinutes int) *JWTManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	return &JWTManager{
		secretKey: []byte(secret),
		issuer:    issuer,
		tokenDur:  time.Duration(ttlMinutes) * time.Minute,
	}
}

// GenerateServiceToken 为调用 agent 生成一个短期令牌。
func (m *JWTManager) GenerateServiceToken(agent string) (string, error) {
	now := time.Now()
	claims := ServiceClaims{
		Service: m.issuer,
		Agent:   agent,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken 验证给定的 token 字符串，签名不匹配或已过期时返回错误。
func (m *JWTManager) VerifyToken(tokenString string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*ServiceClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

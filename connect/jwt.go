package connect

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// claims the auth service puts in the bearer credential.
// the client never verifies the signature. it only reads the claims
// to seed the identity context; the gateway is the verifier.
type ByJwt struct {
	UserId    string
	UserName  string
	UserAuth  string
	ExpiresAt time.Time
}

func ParseByJwtUnverified(byJwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(byJwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	parsed := &ByJwt{}

	if sub, ok := claims["sub"].(string); ok {
		parsed.UserAuth = sub
	}
	if userId, ok := claims["user_id"].(string); ok {
		parsed.UserId = NormalizeUserId(userId)
	}
	if name, ok := claims["name"].(string); ok {
		parsed.UserName = name
	}
	if exp, ok := claims["exp"].(float64); ok {
		parsed.ExpiresAt = time.Unix(int64(exp), 0)
	}

	return parsed, nil
}

func (self *ByJwt) Expired(now time.Time) bool {
	return !self.ExpiresAt.IsZero() && self.ExpiresAt.Before(now)
}

package oauth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/tnunamak/usagebar/internal/errs"
)

type Claims struct {
	Email   string
	Subject string
	// Plan is the ChatGPT plan type when the token carries one.
	Plan string
}

// IDTokenClaims decodes an id_token without verifying its signature. The
// token is only used for display.
func IDTokenClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, errs.New(errs.KindDataCorrupted, "id_token", err)
	}
	c := Claims{}
	c.Email, _ = mc["email"].(string)
	c.Subject, _ = mc.GetSubject()
	if auth, ok := mc["https://api.openai.com/auth"].(map[string]any); ok {
		c.Plan, _ = auth["chatgpt_plan_type"].(string)
	}
	if c.Email == "" {
		if profile, ok := mc["https://api.openai.com/profile"].(map[string]any); ok {
			c.Email, _ = profile["email"].(string)
		}
	}
	return c, nil
}

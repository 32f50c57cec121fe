// Package serviceauth validates Google identity tokens on inbound
// service-to-service calls via JWKS.
package serviceauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/common"
)

const defaultLeeway = 30 * time.Second

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid service token")
)

// Claims are the fields we care about from a verified identity token.
type Claims struct {
	Subject string
	Email   string
	Issuer  string
}

// Verifier validates identity tokens presented on internal endpoints.
// When the service account allowlist is set, the email claim must match.
type Verifier struct {
	issuer         string
	audience       string
	serviceAccount string
	disabled       bool
	keyfunc        keyfunc.Keyfunc
	parser         *jwt.Parser
	logger         arbor.ILogger
}

// NewVerifier builds a verifier from the service auth config.
func NewVerifier(config *common.ServiceAuthConfig, logger arbor.ILogger) (*Verifier, error) {
	if config.Disabled {
		logger.Warn().Msg("Service token verification is disabled")
		return &Verifier{disabled: true, logger: logger}, nil
	}

	if config.Issuer == "" {
		return nil, errors.New("service auth issuer must be set")
	}
	if config.Audience == "" {
		return nil, errors.New("service auth audience must be set")
	}
	jwksURL := config.JWKSURL
	if jwksURL == "" {
		jwksURL = "https://www.googleapis.com/oauth2/v3/certs"
	}

	keyProvider, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
	}

	parser := jwt.NewParser(
		jwt.WithIssuer(config.Issuer),
		jwt.WithAudience(config.Audience),
		jwt.WithLeeway(defaultLeeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}),
	)

	return &Verifier{
		issuer:         config.Issuer,
		audience:       config.Audience,
		serviceAccount: config.ServiceAccount,
		keyfunc:        keyProvider,
		parser:         parser,
		logger:         logger,
	}, nil
}

// Disabled reports whether verification is bypassed (local development).
func (v *Verifier) Disabled() bool {
	return v.disabled
}

// VerifyAuthorizationHeader extracts the bearer token from an Authorization
// header value and verifies it.
func (v *Verifier) VerifyAuthorizationHeader(header string) (*Claims, error) {
	if v.disabled {
		return &Claims{Subject: "local"}, nil
	}

	token := strings.TrimSpace(header)
	if prefix := "bearer "; len(token) > len(prefix) && strings.EqualFold(token[:len(prefix)], prefix) {
		token = strings.TrimSpace(token[len(prefix):])
	} else {
		return nil, ErrMissingToken
	}

	return v.Verify(token)
}

// Verify parses and validates an identity token.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.Parse(tokenString, v.keyfunc.Keyfunc)
	if err != nil {
		v.logger.Debug().Err(err).Msg("Service token rejected")
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	claims := &Claims{
		Subject: readString(mapClaims, "sub"),
		Email:   readString(mapClaims, "email"),
		Issuer:  readString(mapClaims, "iss"),
	}

	if v.serviceAccount != "" && !strings.EqualFold(claims.Email, v.serviceAccount) {
		v.logger.Warn().Str("email", claims.Email).Msg("Service token email not allowed")
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

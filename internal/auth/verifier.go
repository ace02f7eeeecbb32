package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-antar/internal/common"
)

const (
	RoleCustomer      = "customer"
	RoleEstablishment = "establishment"
	RoleDriver        = "driver"
	RoleAdmin         = "admin"

	claimRole          = "role"
	claimEstablishment = "establishment_id"
)

var knownRoles = map[string]bool{
	RoleCustomer:      true,
	RoleEstablishment: true,
	RoleDriver:        true,
	RoleAdmin:         true,
}

// Verifier checks access tokens issued by the identity provider and turns
// them into principals.
type Verifier struct {
	secret    []byte
	validator TokenValidator
	now       func() time.Time
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Now       func() time.Time
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		secret: []byte(cfg.Secret),
		validator: TokenValidator{
			Issuer:    cfg.Issuer,
			Audience:  cfg.Audience,
			ClockSkew: cfg.ClockSkew,
			Algorithm: jwa.HS256,
		},
		now: now,
	}, nil
}

// Parse validates the token and returns the principal it carries.
func (v *Verifier) Parse(token string) (common.Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return common.Principal{}, unauthorized(nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return common.Principal{}, unauthorized(err)
	}
	if algorithm != v.validator.Algorithm {
		return common.Principal{}, unauthorized(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.secret), jwt.WithValidate(false))
	if err != nil {
		return common.Principal{}, unauthorized(err)
	}
	if err := v.validator.Validate(parsed, algorithm, v.now()); err != nil {
		return common.Principal{}, unauthorized(err)
	}

	p := common.Principal{UserID: parsed.Subject(), Role: RoleCustomer}
	if p.UserID == "" {
		return common.Principal{}, unauthorized(errors.New("auth: token missing subject"))
	}
	if raw, ok := parsed.Get(claimRole); ok {
		role, _ := raw.(string)
		if !knownRoles[role] {
			return common.Principal{}, unauthorized(fmt.Errorf("auth: unknown role %q", role))
		}
		p.Role = role
	}
	if raw, ok := parsed.Get(claimEstablishment); ok {
		p.EstablishmentID, _ = raw.(string)
	}
	if p.Role == RoleEstablishment && p.EstablishmentID == "" {
		return common.Principal{}, unauthorized(errors.New("auth: establishment token missing establishment_id"))
	}
	return p, nil
}

// Issue signs a token for p. The identity provider normally mints tokens; this
// is used by the seeder and tests.
func (v *Verifier) Issue(p common.Principal, ttl time.Duration) (string, error) {
	now := v.now()
	builder := jwt.NewBuilder().
		Subject(p.UserID).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(ttl)).
		Claim(claimRole, p.Role)
	if v.validator.Issuer != "" {
		builder = builder.Issuer(v.validator.Issuer)
	}
	if v.validator.Audience != "" {
		builder = builder.Audience([]string{v.validator.Audience})
	}
	if p.EstablishmentID != "" {
		builder = builder.Claim(claimEstablishment, p.EstablishmentID)
	}
	token, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func unauthorized(err error) *common.AppError {
	return common.NewAppError("UNAUTHORIZED", "missing or invalid token", http.StatusUnauthorized, err)
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" || alg == jwa.NoSignature {
			return "", errors.New("auth: token missing algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}

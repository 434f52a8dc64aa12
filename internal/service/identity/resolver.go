package identity

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
)

// Config задаёт параметры проверки токенов.
type Config struct {
	// Secret: ключ HS256; без него токены не принимаются.
	Secret []byte
	// Issuer, если задан, сверяется с claim iss.
	Issuer string
	// AllowAnonymous разрешает запросы без токена (только для разработки).
	AllowAnonymous bool
}

// Resolver превращает Bearer-токен в CallerIdentity.
type Resolver struct {
	config Config
	parser *jwt.Parser
	logger *log.Entry
}

// NewResolver создаёт resolver.
func NewResolver(config Config, logger *log.Entry) *Resolver {
	if logger == nil {
		logger = log.New().WithField("component", "identity")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}

	return &Resolver{
		config: config,
		parser: jwt.NewParser(opts...),
		logger: logger,
	}
}

// AllowsAnonymous сообщает, разрешены ли запросы без токена.
func (r *Resolver) AllowsAnonymous() bool {
	return r.config.AllowAnonymous
}

// Resolve возвращает идентичность вызывающего или ошибку, совместимую с domain.ErrUnauthenticated.
func (r *Resolver) Resolve(credential string) (domain.CallerIdentity, error) {
	if credential == "" {
		if r.config.AllowAnonymous {
			return domain.Anonymous(), nil
		}
		return domain.CallerIdentity{}, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthenticated)
	}
	if len(r.config.Secret) == 0 {
		return domain.CallerIdentity{}, fmt.Errorf("%w: token verification is not configured", domain.ErrUnauthenticated)
	}

	claims := jwt.MapClaims{}
	_, err := r.parser.ParseWithClaims(credential, claims, func(*jwt.Token) (interface{}, error) {
		return r.config.Secret, nil
	})
	if err != nil {
		r.logger.WithError(err).Debug("bearer token rejected")
		return domain.CallerIdentity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	callerID, err := callerIDFromClaims(claims)
	if err != nil {
		return domain.CallerIdentity{}, err
	}
	return domain.Authenticated(callerID, credential), nil
}

// callerIDFromClaims берёт sub, а при его отсутствии userId.
func callerIDFromClaims(claims jwt.MapClaims) (string, error) {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}

	switch v := claims["userId"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: %w", domain.ErrUnauthenticated, errMissingSubject)
}

var errMissingSubject = errors.New("token has neither sub nor userId claim")

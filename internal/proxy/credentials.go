package proxy

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aiproxy-go/internal/cache"
	"aiproxy-go/internal/constants"
	apperrors "aiproxy-go/internal/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TempCredentialRequest is the body of POST /credentials.
type TempCredentialRequest struct {
	Model      string `json:"model,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	Logging    bool   `json:"logging,omitempty"`
}

// tempCredentialClaims are signed with the issuing caller's token.
type tempCredentialClaims struct {
	Model   string `json:"model,omitempty"`
	Logging bool   `json:"logging,omitempty"`
	jwt.RegisteredClaims
}

// tempCredentialRecord is stored in the encrypted cache under the jti.
type tempCredentialRecord struct {
	AuthToken string `json:"auth_token"`
	Model     string `json:"model,omitempty"`
	Logging   bool   `json:"logging,omitempty"`
}

var errNotTempCredential = errors.New("not a temporary credential")

// Credentials issues and resolves temporary credentials: short-lived JWTs
// whose jti indexes the issuing caller's token in the encrypted cache.
type Credentials struct {
	store  *cache.Encrypted
	secret []byte
	now    func() time.Time
}

// NewCredentials returns a temporary credential service over store. secret
// keys the stored records; without one a random key is generated and
// credentials stop resolving after a restart.
func NewCredentials(store *cache.Encrypted, secret []byte) *Credentials {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("temporary credential key: %v", err))
		}
		log.Warn("no temporary credential secret configured, using a per-process key")
	}
	return &Credentials{store: store, secret: secret, now: time.Now}
}

// recordKey derives the storage key and the record encryption key for jti.
// The jti travels in the token, so the encryption key also needs the
// server secret.
func (c *Credentials) recordKey(jti string) (key, encKey string) {
	key = constants.TempCredentialKeyPrefix + cache.Digest(jti)
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(key + ":" + jti))
	return key, hex.EncodeToString(mac.Sum(nil))
}

// Issue creates a temporary credential for authToken.
func (c *Credentials) Issue(ctx context.Context, authToken string, body []byte) (string, error) {
	var req TempCredentialRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return "", apperrors.BadRequest("invalid credential request body: " + err.Error())
		}
	}
	ttl := req.TTLSeconds
	if ttl == 0 {
		ttl = constants.TempCredentialDefaultTTL
	}
	if ttl < 1 || ttl > constants.TempCredentialMaxTTL {
		return "", apperrors.BadRequest(fmt.Sprintf("ttl_seconds must be between 1 and %d", constants.TempCredentialMaxTTL))
	}

	now := c.now()
	jti := uuid.NewString()
	claims := tempCredentialClaims{
		Model:   req.Model,
		Logging: req.Logging,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    constants.TempCredentialIssuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttl) * time.Second)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(authToken))
	if err != nil {
		return "", fmt.Errorf("sign temporary credential: %w", err)
	}
	raw, err := json.Marshal(tempCredentialRecord{AuthToken: authToken, Model: req.Model, Logging: req.Logging})
	if err != nil {
		return "", err
	}
	key, encKey := c.recordKey(jti)
	if err := c.store.Put(ctx, encKey, key, raw, time.Duration(ttl)*time.Second); err != nil {
		return "", fmt.Errorf("store temporary credential: %w", err)
	}
	return signed, nil
}

// Resolve maps a temporary credential back to the issuing token. Tokens that
// are not JWTs from this issuer return errNotTempCredential so the caller
// can use them as-is.
func (c *Credentials) Resolve(ctx context.Context, token, model string) (string, error) {
	if strings.Count(token, ".") != 2 {
		return "", errNotTempCredential
	}
	var unverified tempCredentialClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &unverified); err != nil || unverified.Issuer != constants.TempCredentialIssuer || unverified.ID == "" {
		return "", errNotTempCredential
	}

	key, encKey := c.recordKey(unverified.ID)
	raw, err := c.store.Get(ctx, encKey, key)
	if err != nil {
		return "", apperrors.Unauthorized("temporary credential expired or unknown")
	}
	var rec tempCredentialRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", apperrors.Unauthorized("temporary credential unreadable")
	}

	var claims tempCredentialClaims
	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(rec.AuthToken), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(constants.TempCredentialIssuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", apperrors.Unauthorized("invalid temporary credential: " + err.Error())
	}
	if claims.Model != "" && model != "" && claims.Model != model {
		return "", apperrors.BadRequest(fmt.Sprintf("temporary credential is restricted to model %q", claims.Model))
	}
	return rec.AuthToken, nil
}

func credentialResponse(key string) []byte {
	out, _ := json.Marshal(map[string]string{"key": key})
	return out
}

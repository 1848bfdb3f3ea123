package coinbase

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthType selects the authentication strategy. The strategy is chosen
// once at startup from configuration, never per call.
type AuthType string

const (
	AuthTypeHMAC AuthType = "hmac"
	AuthTypeJWT  AuthType = "jwt"
)

// jwtExpiry is the lifetime of a bearer token. Tokens are minted fresh
// for every call and never cached.
const jwtExpiry = 2 * time.Minute

// Authenticator attaches per-request credentials. Implementations are
// pure functions of (method, path, body) plus long-lived key material;
// timestamps and token expiries are call-scoped.
type Authenticator interface {
	AddAuthHeaders(req *http.Request, method, path, body string) error
}

// HMACAuthenticator signs requests with the API key/secret scheme. The
// exchange hands out the secret base64-encoded; it is decoded once at
// construction and a non-base64 secret is a configuration error.
type HMACAuthenticator struct {
	apiKey     string
	secret     []byte
	passphrase string
}

func NewHMACAuthenticator(apiKey, apiSecret, passphrase string) (*HMACAuthenticator, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("hmac auth requires an api key and secret")
	}
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("api secret is not valid base64: %w", err)
	}
	return &HMACAuthenticator{
		apiKey:     apiKey,
		secret:     secret,
		passphrase: passphrase,
	}, nil
}

func (a *HMACAuthenticator) AddAuthHeaders(req *http.Request, method, path, body string) error {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("CB-ACCESS-KEY", a.apiKey)
	req.Header.Set("CB-ACCESS-SIGN", a.sign(timestamp, method, path, body))
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	if a.passphrase != "" {
		req.Header.Set("CB-ACCESS-PASSPHRASE", a.passphrase)
	}
	return nil
}

func (a *HMACAuthenticator) sign(timestamp, method, path, body string) string {
	message := timestamp + method + path + body
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// JWTAuthenticator mints a short-lived ES256 bearer token bound to the
// request's method, host, and path.
type JWTAuthenticator struct {
	apiKeyName string
	privateKey *ecdsa.PrivateKey
}

func NewJWTAuthenticator(apiKeyName, privateKeyPEM string) (*JWTAuthenticator, error) {
	if apiKeyName == "" {
		return nil, fmt.Errorf("jwt auth requires an api key name")
	}
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		// Some key exports use PKCS8 instead of SEC1.
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		var ok bool
		privateKey, ok = key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an EC private key")
		}
	}

	return &JWTAuthenticator{
		apiKeyName: apiKeyName,
		privateKey: privateKey,
	}, nil
}

func (j *JWTAuthenticator) AddAuthHeaders(req *http.Request, method, path, body string) error {
	token, err := j.generateJWT(method + " " + req.Host + path)
	if err != nil {
		return fmt.Errorf("failed to generate JWT: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Token mints a bearer token without a bound URI, as the websocket user
// channel requires.
func (j *JWTAuthenticator) Token() (string, error) {
	return j.generateJWT("")
}

func (j *JWTAuthenticator) generateJWT(uri string) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   j.apiKeyName,
		"iss":   "coinbase-cloud",
		"nbf":   now.Unix(),
		"exp":   now.Add(jwtExpiry).Unix(),
		"nonce": nonce,
	}
	if uri != "" {
		claims["uri"] = uri
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = j.apiKeyName
	token.Header["nonce"] = nonce

	tokenString, err := token.SignedString(j.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

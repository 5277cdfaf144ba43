package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	apnsProductionURL = "https://api.push.apple.com"
	apnsSandboxURL    = "https://api.sandbox.push.apple.com"

	// APNs provider tokens are valid for up to 60 minutes.
	apnsTokenRefreshInterval = 50 * time.Minute
)

// APNsSender sends pushes via Apple Push Notification service using the
// token-based (JWT) HTTP/2 provider API. Calls go out as VoIP pushes,
// messages as alerts.
type APNsSender struct {
	client  *http.Client
	baseURL string
	topic   string // app bundle id

	key    *ecdsa.PrivateKey
	keyID  string
	teamID string
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
}

// APNsConfig holds the configuration for creating an APNsSender.
type APNsConfig struct {
	// KeyFile is the path to the .p8 private key file from Apple.
	KeyFile string
	// KeyID is the 10-character key identifier from Apple.
	KeyID string
	// TeamID is the 10-character Apple Developer Team ID.
	TeamID string
	// BundleID is the app's bundle identifier, used as the APNs topic.
	BundleID string
	// Sandbox uses the APNs sandbox environment instead of production.
	Sandbox bool
	// BaseURL overrides the APNs endpoint.
	BaseURL string
}

// NewAPNsSender creates an APNsSender from the given configuration.
func NewAPNsSender(cfg APNsConfig, logger *slog.Logger) (*APNsSender, error) {
	if cfg.KeyFile == "" {
		return nil, errors.New("apns: key file path is required")
	}
	keyData, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("apns: reading key file: %w", err)
	}
	key, err := parseP8PrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("apns: parsing p8 key: %w", err)
	}
	return newAPNsSender(cfg, key, logger)
}

func newAPNsSender(cfg APNsConfig, key *ecdsa.PrivateKey, logger *slog.Logger) (*APNsSender, error) {
	if cfg.KeyID == "" {
		return nil, errors.New("apns: key id is required")
	}
	if cfg.TeamID == "" {
		return nil, errors.New("apns: team id is required")
	}
	if cfg.BundleID == "" {
		return nil, errors.New("apns: bundle id is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = apnsProductionURL
		if cfg.Sandbox {
			baseURL = apnsSandboxURL
		}
	}

	logger = logger.With("subsystem", "apns")
	logger.Info("apns sender initialised", "key_id", cfg.KeyID, "team_id", cfg.TeamID, "topic", cfg.BundleID, "sandbox", cfg.Sandbox)

	return &APNsSender{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		topic:   cfg.BundleID,
		key:     key,
		keyID:   cfg.KeyID,
		teamID:  cfg.TeamID,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Send delivers p to an APNs device token and returns the apns-id.
func (a *APNsSender) Send(ctx context.Context, p Push) (string, error) {
	if p.Platform != PlatformAPNs {
		return "", fmt.Errorf("apns sender: unsupported platform %q", p.Platform)
	}

	providerToken, err := a.providerToken()
	if err != nil {
		return "", fmt.Errorf("apns: generating provider token: %w", err)
	}

	body, err := buildAPNsPayload(p)
	if err != nil {
		return "", fmt.Errorf("apns: building payload: %w", err)
	}

	url := fmt.Sprintf("%s/3/device/%s", a.baseURL, p.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("apns: creating request: %w", err)
	}

	req.Header.Set("Authorization", "bearer "+providerToken)
	req.Header.Set("Content-Type", "application/json")
	if p.Kind == KindCall {
		req.Header.Set("apns-topic", a.topic+".voip")
		req.Header.Set("apns-push-type", "voip")
		req.Header.Set("apns-priority", "10")
		req.Header.Set("apns-expiration", "0")
	} else {
		req.Header.Set("apns-topic", a.topic)
		req.Header.Set("apns-push-type", "alert")
		req.Header.Set("apns-priority", "10")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("apns: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		apnsID := resp.Header.Get("apns-id")
		a.logger.Debug("apns notification sent", "apns_id", apnsID, "kind", p.Kind)
		return apnsID, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var apnsErr apnsErrorResponse
	if err := json.Unmarshal(respBody, &apnsErr); err == nil && apnsErr.Reason != "" {
		if apnsErr.Reason == "ExpiredProviderToken" {
			a.mu.Lock()
			a.cachedToken = ""
			a.mu.Unlock()
		}
		return "", fmt.Errorf("apns: %s (status %d)", apnsErr.Reason, resp.StatusCode)
	}
	return "", fmt.Errorf("apns: unexpected status %d: %s", resp.StatusCode, string(respBody))
}

// providerToken returns a cached JWT provider token, refreshing it when
// nearing expiry.
func (a *APNsSender) providerToken() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.cachedToken != "" && now.Before(a.tokenExpiry) {
		return a.cachedToken, nil
	}

	claims := jwt.RegisteredClaims{
		Issuer:   a.teamID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = a.keyID

	signed, err := tok.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}

	a.cachedToken = signed
	a.tokenExpiry = now.Add(apnsTokenRefreshInterval)
	return signed, nil
}

type apnsErrorResponse struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type apnsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type apnsAps struct {
	Alert *apnsAlert `json:"alert,omitempty"`
	Sound string     `json:"sound,omitempty"`
}

// buildAPNsPayload puts p.Data at the top level, next to "aps" for alerts.
// VoIP pushes carry no aps dictionary.
func buildAPNsPayload(p Push) ([]byte, error) {
	body := make(map[string]any, len(p.Data)+1)
	for k, v := range p.Data {
		body[k] = v
	}
	if p.Kind != KindCall {
		body["aps"] = apnsAps{
			Alert: &apnsAlert{Title: p.Title, Body: p.Body},
			Sound: "default",
		}
	}
	return json.Marshal(body)
}

// parseP8PrivateKey parses an Apple .p8 private key file (PKCS#8 PEM-encoded
// ECDSA P-256 key).
func parseP8PrivateKey(pemData []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 key: %w", err)
	}

	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("key is not ECDSA")
	}
	return ecKey, nil
}

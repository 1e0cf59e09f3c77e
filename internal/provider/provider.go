// Package provider is the client for the mobile verification provider.
// It signs requests, sends and verifies OTPs, and fetches application
// details for verified customers.
package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/real-rm/golog"
	"github.com/real-rm/supportbot/internal/constants"
	chaterrors "github.com/real-rm/supportbot/internal/errors"
	"github.com/real-rm/supportbot/internal/metrics"
	"github.com/real-rm/supportbot/internal/util"
)

// ErrNoOTPSession is returned when verification is attempted without a
// provider session from a prior OTP send.
var ErrNoOTPSession = errors.New("no OTP session; request a new OTP")

// API paths on the provider.
const (
	pathSendOTP    = "/CustomerCareAPI/GetMobileOtp"
	pathVerifyOTP  = "/CustomerCareAPI/AuthenticateMobileOTP"
	pathAppDetails = "/CustomerCareAPI/getApplicationDetails"
)

// Config holds the provider client configuration.
type Config struct {
	BaseURL    string
	ClientCode string
	AccessKey  string
	// InsecureSkipVerify disables TLS certificate checks. The provider's
	// internal endpoints use self-signed certificates in non-production.
	InsecureSkipVerify bool
}

// Client talks to the verification provider over HTTPS.
type Client struct {
	config Config
	client *http.Client
	logger *golog.Logger
}

// NewClient creates a provider client.
func NewClient(config Config, logger *golog.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("provider base URL cannot be empty")
	}
	if config.AccessKey == "" {
		return nil, errors.New("provider access key cannot be empty")
	}

	transport := http.DefaultTransport
	if config.InsecureSkipVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402
		}
	}

	return &Client{
		config: config,
		client: &http.Client{
			Timeout:   constants.OTPRequestTimeout,
			Transport: transport,
		},
		logger: logger,
	}, nil
}

// RequestOTP asks the provider to send an OTP to mobile.
// It returns the provider session ID to use during verification; the ID may
// be empty when the provider reports success without one.
func (c *Client) RequestOTP(ctx context.Context, mobile string) (string, error) {
	meta := newRequestMeta(c.config.ClientCode, c.config.AccessKey, time.Now())
	payload := map[string]interface{}{
		"meta": meta,
		"userdetails": map[string]string{
			"mobileno": mobile,
		},
	}

	data, err := c.post(ctx, "send_otp", pathSendOTP, payload)
	if err != nil {
		metrics.OTPRequests.WithLabelValues("error").Inc()
		return "", chaterrors.ErrProviderError("send_otp", err)
	}

	sessionID := extractSessionID(data)
	statusOK := extractStatus(data) == "1"
	_, hasErrMsg := data["errorMessage"]

	sent := sessionID != "" || (statusOK && !hasErrMsg)
	if !sent {
		msg := extractErrorMessage(data, "Unknown API Error")
		metrics.OTPRequests.WithLabelValues("rejected").Inc()
		return "", chaterrors.ErrProviderRejected("send_otp", msg)
	}

	metrics.OTPRequests.WithLabelValues("success").Inc()
	return sessionID, nil
}

// VerifyOTP checks the OTP the user entered against the provider session.
// A nil error means the user is verified; a *ChatError with code
// PROVIDER_REJECTED means the code was wrong.
func (c *Client) VerifyOTP(ctx context.Context, mobile, otp, otpSessionID string) error {
	if otpSessionID == "" {
		return ErrNoOTPSession
	}

	meta := newRequestMeta(c.config.ClientCode, c.config.AccessKey, time.Now())
	meta.SessionID = otpSessionID
	payload := map[string]interface{}{
		"meta": meta,
		"userdetails": map[string]string{
			"mobileno": mobile,
			"OTP":      otp,
		},
	}

	data, err := c.post(ctx, "verify_otp", pathVerifyOTP, payload)
	if err != nil {
		metrics.OTPVerifications.WithLabelValues("error").Inc()
		return chaterrors.ErrProviderError("verify_otp", err)
	}

	if extractStatus(data) != "1" {
		msg := extractErrorMessage(data, "Invalid OTP")
		metrics.OTPVerifications.WithLabelValues("rejected").Inc()
		return chaterrors.ErrProviderRejected("verify_otp", msg)
	}

	metrics.OTPVerifications.WithLabelValues("success").Inc()
	return nil
}

// GetApplicationDetails fetches the customer's application records for a
// verified mobile number. The provider masks PII server-side; the raw JSON
// document is returned for downstream summarization.
func (c *Client) GetApplicationDetails(ctx context.Context, mobile string) (map[string]interface{}, error) {
	meta := newRequestMeta(c.config.ClientCode, c.config.AccessKey, time.Now())
	payload := map[string]interface{}{
		"meta": meta,
		"details": map[string]string{
			"mobileNo":    mobile,
			"isPIIMasked": "1",
		},
	}

	data, err := c.post(ctx, "application_details", pathAppDetails, payload)
	if err != nil {
		return nil, chaterrors.ErrProviderError("application_details", err)
	}
	return data, nil
}

// post sends a signed JSON request and decodes the JSON response.
func (c *Client) post(ctx context.Context, operation, path string, payload interface{}) (map[string]interface{}, error) {
	startTime := time.Now()

	bodyBytes, err := util.MarshalJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var data map[string]interface{}
	if err := util.UnmarshalJSON(respBody, &data); err != nil {
		return nil, fmt.Errorf("provider returned non-JSON response (status %d): %w", resp.StatusCode, err)
	}

	metrics.ProviderLatency.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())
	c.logger.Info("Provider call completed",
		"operation", operation,
		"status", resp.StatusCode,
		"duration_ms", time.Since(startTime).Milliseconds())
	return data, nil
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/levelwatch/internal/buffer"
	"github.com/rickgao/levelwatch/internal/model"
)

const (
	// DefaultTwilioURL is the Twilio REST API base URL.
	DefaultTwilioURL = "https://api.twilio.com"

	// DefaultSentHistory is how many delivered messages Sent keeps.
	DefaultSentHistory = 100
)

// Errors
var (
	ErrMissingCredentials = errors.New("sms account sid, auth token, from and to are required")
)

// TwilioError is an error response from the Twilio API.
type TwilioError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *TwilioError) Error() string {
	return fmt.Sprintf("twilio error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *TwilioError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// SMSConfig holds Twilio credentials and phone numbers.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// SentMessage records one delivered SMS.
type SentMessage struct {
	SID      string
	Message  string
	Priority model.AlertPriority
	SentAt   time.Time
}

// SMSNotifier sends messages through the Twilio Messages API.
type SMSNotifier struct {
	cfg        SMSConfig
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter

	maxRetries   int
	retryBackoff time.Duration

	sent      *buffer.Ring[SentMessage]
	sentCount atomic.Int64
}

// SMSOption configures an SMSNotifier.
type SMSOption func(*SMSNotifier)

// NewSMSNotifier creates an SMSNotifier. By default it allows one message
// per second with a burst of 5.
func NewSMSNotifier(cfg SMSConfig, opts ...SMSOption) (*SMSNotifier, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" || cfg.To == "" {
		return nil, ErrMissingCredentials
	}
	n := &SMSNotifier{
		cfg:     cfg,
		baseURL: DefaultTwilioURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		limiter:      rate.NewLimiter(rate.Every(time.Second), 5),
		maxRetries:   3,
		retryBackoff: time.Second,
		sent:         buffer.NewRing[SentMessage](DefaultSentHistory),
	}

	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "sms_notifier")

	n.logger.Info("sms notifier initialized", "to", maskNumber(cfg.To))
	return n, nil
}

// WithBaseURL points the notifier at a different API host.
func WithBaseURL(u string) SMSOption {
	return func(n *SMSNotifier) {
		n.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) SMSOption {
	return func(n *SMSNotifier) {
		n.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) SMSOption {
	return func(n *SMSNotifier) {
		n.maxRetries = max
		n.retryBackoff = backoff
	}
}

// WithRateLimit sets the sustained message rate and burst.
func WithRateLimit(every time.Duration, burst int) SMSOption {
	return func(n *SMSNotifier) {
		n.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

// WithSentHistory sets how many delivered messages are kept for Sent.
func WithSentHistory(size int) SMSOption {
	return func(n *SMSNotifier) {
		n.sent = buffer.NewRing[SentMessage](size)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SMSOption {
	return func(n *SMSNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) SMSOption {
	return func(n *SMSNotifier) {
		n.httpClient = hc
	}
}

// Send texts the message, prefixed by priority. It waits for the rate
// limiter and retries transient API errors.
func (n *SMSNotifier) Send(ctx context.Context, message string, priority model.AlertPriority) bool {
	body := withPrefix(message, priority)

	if err := n.limiter.Wait(ctx); err != nil {
		n.logger.Warn("sms rate limited", "error", err)
		return false
	}

	sid, err := n.sendWithRetry(ctx, body)
	if err != nil {
		n.logger.Error("failed to send sms", "error", err)
		return false
	}

	n.sent.Push(SentMessage{SID: sid, Message: body, Priority: priority, SentAt: time.Now()})
	n.sentCount.Add(1)

	n.logger.Info("sms sent", "sid", sid, "priority", priority)
	return true
}

// Sent returns the most recently delivered messages, oldest first.
func (n *SMSNotifier) Sent() []SentMessage {
	return n.sent.Snapshot()
}

// SentCount returns how many messages were delivered since creation.
func (n *SMSNotifier) SentCount() int64 {
	return n.sentCount.Load()
}

// MessageStatus fetches the delivery status of a sent message.
func (n *SMSNotifier) MessageStatus(ctx context.Context, sid string) (string, error) {
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages/%s.json", url.PathEscape(n.cfg.AccountSID), url.PathEscape(sid))
	var resp messageResponse
	if err := n.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// sendWithRetry posts a message with jittered exponential backoff.
func (n *SMSNotifier) sendWithRetry(ctx context.Context, body string) (string, error) {
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", url.PathEscape(n.cfg.AccountSID))
	form := url.Values{
		"To":   {n.cfg.To},
		"From": {n.cfg.From},
		"Body": {body},
	}

	var lastErr error
	backoff := n.retryBackoff

	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			// backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			n.logger.Debug("retrying sms", "attempt", attempt, "backoff", jitter)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		var resp messageResponse
		err := n.do(ctx, http.MethodPost, path, form, &resp)
		if err == nil {
			return resp.SID, nil
		}
		lastErr = err

		var apiErr *TwilioError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (n *SMSNotifier) do(ctx context.Context, method, path string, form url.Values, result any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &TwilioError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// maskNumber hides all but the last four digits of a phone number.
func maskNumber(num string) string {
	if len(num) <= 4 {
		return num
	}
	return strings.Repeat("*", len(num)-4) + num[len(num)-4:]
}

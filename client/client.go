// Package client is the policy-core SDK for task executors. It wraps the
// decision endpoint with an explicit shadow/enforce mode and an explicit
// fail-open/fail-closed policy for engine outages. The fail mode has no
// default: callers must own the choice.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/taskops/policy-core/models"
	"go.uber.org/zap"
)

// Mode controls whether verdicts are enforced or only observed
type Mode string

const (
	// ModeShadow evaluates and records verdicts but always proceeds
	ModeShadow Mode = "shadow"

	// ModeEnforce blocks execution on deny and requires-approval verdicts
	ModeEnforce Mode = "enforce"
)

// FailMode controls behavior when the decision engine is unreachable
type FailMode string

const (
	// FailOpen treats an unreachable engine as allow
	FailOpen FailMode = "open"

	// FailClosed treats an unreachable engine as deny
	FailClosed FailMode = "closed"
)

// FallbackPolicyID marks verdicts synthesized by the client when the engine
// could not be reached.
const FallbackPolicyID = "fallback"

// Config holds client settings. FailMode is required; there is no implicit
// default for outage behavior.
type Config struct {
	BaseURL  string
	Mode     Mode
	FailMode FailMode
	Timeout  time.Duration
}

// Client calls the policy-core decision endpoint
type Client struct {
	baseURL  string
	mode     Mode
	failMode FailMode
	http     *http.Client
	logger   *zap.Logger
}

// New creates a new Client. Returns an error when BaseURL is empty or
// FailMode is unset or unknown.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: base url is required")
	}
	switch cfg.FailMode {
	case FailOpen, FailClosed:
	case "":
		return nil, fmt.Errorf("client: fail mode must be set explicitly to %q or %q", FailOpen, FailClosed)
	default:
		return nil, fmt.Errorf("client: unknown fail mode %q", cfg.FailMode)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeShadow
	}
	if mode != ModeShadow && mode != ModeEnforce {
		return nil, fmt.Errorf("client: unknown mode %q", cfg.Mode)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		mode:     mode,
		failMode: cfg.FailMode,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Evaluate posts the request to the decision endpoint. On transport errors,
// timeouts or malformed responses it returns the configured fallback verdict
// instead of failing; the error channel is reserved for programming mistakes
// such as an unmarshalable request.
func (c *Client) Evaluate(ctx context.Context, req models.DecisionRequest) (*models.DecisionResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("client: failed to marshal decision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/decision", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("client: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.fallback(err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.fallback(fmt.Sprintf("unexpected status %d", resp.StatusCode)), nil
	}

	var envelope struct {
		Data *models.DecisionResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Data == nil {
		return c.fallback("invalid_policy_response"), nil
	}

	return envelope.Data, nil
}

// Enforce reports whether execution should proceed for the given verdict.
// Shadow mode always proceeds.
func (c *Client) Enforce(result *models.DecisionResult) bool {
	if c.mode != ModeEnforce {
		return true
	}
	return result != nil && result.Allow
}

// Mode returns the configured mode
func (c *Client) Mode() Mode {
	return c.mode
}

// FailMode returns the configured fail mode
func (c *Client) FailMode() FailMode {
	return c.failMode
}

func (c *Client) fallback(detail string) *models.DecisionResult {
	open := c.failMode == FailOpen
	decision := models.DecisionDeny
	if open {
		decision = models.DecisionAllow
	}

	c.logger.Warn("decision engine unreachable, applying fail mode",
		zap.String("fail_mode", string(c.failMode)),
		zap.String("detail", detail))

	return &models.DecisionResult{
		PolicyID:         FallbackPolicyID,
		PolicyVersion:    FallbackPolicyID,
		Decision:         decision,
		Allow:            open,
		RequiresApproval: !open,
		RiskScore:        0,
		Reasons:          []string{models.ReasonPolicyUnavailable},
	}
}

// Package detection is the gRPC client for the remote PII detection engine.
package detection

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
)

const (
	serviceName   = "pii.DetectionService"
	methodAnalyze = "/" + serviceName + "/Analyze"
)

// Analyzer is what the orchestrator needs from the detection side.
type Analyzer interface {
	Analyze(ctx context.Context, text string) ([]*pii.DetectedEntity, error)
}

// Client drives the detection engine over a long-lived gRPC connection.
// The engine's handlers are JSON-framed, so calls select the json codec.
type Client struct {
	cfg    *config.DetectionConfig
	logger *zap.Logger

	mu          sync.Mutex
	conn        *grpc.ClientConn
	reconnected bool

	dial func(addr string) (*grpc.ClientConn, error)
}

// NewClient connects to the detection engine. The connection is lazy; gRPC
// establishes transport on first use.
func NewClient(cfg *config.DetectionConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.NewConfigError("detection engine address is required")
	}

	c := &Client{cfg: cfg, logger: logger, dial: dialEngine}
	conn, err := c.dial(cfg.Addr)
	if err != nil {
		return nil, errors.NewTransientError("detection", "failed to create engine connection").WithCause(err)
	}
	c.conn = conn
	return c, nil
}

func dialEngine(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
}

// Analyze submits text and returns the findings above the configured
// threshold. Whitespace-only input short-circuits without touching the
// engine.
func (c *Client) Analyze(ctx context.Context, text string) ([]*pii.DetectedEntity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	req := &AnalyzeRequest{
		Text:             text,
		DefaultThreshold: c.cfg.DefaultThreshold,
		LabelsPerBatch:   c.cfg.LabelsPerBatch,
		Detectors:        c.enabledDetectors(),
	}

	resp, err := c.invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	entities := make([]*pii.DetectedEntity, 0, len(resp.Entities))
	for _, w := range resp.Entities {
		entity, err := pii.NewDetectedEntity(w.Label, w.Start, w.End, w.Score, w.Text, w.Context)
		if err != nil {
			c.logger.Warn("detection engine returned invalid entity",
				zap.String("label", w.Label),
				zap.Int("start", w.Start),
				zap.Int("end", w.End),
				zap.Error(err))
			continue
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func (c *Client) enabledDetectors() []string {
	var detectors []string
	if c.cfg.GlinerEnabled {
		detectors = append(detectors, string(pii.DetectorGliner))
	}
	if c.cfg.PresidioEnabled {
		detectors = append(detectors, string(pii.DetectorPresidio))
	}
	if c.cfg.RegexEnabled {
		detectors = append(detectors, string(pii.DetectorRegex))
	}
	return detectors
}

func (c *Client) invoke(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp := &AnalyzeResponse{}
	err := c.currentConn().Invoke(callCtx, methodAnalyze, req, resp,
		grpc.CallContentSubtype(codecName))
	if err == nil {
		return resp, nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return nil, errors.NewTransientError("detection", "engine call failed").WithCause(err)
	}

	switch st.Code() {
	case codes.Canceled:
		return nil, errors.NewCancelledError("detection analyze")
	case codes.DeadlineExceeded:
		return nil, errors.NewTimeoutError("detection analyze")
	case codes.Unimplemented:
		// A stale channel after an engine redeploy answers UNIMPLEMENTED
		// while still naming the service it expected. Reconnect once and
		// retry; a second failure is surfaced.
		if strings.Contains(st.Message(), serviceName) && c.reconnect() {
			return c.retryOnce(ctx, req)
		}
		return nil, errors.NewExternalError("detection", st.Message())
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return nil, errors.NewTransientError("detection", st.Message())
	default:
		return nil, errors.NewExternalError("detection", st.Message())
	}
}

func (c *Client) retryOnce(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp := &AnalyzeResponse{}
	err := c.currentConn().Invoke(callCtx, methodAnalyze, req, resp,
		grpc.CallContentSubtype(codecName))
	if err != nil {
		st, _ := status.FromError(err)
		return nil, errors.NewExternalError("detection", st.Message())
	}
	return resp, nil
}

func (c *Client) currentConn() *grpc.ClientConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// reconnect replaces the connection once per client lifetime. Returns false
// when the one reconnect has already been spent.
func (c *Client) reconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reconnected {
		return false
	}
	c.reconnected = true

	conn, err := c.dial(c.cfg.Addr)
	if err != nil {
		c.logger.Error("detection engine reconnect failed", zap.Error(err))
		return false
	}

	old := c.conn
	c.conn = conn
	if old != nil {
		old.Close()
	}
	c.logger.Info("detection engine connection re-established",
		zap.String("addr", c.cfg.Addr))
	return true
}

// Close tears down the engine connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

var _ Analyzer = (*Client)(nil)

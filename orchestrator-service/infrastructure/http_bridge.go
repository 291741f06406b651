package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// httpBridge is the shared transport core of the concrete bridges. Each
// bridge maps operation types onto backend URL paths; everything else
// (encoding, error classification, health probing) is identical.
type httpBridge struct {
	serviceType  domain.ServiceType
	capabilities []domain.OperationType
	paths        map[domain.OperationType]string
	headers      map[string]string
	client       *http.Client
}

type bridgeRequest struct {
	ID         models.ID              `json:"id"`
	Type       domain.OperationType   `json:"operation_type"`
	Parameters map[string]interface{} `json:"parameters"`
	Context    map[string]string      `json:"context"`
}

type bridgeResponse struct {
	Result   json.RawMessage   `json:"result"`
	Metadata map[string]string `json:"metadata"`
	Error    string            `json:"error"`
}

func newHTTPBridge(serviceType domain.ServiceType, paths map[domain.OperationType]string) *httpBridge {
	capabilities := make([]domain.OperationType, 0, len(paths))
	for opType := range paths {
		capabilities = append(capabilities, opType)
	}

	return &httpBridge{
		serviceType:  serviceType,
		capabilities: capabilities,
		paths:        paths,
		headers:      make(map[string]string),
		client:       &http.Client{},
	}
}

// Initialize applies backend-specific settings. Recognized keys:
// "api_key" (sent as Authorization bearer) and "header.<name>" entries
// forwarded verbatim.
func (b *httpBridge) Initialize(ctx context.Context, config domain.BridgeConfig) error {
	if config.ServiceType != "" && config.ServiceType != b.serviceType {
		return errors.Errorf("config for %q handed to %q bridge", config.ServiceType, b.serviceType)
	}

	for key, value := range config.Settings {
		switch {
		case key == "api_key":
			b.headers["Authorization"] = "Bearer " + value
		case len(key) > len("header.") && key[:len("header.")] == "header.":
			b.headers[key[len("header."):]] = value
		}
	}

	return nil
}

// Execute runs the operation against the selected endpoint. The caller
// bounds ctx with the operation timeout.
func (b *httpBridge) Execute(ctx context.Context, op *domain.Operation, endpoint domain.ServiceEndpoint) (*domain.OperationResult, error) {
	path, ok := b.paths[op.Type]
	if !ok {
		return nil, domain.NewNoRouteError(op.Type)
	}

	start := time.Now()

	payload, err := json.Marshal(bridgeRequest{
		ID:         op.ID,
		Type:       op.Type,
		Parameters: op.Parameters,
		Context:    op.Context,
	})
	if err != nil {
		return nil, domain.NewInvalidOperationError(b.serviceType, errors.Wrap(err, "encode operation"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.Address+path, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewInvalidOperationError(b.serviceType, errors.Wrap(err, "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, b.classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, b.classifyTransportError(ctx, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, domain.NewBackendFailureError(b.serviceType,
			errors.Errorf("backend returned %d: %s", resp.StatusCode, truncate(body, 256)))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, domain.NewInvalidOperationError(b.serviceType,
			errors.Errorf("backend rejected operation with %d: %s", resp.StatusCode, truncate(body, 256)))
	}

	var decoded bridgeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, domain.NewBackendFailureError(b.serviceType, errors.Wrap(err, "decode response"))
	}
	if decoded.Error != "" {
		return nil, domain.NewInvalidOperationError(b.serviceType, errors.New(decoded.Error))
	}

	result := domain.NewSuccessResult(op.ID, decoded.Result, time.Since(start))
	result.Metadata["instance_id"] = endpoint.InstanceID
	for k, v := range decoded.Metadata {
		result.Metadata[k] = v
	}

	return result, nil
}

// HealthCheck probes one endpoint of this bridge's backend
func (b *httpBridge) HealthCheck(ctx context.Context, endpoint domain.ServiceEndpoint) (domain.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.Address+"/health", nil)
	if err != nil {
		return domain.HealthStatusUnknown, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return domain.HealthStatusUnreachable, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return domain.HealthStatusHealthy, nil
	}
	return domain.HealthStatusUnhealthy, nil
}

// Capabilities lists the operation types this bridge declares
func (b *httpBridge) Capabilities() []domain.OperationType {
	capabilities := make([]domain.OperationType, len(b.capabilities))
	copy(capabilities, b.capabilities)
	return capabilities
}

// Shutdown releases pooled connections
func (b *httpBridge) Shutdown(ctx context.Context) error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *httpBridge) classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewBackendTimeoutError(b.serviceType, err)
	}
	return domain.NewBackendFailureError(b.serviceType, err)
}

func truncate(b []byte, limit int) string {
	if len(b) > limit {
		b = b[:limit]
	}
	return string(b)
}

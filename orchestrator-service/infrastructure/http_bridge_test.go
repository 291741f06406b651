package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpointFor(server *httptest.Server) domain.ServiceEndpoint {
	return domain.ServiceEndpoint{
		ServiceName: "claude-flow",
		InstanceID:  "cf-1",
		Address:     server.URL,
		Health:      domain.HealthStatusHealthy,
	}
}

func TestHTTPBridge_Execute(t *testing.T) {
	var captured bridgeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/swarm/init", r.URL.Path)
		require.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"result":   map[string]string{"swarm_id": "sw-7"},
			"metadata": map[string]string{"region": "local"},
		})
	}))
	defer server.Close()

	bridge := NewClaudeFlowBridge()
	require.NoError(t, bridge.Initialize(context.Background(), domain.BridgeConfig{
		ServiceType: domain.ServiceTypeClaudeFlow,
		Settings:    map[string]string{"api_key": "sekrit"},
	}))

	op := domain.NewOperation(domain.OpSwarmInitialize, map[string]interface{}{"topology": "mesh"})
	result, err := bridge.Execute(context.Background(), op, endpointFor(server))

	require.NoError(t, err)
	assert.True(t, result.IsSuccess())
	assert.Equal(t, op.ID, result.OperationID)
	assert.Equal(t, "cf-1", result.Metadata["instance_id"])
	assert.Equal(t, "local", result.Metadata["region"])

	assert.Equal(t, op.ID, captured.ID)
	assert.Equal(t, domain.OpSwarmInitialize, captured.Type)
	assert.Equal(t, "mesh", captured.Parameters["topology"])
}

func TestHTTPBridge_ExecuteClassifiesFailures(t *testing.T) {
	tests := []struct {
		name         string
		handler      http.HandlerFunc
		expectedKind domain.ErrorKind
	}{
		{
			name: "server error is a backend failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "out of memory", http.StatusInternalServerError)
			},
			expectedKind: domain.ErrKindBackendFailure,
		},
		{
			name: "client error is an invalid operation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "unknown topology", http.StatusBadRequest)
			},
			expectedKind: domain.ErrKindInvalidOperation,
		},
		{
			name: "application error field is an invalid operation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"error": "quota exceeded"})
			},
			expectedKind: domain.ErrKindInvalidOperation,
		},
		{
			name: "garbage body is a backend failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>not json</html>"))
			},
			expectedKind: domain.ErrKindBackendFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			bridge := NewClaudeFlowBridge()
			op := domain.NewOperation(domain.OpSwarmInitialize, nil)

			_, err := bridge.Execute(context.Background(), op, endpointFor(server))
			require.Error(t, err)
			assert.Equal(t, tt.expectedKind, domain.KindOf(err))
			assert.Equal(t, domain.ServiceTypeClaudeFlow, domain.ServiceTypeOf(err))
		})
	}
}

func TestHTTPBridge_ExecuteTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	bridge := NewClaudeFlowBridge()
	op := domain.NewOperation(domain.OpSwarmInitialize, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := bridge.Execute(ctx, op, endpointFor(server))
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindBackendTimeout, domain.KindOf(err))
}

func TestHTTPBridge_ExecuteConnectionRefused(t *testing.T) {
	bridge := NewClaudeFlowBridge()
	op := domain.NewOperation(domain.OpSwarmInitialize, nil)

	_, err := bridge.Execute(context.Background(), op, domain.ServiceEndpoint{
		ServiceName: "claude-flow",
		InstanceID:  "cf-dead",
		Address:     "http://127.0.0.1:1",
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindBackendFailure, domain.KindOf(err))
}

func TestHTTPBridge_ExecuteUndeclaredOperation(t *testing.T) {
	bridge := NewCodexBridge()
	op := domain.NewOperation(domain.OpSwarmInitialize, nil)

	_, err := bridge.Execute(context.Background(), op, domain.ServiceEndpoint{Address: "http://unused"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindNoRoute, domain.KindOf(err))
}

func TestHTTPBridge_HealthCheck(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected domain.HealthStatus
	}{
		{"ok is healthy", http.StatusOK, domain.HealthStatusHealthy},
		{"service unavailable is unhealthy", http.StatusServiceUnavailable, domain.HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			bridge := NewClaudeFlowBridge()
			status, err := bridge.HealthCheck(context.Background(), endpointFor(server))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, status)
		})
	}

	t.Run("unreachable backend", func(t *testing.T) {
		bridge := NewClaudeFlowBridge()
		status, err := bridge.HealthCheck(context.Background(), domain.ServiceEndpoint{
			Address: "http://127.0.0.1:1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.HealthStatusUnreachable, status)
	})
}

func TestNewPluginBridge(t *testing.T) {
	tests := []struct {
		name          string
		serviceType   domain.ServiceType
		capabilities  []domain.OperationType
		expectedError string
	}{
		{
			name:          "missing service type",
			capabilities:  []domain.OperationType{"deploy.run"},
			expectedError: "requires a service type",
		},
		{
			name:          "no capabilities",
			serviceType:   "deployer",
			expectedError: "declares no capabilities",
		},
		{
			name:          "empty capability",
			serviceType:   "deployer",
			capabilities:  []domain.OperationType{"deploy.run", ""},
			expectedError: "empty capability",
		},
		{
			name:         "valid plugin",
			serviceType:  "deployer",
			capabilities: []domain.OperationType{"deploy.run", "deploy.rollback"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge, err := NewPluginBridge(tt.serviceType, tt.capabilities, "")

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}

			require.NoError(t, err)
			assert.ElementsMatch(t, tt.capabilities, bridge.Capabilities())
		})
	}
}

func TestPluginBridge_PostsToOperationsPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/custom/ops", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]string{}})
	}))
	defer server.Close()

	bridge, err := NewPluginBridge("deployer", []domain.OperationType{"deploy.run"}, "/custom/ops")
	require.NoError(t, err)

	op := domain.NewOperation("deploy.run", nil)
	result, runErr := bridge.Execute(context.Background(), op, domain.ServiceEndpoint{
		ServiceName: "deployer",
		InstanceID:  "dep-1",
		Address:     server.URL,
	})
	require.NoError(t, runErr)
	assert.True(t, result.IsSuccess())
}

package infrastructure

import (
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/pkg/errors"
)

// NewPluginBridge builds a bridge for an operator-configured backend.
// Unlike the built-in bridges its service type and capability set come
// entirely from configuration; every declared operation is posted to a
// single operations path.
func NewPluginBridge(serviceType domain.ServiceType, capabilities []domain.OperationType, operationsPath string) (domain.Bridge, error) {
	if serviceType == "" {
		return nil, errors.New("plugin bridge requires a service type")
	}
	if len(capabilities) == 0 {
		return nil, errors.Errorf("plugin bridge %q declares no capabilities", serviceType)
	}
	if operationsPath == "" {
		operationsPath = "/operations"
	}

	paths := make(map[domain.OperationType]string, len(capabilities))
	for _, opType := range capabilities {
		if opType == "" {
			return nil, errors.Errorf("plugin bridge %q declares an empty capability", serviceType)
		}
		paths[opType] = operationsPath
	}

	return newHTTPBridge(serviceType, paths), nil
}

package typed

import (
	"context"
	"fmt"

	"github.com/aretw0/beacon/pkg/core"
)

// ServiceConfig gives typed access to per-service configuration documents
// (service_<name>) through a Coordinator, so config writes also count as
// coordinator heartbeats.
type ServiceConfig[T any] struct {
	coord *core.Coordinator
}

// NewServiceConfig creates a typed per-service configuration view.
func NewServiceConfig[T any](coord *core.Coordinator) *ServiceConfig[T] {
	return &ServiceConfig[T]{coord: coord}
}

// Get loads the configuration of service.
func (s *ServiceConfig[T]) Get(ctx context.Context, service string) (*Document[T], error) {
	body, err := s.coord.ServiceConfig(ctx, service)
	if err != nil {
		return nil, err
	}
	return fromBody[T](service, body, s)
}

// Save stores doc as the configuration of the service named doc.Name.
func (s *ServiceConfig[T]) Save(ctx context.Context, doc *Document[T]) error {
	body, err := toBody(doc.Data)
	if err != nil {
		return err
	}
	if doc.Saver == nil {
		doc.Saver = s
	}
	if _, err := s.coord.SetServiceConfig(ctx, doc.Name, body); err != nil {
		return fmt.Errorf("failed to save config of service %q: %w", doc.Name, err)
	}
	return nil
}

// Global decodes the global configuration, or its default when none is stored.
func Global[T any](ctx context.Context, coord *core.Coordinator) (T, error) {
	var value T
	body, err := coord.GlobalConfig(ctx)
	if err != nil {
		return value, err
	}
	doc, err := fromBody[T](core.GlobalConfigName, body, nil)
	if err != nil {
		return value, err
	}
	return doc.Data, nil
}

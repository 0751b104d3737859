package core

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a registered service.
type Status string

const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusMaintenance Status = "maintenance"
	StatusError       Status = "error"
)

// ParseStatus validates a user-facing status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusInactive, StatusMaintenance, StatusError:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// ServiceRecord is a liveness record kept by the service registry.
type ServiceRecord struct {
	Name           string    `json:"name" validate:"required"`
	Host           string    `json:"host" validate:"required"`
	Port           int       `json:"port" validate:"gte=0,lte=65535"`
	Status         Status    `json:"status" validate:"omitempty,oneof=active inactive maintenance error"`
	ServiceType    string    `json:"service_type" validate:"required"`
	Version        string    `json:"version"`
	HealthEndpoint string    `json:"health_endpoint,omitempty"`
	Metadata       Metadata  `json:"metadata"`
	RegisteredAt   time.Time `json:"registered_at"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
}

// Clone returns a copy that shares no mutable state with r.
func (r ServiceRecord) Clone() ServiceRecord {
	r.Metadata = Metadata(CloneMap(r.Metadata))
	return r
}

// RegistrySummary is the aggregate view returned by the registry status read.
type RegistrySummary struct {
	Total       int            `json:"total_services"`
	Active      int            `json:"active_services"`
	ByType      map[string]int `json:"service_types"`
	LastUpdated time.Time      `json:"last_updated"`
}

// HealthState grades a service by heartbeat age.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthWarning   HealthState = "warning"
	HealthUnhealthy HealthState = "unhealthy"
)

// ServiceHealth is a point-in-time health report for one service.
type ServiceHealth struct {
	Name         string        `json:"service_name"`
	State        HealthState   `json:"health_status"`
	Uptime       time.Duration `json:"uptime"`
	HeartbeatAge time.Duration `json:"last_heartbeat_age"`
	Record       ServiceRecord `json:"service_info"`
	CheckedAt    time.Time     `json:"checked_at"`
}

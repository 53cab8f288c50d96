package service

import (
	"context"

	"github.com/google/uuid"
)

// DBProvisioner encapsulates creation/check of tenant-specific DB artifacts (role, schema, grants, RBAC tables).
// Ensure is mutating/idempotent, Check is read-only/health verification.
type DBProvisioner interface {
	Ensure(ctx context.Context, req DBProvisionRequest) (DBProvisionResult, error)
	Check(ctx context.Context, req DBProvisionRequest) (DBProvisionResult, error)
}

type DBProvisionRequest struct {
	TenantID   uuid.UUID
	SchemaName string
	RoleName   string
}

type DBProvisionResult struct {
	Ready bool
}

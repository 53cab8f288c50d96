package sqlassets

import _ "embed"

//go:embed schema/platform/tenants.sql
var TenantsSQL string

//go:embed schema/platform/provisioning_audit.sql
var ProvisioningAuditSQL string

//go:embed schema/platform/deployment_watches.sql
var DeploymentWatchesSQL string

//go:embed schema/platform/role_templates.sql
var RoleTemplatesSQL string

// RBACSQL is applied inside every tenant schema by the DB provisioner.
//
//go:embed schema/tenant_space/rbac.sql
var RBACSQL string

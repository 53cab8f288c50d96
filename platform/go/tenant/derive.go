package tenant

import (
	"strings"
)

const schemaSegment = "__tenant_"

// ToSnake converts a kebab-case slug into snake_case for schema names.
func ToSnake(slug string) string {
	return strings.ReplaceAll(strings.ToLower(slug), "-", "_")
}

// BuildSchemaName returns the tenant database (schema) name:
// <envKey>__tenant_<slugSnake>. The double underscore keeps the env prefix
// visually apart from the fixed segment.
func BuildSchemaName(envKey, slugSnake string) string {
	return strings.TrimSpace(envKey) + schemaSegment + slugSnake
}

// BuildRoleName returns the NOLOGIN role that owns a tenant schema.
func BuildRoleName(schemaName string) string {
	return schemaName + "_role"
}

// BelongsToEnv reports whether schemaName was derived for envKey.
func BelongsToEnv(schemaName, envKey string) bool {
	return strings.HasPrefix(schemaName, strings.TrimSpace(envKey)+schemaSegment)
}

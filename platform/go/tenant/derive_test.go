package tenant

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerivedNames(t *testing.T) {
	t.Parallel()

	schema := BuildSchemaName(" dev ", ToSnake("St-Mary-Hospital"))
	require.Equal(t, "dev__tenant_st_mary_hospital", schema)
	require.Equal(t, "dev__tenant_st_mary_hospital_role", BuildRoleName(schema))
	require.True(t, BelongsToEnv(schema, "dev"))
	require.False(t, BelongsToEnv(schema, "prod"))
}

package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"users.read":          "Users Read",
		"beds_rooms:assign":   "Beds Rooms Assign",
		"tour-guide/schedule": "Tour Guide Schedule",
		"SUPER admin":         "Super Admin",
		"single":              "Single",
		"...":                 "...",
	}
	for in, want := range cases {
		require.Equal(t, want, DisplayName(in), in)
	}
}

func TestDecodeDocumentFormats(t *testing.T) {
	fromJSON, err := DecodeDocument([]byte(`{"roles":["admin"],"permissions":["a","b"],"rolePermissions":{"admin":["a"]}}`), FormatJSON)
	require.NoError(t, err)

	fromYAML, err := DecodeDocument([]byte("roles:\n  - admin\npermissions: [a, b]\nrolePermissions:\n  admin: [a]\n"), FormatYAML)
	require.NoError(t, err)
	require.Equal(t, fromJSON, fromYAML)

	_, err = DecodeDocument([]byte("roles: [admin]\n"), FormatYAML)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = DecodeDocument([]byte("{}"), "toml")
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "format")
}

func TestFormatFromName(t *testing.T) {
	require.Equal(t, FormatYAML, FormatFromName("templates/default.YML"))
	require.Equal(t, FormatYAML, FormatFromName("default.yaml"))
	require.Equal(t, FormatJSON, FormatFromName("default.json"))
	require.Equal(t, FormatJSON, FormatFromName("default"))
}

func TestDocumentPermissionSets(t *testing.T) {
	doc := Document{
		Roles:           []string{"admin", "viewer", "auditor"},
		Permissions:     []string{"a", "b"},
		RolePermissions: map[string][]string{"viewer": {"a", "c"}, "auditor": {}},
	}
	require.Equal(t, []string{"a", "b", "c"}, doc.AllPermissions())
	require.Equal(t, []string{"a", "b"}, doc.DesiredPermissions("admin"))
	require.Equal(t, []string{"a", "c"}, doc.DesiredPermissions("viewer"))
	require.Empty(t, doc.DesiredPermissions("auditor"))
}

package root

import (
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-owner/apps/cli/cliapp"
	"github.com/zenGate-Global/palmyra-owner/apps/cli/cmd/auth"
	"github.com/zenGate-Global/palmyra-owner/apps/cli/cmd/bootstrap"
	templatescmd "github.com/zenGate-Global/palmyra-owner/apps/cli/cmd/templates"
	tenantcmd "github.com/zenGate-Global/palmyra-owner/apps/cli/cmd/tenant"
)

func addCommands(root *cobra.Command, opts *cliapp.Options) {
	root.AddCommand(auth.Command())
	root.AddCommand(bootstrap.Command(opts))
	root.AddCommand(tenantcmd.Command(opts))
	root.AddCommand(templatescmd.Command(opts))
}

package root

import (
	assettagscmd "github.com/atlas-itam/atlas/apps/cli/cmd/assettags"
	"github.com/atlas-itam/atlas/apps/cli/cmd/auth"
	"github.com/atlas-itam/atlas/apps/cli/cmd/bootstrap"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(assettagscmd.Command())
}

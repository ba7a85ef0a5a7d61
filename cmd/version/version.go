package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/cmd/root"
)

// Build information. Populated at build-time via ldflags; go install builds
// fall back to the module and VCS data embedded by the toolchain.
var (
	Version   = "dev"
	Commit    = "unknown"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

type Info struct {
	Version string
	Commit  string
	Date    string
}

// Resolve fills unset ldflags values from build info.
func Resolve(info *debug.BuildInfo, ok bool) Info {
	out := Info{Version: Version, Commit: Commit, Date: Date}
	if !ok || info == nil {
		return out
	}
	if out.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		out.Version = info.Main.Version
	}
	fromVCS, modified := false, false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "unknown" {
				out.Commit = s.Value
				fromVCS = true
			}
		case "vcs.time":
			if out.Date == "unknown" {
				out.Date = s.Value
			}
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if fromVCS && modified {
		out.Commit += "-dirty"
	}
	return out
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, build date, Go version and the default AMPECO API host.`,
	Run: func(cmd *cobra.Command, args []string) {
		info := Resolve(debug.ReadBuildInfo())
		fmt.Printf("ampeco-ha %s\n", info.Version)
		fmt.Printf("  Commit:     %s\n", info.Commit)
		fmt.Printf("  Built:      %s\n", info.Date)
		fmt.Printf("  Go version: %s\n", GoVersion)
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("  API host:   %s\n", ampeco.DefaultHost)
	},
}

func init() {
	root.RootCmd.AddCommand(VersionCmd)
}

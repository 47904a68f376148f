package cmd

import (
	"runtime"

	"github.com/habedi/apsq/pkg/output"
	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	goVersion = runtime.Version()
	platform  = runtime.GOOS + "/" + runtime.GOARCH
)

type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func versionCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if p := app.Printer(); p.Format() != output.FormatTable {
				return p.Print(cmd.Context(), versionInfo{Version: version, GoVersion: goVersion, Platform: platform}, nil)
			}
			cmd.Println("APSQ version:", version)
			cmd.Println("Go version:", goVersion)
			cmd.Println("Platform:", platform)
			return nil
		},
	}
	return cmd
}

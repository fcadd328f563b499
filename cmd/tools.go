package cmd

import (
	"fmt"
	"text/tabwriter"

	"dvzoll/internal/depmanager"
	"dvzoll/internal/platform"
	"dvzoll/pkg/urls"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Check or install the external download tools",
}

var toolsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report which of yt-dlp, spotdl and ffmpeg are usable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		depMgr := newDepManager()
		depMgr.SetSystemBinaries()

		status := depMgr.CheckToolsInstalled(cmd.Context())

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd, status)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

		for _, row := range []struct {
			name depmanager.BinaryName
			ok   bool
		}{
			{depmanager.BinaryYTdlp, status.YTdlp},
			{depmanager.BinarySpotdl, status.Spotdl},
			{depmanager.BinaryFFmpeg, status.FFmpeg},
		} {
			state := "missing"
			if row.ok {
				state = "installed\t" + depMgr.GetInstalledPath(row.name)
			}

			fmt.Fprintf(w, "%s\t%s\n", row.name, state)
		}

		return w.Flush()
	},
}

var toolsInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Download yt-dlp and ffmpeg into the bins directory",
	Long:  "install fetches linux/amd64 or linux/arm64 builds; spotdl must come from the system.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		depMgr := newDepManager()

		if err := depMgr.InstallAll(cmd.Context()); err != nil {
			return fmt.Errorf("install tools: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "tools installed into", app.cfg.DepManager.BinsDir)

		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <url>",
	Short: "Show the platform a URL belongs to and the modes it supports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := urls.FixURL(args[0])

		preview, ok := platform.Classify(url)
		if !ok {
			return fmt.Errorf("not an absolute URL: %q", args[0])
		}

		det := platform.Detect(url)

		fmt.Fprintf(cmd.OutOrStdout(), "%s\nmodes: %v\nplaylist: %t\n",
			preview.Label, det.Modes, platform.IsPlaylistURL(url))

		return nil
	},
}

func init() {
	toolsCheckCmd.Flags().Bool("json", false, "print the status as JSON")

	toolsCmd.AddCommand(toolsCheckCmd, toolsInstallCmd)
	rootCmd.AddCommand(toolsCmd, classifyCmd)
}

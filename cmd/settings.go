package cmd

import (
	"encoding/json"
	"fmt"

	"dvzoll/internal/entity"
	"dvzoll/internal/infrastructure/delivery/http/request"
	"dvzoll/internal/settings"
	"dvzoll/pkg/ptr"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the persisted settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, path, err := newSettingsStore()
		if err != nil {
			return err
		}

		if onlyPath, _ := cmd.Flags().GetBool("path"); onlyPath {
			fmt.Fprintln(cmd.OutOrStdout(), path)

			return nil
		}

		return printJSON(cmd, store.Get())
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the given settings and print the result",
	Example: `  dvzoll settings set --max-concurrent 5
  dvzoll settings set --download-dir ~/Music --mode audio --quality FLAC`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		patch := patchFromFlags(cmd)

		if err := request.SettingsPatch(patch).Validate(); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}

		store, _, err := newSettingsStore()
		if err != nil {
			return err
		}

		return printJSON(cmd, store.Update(patch))
	},
}

func patchFromFlags(cmd *cobra.Command) settings.Patch {
	var patch settings.Patch

	flags := cmd.Flags()

	if flags.Changed("download-dir") {
		v, _ := flags.GetString("download-dir")
		patch.DownloadDirectory = &v
	}

	if flags.Changed("auto-update") {
		v, _ := flags.GetBool("auto-update")
		patch.AutoUpdateEnabled = &v
	}

	if flags.Changed("notifications") {
		v, _ := flags.GetBool("notifications")
		patch.NotificationsEnabled = &v
	}

	if flags.Changed("max-concurrent") {
		v, _ := flags.GetInt("max-concurrent")
		patch.MaxConcurrentDownloads = &v
	}

	if flags.Changed("mode") {
		v, _ := flags.GetString("mode")
		patch.LastSelectedMode = ptr.Of(entity.Mode(v))
	}

	if flags.Changed("quality") {
		v, _ := flags.GetString("quality")
		patch.LastSelectedQuality = &v
	}

	if flags.Changed("playlist") {
		v, _ := flags.GetBool("playlist")
		patch.LastSelectedIsPlaylist = &v
	}

	return patch
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	return nil
}

func init() {
	settingsShowCmd.Flags().Bool("path", false, "print only the location of the settings file")

	f := settingsSetCmd.Flags()
	f.String("download-dir", "", "default output directory")
	f.Bool("auto-update", true, "check for tool updates")
	f.Bool("notifications", true, "notify when a download finishes")
	f.Int("max-concurrent", settings.MinConcurrentDownloads, "maximum concurrent downloads")
	f.String("mode", "", "last selected mode: video or audio")
	f.String("quality", "", "last selected quality")
	f.Bool("playlist", false, "last selected playlist toggle")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

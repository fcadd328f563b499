package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"dvzoll/internal/attempt"
	"dvzoll/internal/entity"
	"dvzoll/internal/tui"
	"dvzoll/pkg/urls"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

var errAttemptCancelled = errors.New("download cancelled")

var downloadCmd = &cobra.Command{
	Use:   "download [url]",
	Short: "Download one URL with live progress",
	Long: `download runs one attempt in the terminal. Without a URL argument and with
--clipboard the URL is taken from the system clipboard. Mode and quality default
to the last selection saved in the settings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromClipboard, _ := cmd.Flags().GetBool("clipboard")

		url, err := resolveURL(args, fromClipboard)
		if err != nil {
			return err
		}

		store, _, err := newSettingsStore()
		if err != nil {
			return err
		}

		prefs := store.Get()

		mode := prefs.LastSelectedMode
		if cmd.Flags().Changed("mode") {
			m, _ := cmd.Flags().GetString("mode")
			mode = entity.Mode(m)
		}

		quality, _ := cmd.Flags().GetString("quality")
		if !cmd.Flags().Changed("quality") && mode == prefs.LastSelectedMode {
			quality = prefs.LastSelectedQuality
		}

		playlist, _ := cmd.Flags().GetBool("playlist")
		output, _ := cmd.Flags().GetString("output")
		simulate, _ := cmd.Flags().GetBool("simulate")
		plain, _ := cmd.Flags().GetBool("plain")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		opts := []attempt.Option{attempt.WithPreferences(store), attempt.WithMetrics(app.metrics)}

		if !simulate && !app.cfg.Attempt.Simulate {
			depMgr := newDepManager()
			depMgr.Start(ctx)

			dl, _, err := newExec(depMgr)
			if err != nil {
				return err
			}

			opts = append(opts, attempt.WithBridge(dl))
		}

		attempts := attempt.New(app.log, app.cfg.Attempt, opts...)
		defer attempts.Close()

		if _, err := attempts.Submit(ctx, attempt.Request{
			URL:        url,
			Mode:       mode,
			Quality:    quality,
			IsPlaylist: playlist,
			OutputDir:  output,
		}); err != nil {
			return fmt.Errorf("start download: %w", err)
		}

		cancel := func() { attempts.Cancel() }

		var final entity.Attempt

		if plain {
			final = followPlain(ctx, attempts, cancel, cmd.OutOrStdout())
		} else {
			m, err := tui.Run(ctx, attempts, cancel, cmd.OutOrStdout())
			if err != nil {
				attempts.Cancel()

				return err
			}

			final = m.Attempt()
		}

		return report(cmd.OutOrStdout(), final)
	},
}

func resolveURL(args []string, fromClipboard bool) (string, error) {
	if len(args) == 1 {
		return urls.FixURL(args[0]), nil
	}

	if !fromClipboard {
		return "", errors.New("a URL argument or --clipboard is required")
	}

	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}

	url := strings.TrimSpace(text)
	if url == "" {
		return "", errors.New("clipboard is empty")
	}

	return urls.FixURL(url), nil
}

// followPlain prints one line per status or progress change until the attempt ends.
func followPlain(ctx context.Context, src tui.Source, cancel func(), out io.Writer) entity.Attempt {
	updates, stop := tui.Watch(src)
	defer stop()

	var last entity.Attempt

	for {
		select {
		case <-ctx.Done():
			cancel()

			return src.Snapshot()
		case a := <-updates:
			if a.UpdatedAt.Before(last.UpdatedAt) {
				continue
			}

			if a.Status != last.Status || a.Progress != last.Progress {
				fmt.Fprintf(out, "%-11s %3d%% %s\n", a.Status, a.Progress, a.Filename)
			}

			started := last.Status.Busy()
			last = a

			if a.Status.Terminal() || (started && a.Status == entity.AttemptStatusIdle) {
				return a
			}
		}
	}
}

func report(out io.Writer, a entity.Attempt) error {
	switch a.Status {
	case entity.AttemptStatusDone:
		path := a.OutputPath
		if path == "" {
			path = a.Filename
		}

		fmt.Fprintln(out, "saved to", path)

		return nil
	case entity.AttemptStatusError:
		return fmt.Errorf("download failed: %s", a.Message)
	default:
		return errAttemptCancelled
	}
}

func init() {
	downloadCmd.Flags().StringP("mode", "m", "video", "video or audio (default: last used)")
	downloadCmd.Flags().StringP("quality", "q", "", "quality option, empty selects the default of the mode")
	downloadCmd.Flags().BoolP("playlist", "p", false, "treat the URL as a playlist")
	downloadCmd.Flags().StringP("output", "o", "", "output directory (default: settings download directory)")
	downloadCmd.Flags().Bool("clipboard", false, "take the URL from the clipboard")
	downloadCmd.Flags().Bool("simulate", false, "simulate progress without the download tools")
	downloadCmd.Flags().Bool("plain", false, "print progress lines instead of the interactive view")

	rootCmd.AddCommand(downloadCmd)
}

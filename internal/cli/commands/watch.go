package commands

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/engine"
)

// watchDebounce coalesces bursts of filesystem events into one run.
const watchDebounce = 300 * time.Millisecond

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-run the pipeline when scripts change",
		Long: `Watch the pipeline script and its directory for changes and re-run
outdated targets after each change. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd)
		},
	}
}

func runWatch(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dirs := []string{filepath.Dir(cmdCtx.Config.Pipeline)}
	if cmdCtx.Config.ScriptsDir != "" {
		dirs = append(dirs, cmdCtx.Config.ScriptsDir)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			cmdCtx.Logger.Warn("cannot watch directory", "dir", dir, "error", err)
		}
	}

	runOnce := func() {
		if err := cmdCtx.discover(false); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "discovery failed: %v\n", err)
			return
		}
		result, err := cmdCtx.Engine.Run(cmd.Context(), engine.RunOptions{})
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "run failed: %v\n", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d built, %d cached, %d failed\n",
			result.RunID, result.Executed, result.UpToDate, result.Failed)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes...\n", strings.Join(dirs, ", "))
	runOnce()

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".star") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cmdCtx.Logger.Debug("change detected", "file", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cmdCtx.Logger.Error("watcher error", "error", err)
		case <-pending:
			runOnce()
		}
	}
}

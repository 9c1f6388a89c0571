package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gridlink-project/gridlink/internal/transfer"
	"github.com/gridlink-project/gridlink/pkg/color"
	"github.com/gridlink-project/gridlink/pkg/model"
	"github.com/gridlink-project/gridlink/pkg/progress"
)

var (
	copyThreads    int
	copyCheckpoint int64
	copyProgress   bool
)

var copyCmd = &cobra.Command{
	Use:   "copy <src> <dst>",
	Short: "Copy a local file in parallel with restart support",
	Long: `Copy a local file with several worker threads, recording progress in the
restart ledger. Re-running an interrupted copy resumes each thread where it
stopped.

Examples:
  gridlink copy big.iso /data/big.iso
  gridlink copy big.iso /data/big.iso --threads 8`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		dst, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("stat source: %w", err)
		}

		c, err := openClient()
		if err != nil {
			return err
		}
		defer c.Close()

		id, err := c.RestartID(model.RestartPut, filepath.ToSlash(dst))
		if err != nil {
			return err
		}
		if err := preallocate(dst, info.Size()); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		bar := progress.NewTerminalWriter(cmd.ErrOrStderr(), filepath.Base(dst), info.Size(), copyProgress && !jsonOutput)
		job := transfer.Job{
			ID:        id,
			LocalPath: src,
			Size:      info.Size(),
			Threads:   copyThreads,
			Progress:  progress.New("copy", info.Size(), bar.Callback()),
		}
		if err := c.Transfer(ctx, job, transfer.LocalCopy(src, dst, 0, copyCheckpoint)); err != nil {
			return err
		}
		bar.Done()

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]any{"source": src, "destination": dst, "bytes": info.Size()})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s to %s\n", color.Success("Copied"), humanize.IBytes(uint64(info.Size())), dst)
		return nil
	},
}

// preallocate creates dst at its final size without touching existing content.
func preallocate(dst string, size int64) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("size destination: %w", err)
	}
	return f.Close()
}

func init() {
	copyCmd.Flags().IntVarP(&copyThreads, "threads", "t", 0, "worker threads (default: transfer.threads)")
	copyCmd.Flags().Int64Var(&copyCheckpoint, "checkpoint", 8<<20, "bytes between checkpoints")
	copyCmd.Flags().BoolVar(&copyProgress, "progress", false, "draw a progress bar on stderr")
	rootCmd.AddCommand(copyCmd)
}

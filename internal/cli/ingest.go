package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"kbagent/internal/usecase"
)

var ingestPattern string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>...",
	Short: "Add PDF documents to the knowledge base",
	Long: `Extract, chunk and embed PDF documents into the vector store. Directories
are searched recursively for files matching --pattern. Each document is stored
under its file name; use that name with 'kbagent delete'. When two files of
one run share a name, only the first is ingested and the other is reported
as failed; rename it or ingest it on its own.

Examples:
  kbagent ingest report.pdf
  kbagent ingest ./papers --pattern "2024/**/*.pdf"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestPattern, "pattern", "", "glob for files inside directories (default from config)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	a, err := newAgent(ctx, cfg, GetRootDir(), false, log)
	if err != nil {
		return err
	}
	defer a.Close()

	pattern := cfg.Ingest.Pattern
	if ingestPattern != "" {
		pattern = ingestPattern
	}

	out := cmd.OutOrStdout()
	results, err := ingestPaths(ctx, a.ingest, usecase.NewSession(), args, pattern, out)
	printIngestSummary(out, results)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%d of %d documents failed", countFailed(results), len(results))
		}
	}
	return nil
}

// ingestPaths ingests files and directories in argument order. A progress
// bar is drawn on out for directories when out is non-nil.
func ingestPaths(ctx context.Context, uc *usecase.IngestUseCase, sess *usecase.Session, paths []string, pattern string, out io.Writer) ([]usecase.FileResult, error) {
	var results []usecase.FileResult
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			results = append(results, usecase.FileResult{Path: p, Err: err})
			continue
		}

		if !info.IsDir() {
			res, err := uc.Ingest(ctx, sess, filepath.Base(p), p)
			results = append(results, usecase.FileResult{Path: p, Result: res, Err: err})
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			continue
		}

		var progress func(usecase.FileResult)
		if out != nil {
			total, err := uc.CountFiles(p, pattern)
			if err != nil {
				return results, fmt.Errorf("failed to scan %s: %w", p, err)
			}
			progress = newProgress(out, total)
		}

		batch, err := uc.IngestDir(ctx, sess, p, pattern, progress)
		results = append(results, batch...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func newProgress(out io.Writer, total int) func(usecase.FileResult) {
	if total == 0 {
		return nil
	}

	startTime := time.Now()
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(out)
		}),
	)

	processed := 0
	return func(usecase.FileResult) {
		processed++
		bar.Set(processed)

		elapsed := time.Since(startTime)
		rate := float64(processed) / elapsed.Seconds()
		if rate > 0 && processed < total {
			eta := time.Duration(float64(total-processed)/rate) * time.Second
			bar.Describe(fmt.Sprintf("[cyan]Ingesting[reset] ETA: %s", formatDuration(eta)))
		}
	}
}

func printIngestSummary(out io.Writer, results []usecase.FileResult) {
	chunks, skipped := 0, 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(out, "  FAIL  %s: %v\n", r.Path, r.Err)
		case r.Result.Skipped:
			skipped++
			fmt.Fprintf(out, "  SKIP  %s (%s)\n", r.Path, r.Result.SkipReason)
		default:
			chunks += r.Result.Chunks
			fmt.Fprintf(out, "  OK    %s: %d chunks\n", r.Path, r.Result.Chunks)
		}
	}

	fmt.Fprintf(out, "\nIngestion complete:\n")
	fmt.Fprintf(out, "  Documents:      %d\n", len(results)-skipped-countFailed(results))
	fmt.Fprintf(out, "  Skipped:        %d\n", skipped)
	fmt.Fprintf(out, "  Failed:         %d\n", countFailed(results))
	fmt.Fprintf(out, "  Chunks created: %d\n", chunks)
}

func countFailed(results []usecase.FileResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}

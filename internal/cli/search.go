package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"kbagent/internal/domain"
	"kbagent/internal/usecase"
)

var (
	searchQuery string
	searchTopK  int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Show the passages retrieved for a query",
	Long: `Run retrieval only, without the model, and print the top-k passages with
their similarity. Useful to check what 'ask' would be grounded on.

Examples:
  kbagent search -q "filing deadline"
  kbagent search -q "revenue" -k 10 --json`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newAgent(ctx, GetConfig(), GetRootDir(), false, log)
	if err != nil {
		return err
	}
	defer a.Close()

	topK := a.retrieve.TopK()
	if searchTopK > 0 {
		topK = searchTopK
	}

	res := a.retrieve.RetrieveK(ctx, searchQuery, topK)
	if res.Degraded {
		return fmt.Errorf("search failed: %w", res.Err)
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		return writeSearchJSON(out, res)
	}
	printSearch(out, searchQuery, res.Chunks)
	return nil
}

func writeSearchJSON(out io.Writer, res usecase.Result) error {
	results := make([]sourceOutput, 0, len(res.Chunks))
	for _, c := range res.Chunks {
		results = append(results, sourceOutput{
			Source:     c.Chunk.Source(),
			ChunkIndex: c.Chunk.Metadata[domain.MetaChunkIndex],
			Score:      c.Score,
			Text:       c.Chunk.Text,
		})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func printSearch(out io.Writer, query string, chunks []domain.ScoredChunk) {
	if len(chunks) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}

	fmt.Fprintf(out, "Found %d results for: %s\n", len(chunks), query)
	fmt.Fprintln(out, strings.Repeat("-", 70))

	total := 0.0
	for i, c := range chunks {
		total += c.Score
		preview := strings.ReplaceAll(truncate(c.Chunk.Text, 150), "\n", " ")
		fmt.Fprintf(out, "%d. [%s %.3f] %s #%s\n", i+1, rating(c.Score), c.Score, c.Chunk.Source(), c.Chunk.Metadata[domain.MetaChunkIndex])
		fmt.Fprintf(out, "   %s\n\n", preview)
	}

	fmt.Fprintln(out, strings.Repeat("-", 70))
	fmt.Fprintf(out, "  Average similarity: %.3f\n", total/float64(len(chunks)))
	fmt.Fprintf(out, "  Top-1 similarity:   %.3f\n", chunks[0].Score)
}

func rating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	}
	return "LOW"
}

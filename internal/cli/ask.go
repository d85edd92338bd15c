package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"kbagent/internal/domain"
	"kbagent/internal/usecase"
)

var (
	askQuestion    string
	askFormat      string
	askShowSources bool
	askJSON        bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer one question from the stored documents",
	Long: `Retrieve the passages most similar to the question and ask the model to
answer from them alone. If the passages do not contain the answer the reply is
"I don't know based on the documents."

Examples:
  kbagent ask -q "when is the filing deadline?"
  kbagent ask -q "summarise section 2" --show-sources
  kbagent ask -q "who signed it?" --format html`,
	Args: cobra.NoArgs,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "question", "q", "", "question to answer (required)")
	askCmd.Flags().StringVar(&askFormat, "format", "plain", "answer layout: plain or html")
	askCmd.Flags().BoolVar(&askShowSources, "show-sources", false, "print the retrieved passages")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.MarkFlagRequired("question")
}

type sourceOutput struct {
	Source     string  `json:"source"`
	ChunkIndex string  `json:"chunk_index"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

type askOutput struct {
	Answer   string         `json:"answer"`
	Degraded bool           `json:"degraded,omitempty"`
	Sources  []sourceOutput `json:"sources,omitempty"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	format, err := usecase.ParseFormat(askFormat)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newAgent(ctx, GetConfig(), GetRootDir(), true, log)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.chat(usecase.NewSession(), format).Ask(ctx, askQuestion)
	if err != nil {
		return fmt.Errorf("failed to answer: %w", err)
	}

	out := cmd.OutOrStdout()
	if askJSON {
		return writeAskJSON(out, answer)
	}

	fmt.Fprintln(out, answer.Text)
	if answer.Degraded {
		fmt.Fprintln(out, "\n(search was unavailable; answered without document context)")
	}
	if askShowSources {
		printSources(out, answer.Sources)
	}
	return nil
}

func writeAskJSON(out io.Writer, answer *usecase.Answer) error {
	res := askOutput{Answer: answer.Text, Degraded: answer.Degraded}
	if askShowSources {
		for _, s := range answer.Sources {
			res.Sources = append(res.Sources, sourceOutput{
				Source:     s.Chunk.Source(),
				ChunkIndex: s.Chunk.Metadata[domain.MetaChunkIndex],
				Score:      s.Score,
				Text:       s.Chunk.Text,
			})
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func printSources(out io.Writer, sources []domain.ScoredChunk) {
	if len(sources) == 0 {
		fmt.Fprintln(out, "\nNo sources retrieved.")
		return
	}
	fmt.Fprintf(out, "\nSources:\n")
	for i, s := range sources {
		fmt.Fprintf(out, "  %d. %s (chunk %s, score %.3f)\n", i+1, s.Chunk.Source(), s.Chunk.Metadata[domain.MetaChunkIndex], s.Score)
		fmt.Fprintf(out, "     %s\n", truncate(s.Chunk.Text, 200))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

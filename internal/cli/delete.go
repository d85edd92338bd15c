package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"kbagent/internal/usecase"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <name>...",
	Short: "Remove documents from the knowledge base",
	Long: `Delete every chunk stored under each document name, including copies left
by earlier sessions. Deleting a name that is not stored succeeds.

Examples:
  kbagent delete report.pdf
  kbagent delete a.pdf b.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newAgent(ctx, GetConfig(), GetRootDir(), false, log)
	if err != nil {
		return err
	}
	defer a.Close()

	sess := usecase.NewSession()
	for _, name := range args {
		n, err := a.ingest.Delete(ctx, sess, name)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
		if n == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", name)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted %d chunks\n", name, n)
	}
	return nil
}

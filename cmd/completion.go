package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// completionCmd represents the completion command
var completionCmd = &cobra.Command{
	Use:   "completion bash",
	Short: "Generate shell completion code for the specified shell (bash)",
	Long: `To load completions:

Bash:

  $ source <(credible-backtest completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ credible-backtest completion bash > /etc/bash_completion.d/credible-backtest
  # macOS:
  $ credible-backtest completion bash > $(brew --prefix)/etc/bash_completion.d/credible-backtest`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Printf("Error: No shell specified")
			return
		}
		switch args[0] {
		case "bash":
			err := cmd.Root().GenBashCompletion(os.Stdout)
			if err != nil {
				fmt.Printf("Error: Unable to generate a bash completion")
				return
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

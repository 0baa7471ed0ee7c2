package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/halim/warden/internal/logger"
	"github.com/halim/warden/pkg/orchestrator"
)

var (
	chatSystemHint    string
	chatShowReasoning bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run an interactive conversation",
	Long: `Run an interactive conversation against the configured model.
Each line of input is one turn; the loop ends at EOF, on /quit, or when
the turn limit is reached.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSystemHint, "system", "", "system hint for the conversation")
	chatCmd.Flags().BoolVar(&chatShowReasoning, "show-reasoning", false, "print the model's reasoning trace")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	// Keep the transcript readable; structured logs go to the file only.
	cfg.Logging.Console = false
	if cfg.Logging.File == "" {
		cfg.Logging.Level = "disabled"
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	runner, err := buildRunner(cfg, log)
	if err != nil {
		return err
	}

	conv := runner.StartConversation(chatSystemHint)
	defer runner.EndConversation(conv.ID())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "warden %s (model %s, %d turns max). /quit to exit.\n",
		version, cfg.Model.Name, cfg.Limits.MaxTurns)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			break
		}

		result, err := runner.RunTurn(cmd.Context(), conv.ID(), input)
		if errors.Is(err, orchestrator.ErrTurnLimitExceeded) {
			fmt.Fprintln(out, "Turn limit reached.")
			break
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		switch result.Status {
		case orchestrator.StatusGuardrailRejected:
			fmt.Fprintf(out, "input rejected: %s\n", result.Reason)
		case orchestrator.StatusShieldBlocked:
			fmt.Fprintf(out, "answer withheld: %s\n", result.Reason)
		default:
			if chatShowReasoning && result.HasReasoning {
				fmt.Fprintf(out, "[reasoning] %s\n", result.Reasoning)
			}
			fmt.Fprintln(out, result.Answer)
		}
	}

	usage := conv.Usage()
	fmt.Fprintf(out, "\n%d turns, %d requests, %d tokens.\n",
		conv.TurnCount(), usage.Requests, usage.TotalTokens)
	return scanner.Err()
}

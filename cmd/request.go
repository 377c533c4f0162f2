package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var requestCmd = &cobra.Command{
	Use:   "request [prompt...]",
	Short: "Submit a single request and print the response",
	Long: `Submit one request through the full pipeline (route, execute, score)
and print the JSON response envelope to stdout.

Examples:
  lalo-core request "what is a goroutine"
  lalo-core request --user alice "design a caching layer for our API"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequest,
}

func init() {
	requestCmd.Flags().String("user", "cli", "user id to attribute the request to")
}

func runRequest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Store.Close()

	userID, _ := cmd.Flags().GetString("user")
	prompt := strings.Join(args, " ")

	resp := app.Handler.Handle(ctx, principalFor(app, userID), prompt)

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(out))
	if resp.Error != nil {
		return fmt.Errorf("request failed: %s", resp.Error.Message)
	}
	return nil
}

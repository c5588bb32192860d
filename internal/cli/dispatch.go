package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"market-risk-alerts/internal/app"
)

var (
	dispatchIDs   []string
	dispatchFile  string
	dispatchAsync bool
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Fan a batch of alert ids out to the workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := append([]string(nil), dispatchIDs...)
		if dispatchFile != "" {
			fromFile, err := readIDs(dispatchFile)
			if err != nil {
				return err
			}
			ids = append(ids, fromFile...)
		}
		if len(ids) == 0 {
			return fmt.Errorf("--ids or --file must be provided")
		}

		return getApp().Dispatch(cmd.Context(), app.DispatchOptions{AlertIDs: ids, Async: dispatchAsync})
	},
}

// readIDs reads one alert id per line; "-" reads stdin.
func readIDs(path string) ([]string, error) {
	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}

	var ids []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ids, nil
}

func init() {
	dispatchCmd.Flags().StringSliceVar(&dispatchIDs, "ids", nil, "Comma separated alert ids")
	dispatchCmd.Flags().StringVar(&dispatchFile, "file", "", "File with one alert id per line (- for stdin)")
	dispatchCmd.Flags().BoolVar(&dispatchAsync, "async", false, "Submit the fan-out as a task and print its handle")
}

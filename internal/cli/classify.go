package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentlens/internal/detect"
)

var (
	classifyAccept    string
	classifyUserAgent string
	classifyFormat    string
)

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringVar(&classifyAccept, "accept", "", "Accept header value")
	classifyCmd.Flags().StringVar(&classifyUserAgent, "user-agent", "", "User-Agent header value")
	classifyCmd.Flags().StringVarP(&classifyFormat, "format", "f", "text", "Output format (text|json)")
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a header pair the way the proxy does",
	Long: "Runs the request classifier on the given Accept and User-Agent values\n" +
		"and prints the verdict. Useful to check how a client will be reported.",
	Example: `  agentlens classify --accept text/markdown --user-agent "claude-code/1.0.0"`,
	RunE:    runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	v := detect.ClassifyValues(classifyAccept, classifyUserAgent)

	switch classifyFormat {
	case "json":
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	case "text":
		fmt.Fprintf(cmd.OutOrStdout(), "agent: %t\ntype:  %s\n", v.IsAgent, v.Kind)
	default:
		return fmt.Errorf("unknown format %q (want text or json)", classifyFormat)
	}
	return nil
}

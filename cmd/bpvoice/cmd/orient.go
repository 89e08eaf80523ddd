package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/bpvoice/internal/frame"
	"github.com/MeKo-Tech/bpvoice/internal/messages"
	"github.com/MeKo-Tech/bpvoice/internal/orientation"
	"github.com/spf13/cobra"
)

// orientResult is the JSON form of an orientation check.
type orientResult struct {
	Verdict  orientation.Verdict  `json:"verdict"`
	Guidance orientation.Guidance `json:"guidance"`
	Aligned  bool                 `json:"aligned"`
	Message  string               `json:"message"`
}

// orientCmd represents the orient command.
var orientCmd = &cobra.Command{
	Use:   "orient <frame>",
	Short: "Check whether the monitor display is positioned for a reading",
	Long: `Analyze one photo and report where the bright display panel sits in the frame
together with the single positioning instruction a user would hear.

Examples:
  bpvoice orient frame.jpg
  bpvoice orient frame.jpg --format json --language en`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		speak, _ := cmd.Flags().GetBool("speak")

		img, _, err := frame.Load(args[0])
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", args[0], err)
		}
		analyzer, err := orientation.NewAnalyzer(cfg.Orientation)
		if err != nil {
			return err
		}

		verdict, guidance := analyzer.Guide(img)
		res := orientResult{
			Verdict:  verdict,
			Guidance: guidance,
			Aligned:  analyzer.Aligned(verdict),
			Message:  messages.New(cfg.Language).Guidance(guidance),
		}

		out := cmd.OutOrStdout()
		switch format {
		case outputFormatJSON:
			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, string(data))
		case outputFormatText:
			_, _ = fmt.Fprintf(out, "Guidance: %s\n", guidance)
			_, _ = fmt.Fprintf(out, "Message: %s\n", res.Message)
			if verdict.HasDisplay {
				_, _ = fmt.Fprintf(out, "Offset: x=%+.1f%% y=%+.1f%%\n", verdict.CenterOffsetX, verdict.CenterOffsetY)
				_, _ = fmt.Fprintf(out, "Size: %.1f%%\n", verdict.EstimatedSize)
			}
			_, _ = fmt.Fprintf(out, "Aligned: %t\n", res.Aligned)
		default:
			return fmt.Errorf("unsupported output format: %s", format)
		}

		if speak {
			return say(cfg, res.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(orientCmd)
	orientCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	orientCmd.Flags().Bool("speak", false, "speak the instruction")
}

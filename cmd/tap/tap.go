// Package tap implements the tap command: scan capture files with one
// matching stream per transport flow.
package tap

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/streamregex/streamregex/cmd/scan"
	"github.com/streamregex/streamregex/internal/pkg/capture"
	"github.com/streamregex/streamregex/internal/pkg/output"
	"github.com/streamregex/streamregex/internal/pkg/registry"
	"github.com/streamregex/streamregex/internal/pkg/signals"
)

var TapCmd = &cobra.Command{
	Use:   "tap <file.pcap> [more.pcap...]",
	Short: "Scan pcap files flow by flow",
	Long: `Scan packet capture files against a pattern set.

Each transport flow in the capture is matched as its own stream, so a
pattern split across packets of one flow is still found while packets of
unrelated flows never combine into false matches.

Example:
  streamregex tap --ruleset indicators.yaml traffic.pcap
  streamregex tap -R indicators.yaml -o json day1.pcap day2.pcap`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTap,
}

var (
	rulesetFile string
	setName     string
	format      string
)

func init() {
	TapCmd.Flags().StringVarP(&rulesetFile, "ruleset", "R", "", "pattern set YAML file")
	TapCmd.Flags().StringVar(&setName, "set", "", "load the active pattern set with this name from the store")
	TapCmd.Flags().StringVarP(&format, "format", "o", "text", "output format (text, json)")
}

func runTap(cmd *cobra.Command, args []string) error {
	set, err := scan.LoadSet(cmd.Context(), rulesetFile, setName)
	if err != nil {
		return err
	}

	var reg registry.Registry
	h := reg.Install(set)
	defer h.Release()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	cleanup := signals.SetupHandler(ctx, cancel)
	defer cleanup()

	w := output.NewDetectionWriter(os.Stdout, format)
	for _, path := range args {
		err := capture.ScanFile(ctx, path, h, func(d capture.Detection) {
			w.WriteFlow(d)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

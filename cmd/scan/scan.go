// Package scan implements the scan command: compile a pattern set and
// run it over files or stdin.
package scan

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/streamregex/streamregex/internal/pkg/config"
	"github.com/streamregex/streamregex/internal/pkg/output"
	"github.com/streamregex/streamregex/internal/pkg/registry"
	"github.com/streamregex/streamregex/internal/pkg/ruleset"
	"github.com/streamregex/streamregex/internal/pkg/store"
	"github.com/streamregex/streamregex/internal/pkg/stream"
)

var ScanCmd = &cobra.Command{
	Use:   "scan [files...]",
	Short: "Scan files or stdin against a pattern set",
	Long: `Scan input against a compiled pattern set and print detections.

With no file arguments, scan reads stdin. Each input is treated as one
stream: matches may span read boundaries, and end-anchored patterns are
resolved when the stream ends.

Example:
  streamregex scan --ruleset indicators.yaml access.log
  cat traffic.bin | streamregex scan -R indicators.yaml
  streamregex scan --set indicators file.bin   # set stored in Postgres`,
	RunE: runScan,
}

var (
	rulesetFile string
	setName     string
	format      string
)

func init() {
	ScanCmd.Flags().StringVarP(&rulesetFile, "ruleset", "R", "", "pattern set YAML file")
	ScanCmd.Flags().StringVar(&setName, "set", "", "load the active pattern set with this name from the store")
	ScanCmd.Flags().StringVarP(&format, "format", "o", "text", "output format (text, json)")
}

// LoadSet compiles the pattern set selected by the --ruleset or --set
// flags, consulting the configured store for the latter.
func LoadSet(ctx context.Context, file, name string) (*registry.PatternSet, error) {
	switch {
	case file != "":
		f, err := ruleset.Load(file)
		if err != nil {
			return nil, err
		}
		return ruleset.CompileSet(f, config.Engine())
	case name != "":
		dsn := config.StoreDSN()
		if dsn == "" {
			return nil, fmt.Errorf("--set requires store.dsn to be configured")
		}
		st, err := store.Open(dsn)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		f, _, err := st.LoadActiveSet(ctx, name)
		if err != nil {
			return nil, err
		}
		return ruleset.CompileSet(f, config.Engine())
	default:
		return nil, fmt.Errorf("either --ruleset or --set is required")
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	set, err := LoadSet(cmd.Context(), rulesetFile, setName)
	if err != nil {
		return err
	}

	var reg registry.Registry
	h := reg.Install(set)
	defer h.Release()

	w := output.NewDetectionWriter(os.Stdout, format)

	if len(args) == 0 {
		return scanReader("", os.Stdin, h, w)
	}
	for _, path := range args {
		// #nosec G304 -- Paths come from the command line, the operator owns them
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		err = scanReader(path, f, h, w)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// scanReader runs one stream over a reader in fixed-size chunks.
func scanReader(name string, r io.Reader, h *registry.Handle, w *output.DetectionWriter) error {
	cursor := stream.Open(h)
	buf := make([]byte, config.ChunkSize())

	var emitErr error
	emit := func(d stream.Detection) {
		if emitErr == nil {
			emitErr = w.Write(name, d)
		}
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := cursor.FeedTo(buf[:n], emit); ferr != nil {
				cursor.Close()
				return ferr
			}
			if emitErr != nil {
				cursor.Close()
				return emitErr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			cursor.Close()
			return fmt.Errorf("read %s: %w", name, err)
		}
	}

	final, err := cursor.Close()
	if err != nil {
		return err
	}
	for _, d := range final {
		if err := w.Write(name, d); err != nil {
			return err
		}
	}
	return emitErr
}

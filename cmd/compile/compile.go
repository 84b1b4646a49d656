// Package compile implements the compile command: build a pattern set
// without scanning, report its cost, and optionally persist it.
package compile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/streamregex/streamregex/internal/pkg/config"
	"github.com/streamregex/streamregex/internal/pkg/output"
	"github.com/streamregex/streamregex/internal/pkg/ruleset"
	"github.com/streamregex/streamregex/internal/pkg/simd"
	"github.com/streamregex/streamregex/internal/pkg/store"
)

var CompileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile a pattern set and report automaton statistics",
	Long: `Compile a pattern set YAML file without scanning anything.

Compilation either succeeds within the configured state budget or fails
with the limit that was exceeded, so this doubles as a lint step for
pattern sets before deployment. With --save the compiled set's source is
stored in Postgres as a new version; --activate additionally makes that
version the active one.

Example:
  streamregex compile --ruleset indicators.yaml
  streamregex compile -R indicators.yaml --json
  streamregex compile -R indicators.yaml --save --activate`,
	RunE: runCompile,
}

var (
	rulesetFile string
	asJSON      bool
	save        bool
	activate    bool
)

func init() {
	CompileCmd.Flags().StringVarP(&rulesetFile, "ruleset", "R", "", "pattern set YAML file")
	CompileCmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	CompileCmd.Flags().BoolVar(&save, "save", false, "store the set as a new version")
	CompileCmd.Flags().BoolVar(&activate, "activate", false, "activate the stored version (implies --save)")
	CompileCmd.MarkFlagRequired("ruleset")
}

type stats struct {
	Name          string  `json:"name"`
	Patterns      int     `json:"patterns"`
	States        int     `json:"states"`
	StateBudget   int     `json:"state_budget"`
	MemoryBytes   int     `json:"memory_bytes"`
	Prefilter     string  `json:"prefilter"`
	Selectivity   float64 `json:"estimated_selectivity"`
	ScanFeatures  string  `json:"scan_features"`
	CompileMillis int64   `json:"compile_ms"`
	StoredVersion string  `json:"stored_version,omitempty"`
	ActiveInStore bool    `json:"active_in_store,omitempty"`
}

func runCompile(cmd *cobra.Command, args []string) error {
	f, err := ruleset.Load(rulesetFile)
	if err != nil {
		return err
	}

	cfg := config.Engine()
	started := time.Now()
	set, err := ruleset.CompileSet(f, cfg)
	if err != nil {
		return err
	}

	st := stats{
		Name:          set.Name,
		Patterns:      set.Automaton.PatternCount(),
		States:        set.Automaton.NumStates(),
		StateBudget:   cfg.StateBudget,
		MemoryBytes:   set.Automaton.MemoryFootprint(),
		Prefilter:     set.Plan.Stats().Summary(),
		Selectivity:   set.Plan.Stats().EstimatedSelectivity,
		ScanFeatures:  simd.GetCPUFeatures().Summary(),
		CompileMillis: time.Since(started).Milliseconds(),
	}

	if save || activate {
		version, err := persist(cmd.Context(), f)
		if err != nil {
			return err
		}
		st.StoredVersion = version
		st.ActiveInStore = activate
	}

	if asJSON {
		data, err := output.MarshalJSON(st)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("set:         %s\n", st.Name)
	fmt.Printf("patterns:    %d\n", st.Patterns)
	fmt.Printf("states:      %d / %d budget\n", st.States, st.StateBudget)
	fmt.Printf("memory:      %d bytes\n", st.MemoryBytes)
	fmt.Printf("prefilter:   %s\n", st.Prefilter)
	fmt.Printf("selectivity: %.2f\n", st.Selectivity)
	fmt.Printf("scan cpu:    %s\n", st.ScanFeatures)
	fmt.Printf("compiled in: %dms\n", st.CompileMillis)
	if st.StoredVersion != "" {
		fmt.Printf("stored as:   %s (active: %v)\n", st.StoredVersion, st.ActiveInStore)
	}
	return nil
}

func persist(ctx context.Context, f *ruleset.File) (string, error) {
	dsn := config.StoreDSN()
	if dsn == "" {
		return "", fmt.Errorf("--save requires store.dsn to be configured")
	}
	s, err := store.Open(dsn)
	if err != nil {
		return "", err
	}
	defer s.Close()

	version := uuid.NewString()
	if err := s.SaveSet(ctx, f, version); err != nil {
		return "", err
	}
	if activate {
		if err := s.Activate(ctx, f.Name, version); err != nil {
			return "", err
		}
	}
	return version, nil
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/tier1"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run a self-check pass: store, query, vector-search, and archive one probe record",
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	fmt.Printf("configuration... OK (storage root: %s)\n", cfg.Storage.Root)

	eng, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("engine construction: %w", err)
	}
	defer eng.Close()
	fmt.Println("tier1/tier2/tier3/vector construction... OK")

	ctx := cmd.Context()
	probe, err := katra.Create(katra.CreateOptions{
		CIID:    "katra-verify",
		Type:    katra.TypeExperience,
		Content: "self-check probe record written by katra verify",
	})
	if err != nil {
		return fmt.Errorf("building probe record: %w", err)
	}
	if err := eng.enc.Store(ctx, probe); err != nil {
		return fmt.Errorf("storing probe record: %w", err)
	}
	fmt.Println("universal encoder store... OK")

	recs, err := eng.tier1.Query(tier1.Criteria{CIID: probe.CIID})
	if err != nil || len(recs) == 0 {
		return fmt.Errorf("tier1 query did not return the probe record: %w", err)
	}
	fmt.Println("tier1 query... OK")

	if cfg.Vector.UseVectorSearch {
		results, err := eng.vector.Search(ctx, probe.CIID, "self-check probe", 5, 0)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		if len(results) == 0 {
			return fmt.Errorf("vector search returned no results for the probe record")
		}
		fmt.Println("vector search... OK")
	}

	if err := eng.enc.Archive(probe.CIID, probe.RecordID); err != nil {
		return fmt.Errorf("archiving probe record: %w", err)
	}
	fmt.Println("archive... OK")

	fmt.Printf("\nall checks passed in %s\n", time.Now().Format(time.RFC3339))
	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"synapseqc/pkg/catalog"
	"synapseqc/pkg/config"
	"synapseqc/pkg/features"
	"synapseqc/pkg/pipeline"
	"synapseqc/pkg/records"
)

// check flags
var (
	checkReport       string
	checkSnapshot     string
	checkSnapshotAxis string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the annotation checks on every synapse",
	RunE: func(cmd *cobra.Command, args []string) error {
		if checkSnapshot != "" {
			cfg.Checks.SnapshotDir = checkSnapshot
		}
		if checkSnapshotAxis != "" {
			cfg.Checks.SnapshotAxis = checkSnapshotAxis
		}
		params, err := pipeline.ParamsFromConfig(cfg, false)
		if err != nil {
			return err
		}

		start := time.Now()
		runner := pipeline.NewRunner(params)
		reports, err := runner.Check(cmd.Context())
		if err != nil {
			return fmt.Errorf("check failed: %w", err)
		}

		flagged := 0
		for _, r := range reports {
			if !r.OK() {
				flagged++
			}
		}
		summary := runner.Summary()
		fmt.Printf("\nChecked %s synapses in %s chunks in %.2f seconds\n",
			humanize.Comma(int64(summary.Synapses)), humanize.Comma(int64(summary.Chunks)), time.Since(start).Seconds())
		fmt.Printf("Synapses with findings: %s\n", humanize.Comma(int64(flagged)))

		if checkReport != "" {
			if err := records.SaveValue(checkReport, reports); err != nil {
				return err
			}
			fmt.Printf("Report saved to: %s (%s)\n", checkReport, fileSize(checkReport))
		}
		return nil
	},
}

// extract flags
var (
	extractOutput string
	extractDB     string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract the feature record of every synapse",
	RunE: func(cmd *cobra.Command, args []string) error {
		if extractOutput != "" {
			cfg.Output.RecordsFile = extractOutput
		}
		if extractDB != "" {
			cfg.Output.DatabaseFile = extractDB
		}
		params, err := pipeline.ParamsFromConfig(cfg, true)
		if err != nil {
			return err
		}

		start := time.Now()
		runner := pipeline.NewRunner(params)
		recs, err := runner.Extract(cmd.Context())
		if err != nil {
			return fmt.Errorf("extraction failed: %w", err)
		}

		if err := records.SaveJSON(cfg.Output.RecordsFile, recs); err != nil {
			return err
		}
		if cfg.Output.DatabaseFile != "" {
			if err := saveDatabase(cmd.Context(), cfg.Output.DatabaseFile, recs); err != nil {
				return err
			}
		}

		skipped := 0
		for _, r := range recs {
			if r.Skipped() {
				skipped++
			}
		}
		fmt.Printf("\nExtracted %s records (%s skipped) in %.2f seconds\n",
			humanize.Comma(int64(len(recs))), humanize.Comma(int64(skipped)), time.Since(start).Seconds())
		fmt.Printf("Records saved to: %s (%s)\n", cfg.Output.RecordsFile, fileSize(cfg.Output.RecordsFile))
		return nil
	},
}

func saveDatabase(ctx context.Context, path string, recs []*features.Record) error {
	db, err := records.NewSQLite(path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Save(ctx, recs); err != nil {
		return fmt.Errorf("failed to save records to %s: %w", path, err)
	}
	fmt.Printf("Records saved to: %s (%s)\n", path, fileSize(path))
	return nil
}

// loadRecords reads the records from the SQLite catalogue when one is named,
// from the JSON records file otherwise
func loadRecords(ctx context.Context, c *config.Config, dbPath string) ([]*features.Record, error) {
	if dbPath != "" {
		db, err := records.NewSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return db.Load(ctx)
	}
	return records.LoadJSON(c.Output.RecordsFile)
}

// loadSynapse reads the annotations of one physical synapse, querying the
// SQLite catalogue when one is named
func loadSynapse(ctx context.Context, c *config.Config, dbPath string, id int64) ([]*features.Record, error) {
	if dbPath != "" {
		db, err := records.NewSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return db.BySynapseID(ctx, id)
	}
	all, err := records.LoadJSON(c.Output.RecordsFile)
	if err != nil {
		return nil, err
	}
	var recs []*features.Record
	for _, r := range all {
		if r.SynapseID == id {
			recs = append(recs, r)
		}
	}
	return recs, nil
}

// group flags
var (
	groupPolicy   string
	groupFeatures []string
	groupKeys     []string
	groupOutput   string
	groupDB       string
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Group extracted features by annotator or neurotransmitter type",
	Long: `Group extracted features. With --key the named features are grouped by
the given key tuple; without it every feature is grouped by neurotransmitter
type and by annotator.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := catalog.ParsePolicy(groupPolicy)
		if err != nil {
			return err
		}
		var feats []catalog.Feature
		for _, name := range groupFeatures {
			f, err := catalog.ParseFeature(name)
			if err != nil {
				return err
			}
			feats = append(feats, f)
		}
		var keys []catalog.KeyKind
		for _, name := range groupKeys {
			k, err := catalog.ParseKeyKind(name)
			if err != nil {
				return err
			}
			keys = append(keys, k)
		}

		recs, err := loadRecords(cmd.Context(), cfg, groupDB)
		if err != nil {
			return err
		}

		output := cfg.Output.GroupsFile
		if groupOutput != "" {
			output = groupOutput
		}

		var result interface{}
		if len(keys) > 0 {
			if len(feats) == 0 {
				feats = catalog.DefaultFeatures
			}
			groups := make(map[string]*catalog.Grouping, len(feats))
			for _, f := range feats {
				g, err := catalog.Group(recs, f, keys, policy)
				if err != nil {
					return err
				}
				groups[string(f)] = g
			}
			result = groups
		} else {
			conditions, err := catalog.GroupAll(recs, feats, policy)
			if err != nil {
				return err
			}
			result = conditions
		}

		if err := records.SaveValue(output, result); err != nil {
			return err
		}
		fmt.Printf("Grouped %s records with policy %s\n", humanize.Comma(int64(len(recs))), policy)
		fmt.Printf("Groups saved to: %s (%s)\n", output, fileSize(output))
		return nil
	},
}

// duplicates flags
var (
	duplicatesOutput  string
	duplicatesDB      string
	duplicatesSynapse int64
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List the pairs of records annotating the same synapse",
	RunE: func(cmd *cobra.Command, args []string) error {
		var recs []*features.Record
		var err error
		if cmd.Flags().Changed("synapse-id") {
			recs, err = loadSynapse(cmd.Context(), cfg, duplicatesDB, duplicatesSynapse)
		} else {
			recs, err = loadRecords(cmd.Context(), cfg, duplicatesDB)
		}
		if err != nil {
			return err
		}
		pairs := catalog.ExtractDuplicates(recs)
		if pairs == nil {
			pairs = []*features.Record{}
		}
		if err := records.SaveJSON(duplicatesOutput, pairs); err != nil {
			return err
		}
		fmt.Printf("Found %s duplicate pairs among %s records\n",
			humanize.Comma(int64(len(pairs)/2)), humanize.Comma(int64(len(recs))))
		fmt.Printf("Pairs saved to: %s (%s)\n", duplicatesOutput, fileSize(duplicatesOutput))
		return nil
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a configuration file with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.CreateDefaultConfigFile(cfgFile); err != nil {
			return err
		}
		fmt.Printf("Default configuration written to %s\n", cfgFile)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkReport, "report", "", "write the check reports to this JSON file")
	checkCmd.Flags().StringVar(&checkSnapshot, "snapshots", "", "write PNG planes of flagged layers below this directory")
	checkCmd.Flags().StringVar(&checkSnapshotAxis, "snapshot-axis", "", "axis the snapshot planes are cut along: x, y or z (overrides config)")

	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "records file (overrides config)")
	extractCmd.Flags().StringVar(&extractDB, "db", "", "also save the records to this SQLite database")

	groupCmd.Flags().StringVar(&groupPolicy, "policy", string(catalog.Unique), "duplicate policy: unique, same or all")
	groupCmd.Flags().StringSliceVar(&groupFeatures, "feature", nil, "feature to group (repeatable, default: all)")
	groupCmd.Flags().StringSliceVar(&groupKeys, "key", nil, "grouping key: by_annotators or by_nt_types (repeatable)")
	groupCmd.Flags().StringVarP(&groupOutput, "output", "o", "", "groups file (overrides config)")
	groupCmd.Flags().StringVar(&groupDB, "db", "", "read the records from this SQLite database")

	duplicatesCmd.Flags().StringVarP(&duplicatesOutput, "output", "o", "duplicate_statistics.json", "pairs file")
	duplicatesCmd.Flags().StringVar(&duplicatesDB, "db", "", "read the records from this SQLite database")
	duplicatesCmd.Flags().Int64Var(&duplicatesSynapse, "synapse-id", 0, "only pair the annotations of this synapse ID")
}

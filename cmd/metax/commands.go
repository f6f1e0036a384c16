package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"metax/internal/legacy"
	"metax/internal/v2sync"
	"metax/pkg/domain"
)

func newRetrySyncCmd(opts *rootOptions) *cobra.Command {
	var retry v2sync.RetryOptions
	cmd := &cobra.Command{
		Use:   "retry-sync-datasets",
		Short: "Retry failed and incomplete V2 synchronizations",
		Long: `Retries every dataset whose last V2 synchronization failed or never finished.
With --identifiers only the listed datasets are retried; --force also
resyncs them when their last sync succeeded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			if !a.syncer.Enabled() {
				return errors.New("v2 sync is not enabled")
			}
			started := time.Now()
			report, err := a.syncer.Retry(ctx, retry)
			if err != nil {
				return err
			}
			for action, n := range report.Failed {
				cmd.Printf("%s: %s to retry\n", action, humanize.Comma(int64(n)))
			}
			failed := 0
			for _, o := range report.Outcomes {
				switch {
				case o.Error != "":
					failed++
					cmd.Printf("FAIL %s %s: %s\n", o.Action, o.DatasetID, o.Error)
				case o.Skipped != "":
					cmd.Printf("skip %s %s: %s\n", o.Action, o.DatasetID, o.Skipped)
				default:
					cmd.Printf("ok   %s %s (%s)\n", o.Action, o.DatasetID, o.Duration.Round(time.Millisecond))
				}
			}
			for _, id := range report.Missing {
				cmd.Printf("missing dataset %s\n", id)
			}
			if report.Cleaned > 0 {
				cmd.Printf("removed %d statuses of missing datasets\n", report.Cleaned)
			}
			cmd.Printf("retried %d syncs in %s\n", len(report.Outcomes), time.Since(started).Round(time.Millisecond))
			if failed > 0 {
				return fmt.Errorf("%d syncs failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&retry.Identifiers, "identifiers", nil, "Dataset identifiers to retry")
	cmd.Flags().BoolVar(&retry.Force, "force", false, "Resync the listed datasets even if their last sync succeeded")
	cmd.Flags().BoolVar(&retry.CleanMissing, "clean-missing", false, "Delete sync statuses of datasets that no longer exist")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var (
		file        string
		fromV2      bool
		identifiers []string
		convertOnly bool
		force       bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "migrate-v2-datasets",
		Short: "Import datasets from V2",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (file == "") == !fromV2 {
				return errors.New("exactly one of --file and --from-v2 is required")
			}
			if fromV2 && len(identifiers) == 0 {
				return errors.New("--from-v2 requires --identifiers")
			}
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			mopts := []legacy.MigratorOption{legacy.WithLogger(a.log), legacy.WithForce(force), legacy.WithConcurrency(concurrency)}
			var src *legacy.V2Source
			if fromV2 {
				src = legacy.NewV2Source(a.cfg.V2)
				mopts = append(mopts, legacy.WithFiles(src))
			}
			m := legacy.NewMigrator(a.core, a.blobs, mopts...)

			if convertOnly {
				if fromV2 {
					return errors.New("--convert-only reads documents from --file")
				}
				docs, err := legacy.ReadFile(file)
				if err != nil {
					return err
				}
				for _, doc := range docs {
					res, err := m.Convert(ctx, doc)
					if err != nil {
						return err
					}
					cmd.Printf("%v: %d invalid, %d fixed\n", doc["identifier"], len(res.Invalid), len(res.Fixed))
					for _, p := range res.InvalidPaths() {
						cmd.Printf("  invalid %s\n", p)
					}
					for _, p := range res.FixedPaths() {
						cmd.Printf("  fixed   %s\n", p)
					}
				}
				return nil
			}

			var report legacy.Report
			if fromV2 {
				report, err = m.MigrateFrom(ctx, src, identifiers)
			} else {
				var docs []map[string]any
				if docs, err = legacy.ReadFile(file); err != nil {
					return err
				}
				report, err = m.MigrateAll(ctx, docs)
			}
			for _, o := range report.Outcomes {
				switch {
				case o.Error != "":
					cmd.Printf("FAIL %s: %s\n", o.ID, o.Error)
				case o.Skipped != "":
					cmd.Printf("skip %s: %s\n", o.ID, o.Skipped)
				}
			}
			cmd.Printf("created %s, updated %s, skipped %s, failed %s\n",
				humanize.Comma(int64(report.Created)), humanize.Comma(int64(report.Updated)),
				humanize.Comma(int64(report.Skipped)), humanize.Comma(int64(report.Failed)))
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with a V2 dataset or a list of them")
	cmd.Flags().BoolVar(&fromV2, "from-v2", false, "Fetch datasets from the configured V2 service")
	cmd.Flags().StringSliceVar(&identifiers, "identifiers", nil, "V2 dataset identifiers to fetch")
	cmd.Flags().BoolVar(&convertOnly, "convert-only", false, "Only convert and report invalid and fixed fields")
	cmd.Flags().BoolVar(&force, "force", false, "Migrate unchanged datasets and datasets modified in V3")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Datasets migrated in parallel")
	return cmd
}

func newImportRefdataCmd(opts *rootOptions) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "import-refdata",
		Short: "Import reference data vocabularies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			selected := make([]domain.RefdataType, 0, len(types))
			for _, t := range types {
				selected = append(selected, domain.RefdataType(t))
			}
			counts, err := a.refdata.Import(ctx, selected)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(counts))
			for t := range counts {
				names = append(names, string(t))
			}
			sort.Strings(names)
			for _, name := range names {
				c := counts[domain.RefdataType(name)]
				cmd.Printf("%s: %s new, %s existing, %s deprecated\n", name,
					humanize.Comma(int64(c.New)), humanize.Comma(int64(c.Existing)), humanize.Comma(int64(c.Deprecated)))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", nil, "Reference data types to import (default all)")
	return cmd
}

func newPublishREMSCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-rems-datasets",
		Short: "Publish all REMS enabled datasets to REMS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			if a.rems == nil {
				return errors.New("rems is not enabled")
			}
			report, err := a.rems.PublishAll(ctx)
			if err != nil {
				return err
			}
			for id, msg := range report.Failed {
				cmd.Printf("FAIL %s: %s\n", id, msg)
			}
			cmd.Printf("published %s datasets\n", humanize.Comma(int64(len(report.Published))))
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d datasets failed", len(report.Failed))
			}
			return nil
		},
	}
}

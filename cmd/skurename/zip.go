package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/skurename/internal/core"
	"github.com/spf13/cobra"
)

func newZipCmd(opts *options) *cobra.Command {
	var in, out, csvOut string

	cmd := &cobra.Command{
		Use:   "zip",
		Short: "Rename the images of a ZIP archive into a new archive",
		Long: `Reads the images of --in (macOS __MACOSX entries are ignored) and writes the
renamed JPEGs to --out. The annotated SKU table is written to --csv-out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if out == "" {
				out = core.ArchiveName(now)
			}
			if csvOut == "" {
				csvOut = filepath.Join(filepath.Dir(out), core.ResultCSVName(now))
			}

			svc := opts.newService(cmd.ErrOrStderr())
			res, err := opts.execute(cmd, svc, core.RunRequest{
				Source:      core.SourceArchive,
				ArchivePath: in,
				OutputPath:  out,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if err := opts.report(w, res); err != nil {
				return err
			}

			data, _, err := svc.AnnotatedCSV(cmd.Context(), res.RunID)
			if err != nil {
				return err
			}
			if err := os.WriteFile(csvOut, data, 0o644); err != nil {
				return fmt.Errorf("write result csv: %w", err)
			}

			fmt.Fprintf(w, "Archive:      %s\n", out)
			fmt.Fprintf(w, "Result table: %s\n", csvOut)
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "input ZIP archive")
	cmd.Flags().StringVar(&out, "out", "", "output ZIP archive (default imagens_processadas_YYYYMMDD_HHMM.zip)")
	cmd.Flags().StringVar(&csvOut, "csv-out", "", "annotated SKU table (default resultado_YYYYMMDD_HHMM.csv next to --out)")
	cmd.MarkFlagRequired("in")
	return cmd
}

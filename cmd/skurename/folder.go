package main

import (
	"fmt"
	"path/filepath"

	"github.com/JonMunkholm/skurename/internal/core"
	"github.com/spf13/cobra"
)

func newFolderCmd(opts *options) *cobra.Command {
	var src, dest string

	cmd := &cobra.Command{
		Use:   "folder",
		Short: "Rename the images of a folder tree into a destination folder",
		Long: `Walks --src recursively and writes renamed JPEGs to --dest, together with
the SKU table annotated with an IMAGES column (resultado_YYYYMMDD_HHMM.csv).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := opts.newService(cmd.ErrOrStderr())

			res, err := opts.execute(cmd, svc, core.RunRequest{
				Source:    core.SourceFolder,
				SourceDir: src,
				DestDir:   dest,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := opts.report(out, res); err != nil {
				return err
			}
			if res.CSVName != "" {
				fmt.Fprintf(out, "Result table: %s\n", filepath.Join(res.DestDir, res.CSVName))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&src, "src", "", "source folder")
	cmd.Flags().StringVar(&dest, "dest", "", "destination folder (created if missing)")
	cmd.MarkFlagRequired("src")
	cmd.MarkFlagRequired("dest")
	return cmd
}

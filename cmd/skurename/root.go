package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/JonMunkholm/skurename/internal/core"
	"github.com/JonMunkholm/skurename/internal/logging"
	"github.com/spf13/cobra"
)

// options are the flags shared by every subcommand.
type options struct {
	csvPath     string
	counterMode string
	logLevel    string
	timeout     time.Duration
	showLog     bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "skurename",
		Short: "Rename product photos to SKU_CODE_NN.jpg using a SKU table",
		Long: `skurename maps the first five characters of each image filename to a SKU
from a CSV table (columns CÓDIGO or CODE, and SKU), re-encodes the image as
JPEG and names it SKU_CODE_NN. At most six images per folder are processed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.csvPath, "csv", "", "SKU table (CSV)")
	pf.StringVar(&opts.counterMode, "counter-mode", string(core.CounterShared), `sequence numbering: "shared" or "per_code"`)
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.DurationVar(&opts.timeout, "timeout", core.DefaultRunTimeout, "maximum run duration")
	pf.BoolVar(&opts.showLog, "log", false, "print the run log")
	root.MarkPersistentFlagRequired("csv")

	root.AddCommand(newFolderCmd(opts), newZipCmd(opts))
	return root
}

// newService builds a service for one local run.
func (o *options) newService(stderr io.Writer) *core.Service {
	return core.NewService(core.ServiceOptions{
		CounterMode: core.CounterMode(o.counterMode),
		FolderMode:  true,
		RunTimeout:  o.timeout,
		Logger:      logging.New(stderr, o.logLevel, "text"),
	})
}

// execute runs req to completion, reporting progress on stderr.
func (o *options) execute(cmd *cobra.Command, svc *core.Service, req core.RunRequest) (*core.RunResult, error) {
	mapping, err := os.ReadFile(o.csvPath)
	if err != nil {
		return nil, fmt.Errorf("mapping load failed: %w", err)
	}
	req.Mapping = mapping
	req.MappingName = o.csvPath

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runID, err := svc.StartRun(ctx, req)
	if err != nil {
		return nil, err
	}

	progress, err := svc.SubscribeProgress(runID)
	if err != nil {
		return nil, err
	}

	// Interrupting the command cancels the run; images already written stay.
	stop := context.AfterFunc(ctx, func() { svc.Cancel(runID) })
	defer stop()

	stderr := cmd.ErrOrStderr()
	for p := range progress {
		if p.Total > 0 && p.Current > 0 {
			fmt.Fprintf(stderr, "\r%3d%% %d/%d", p.Percent(), p.Current, p.Total)
		}
	}
	fmt.Fprintln(stderr)

	return svc.Wait(context.Background(), runID)
}

// report prints the run summary and, when asked, the log.
func (o *options) report(w io.Writer, res *core.RunResult) error {
	if o.showLog {
		io.WriteString(w, res.Log())
	}

	if r := res.Result; r != nil {
		fmt.Fprintf(w, "Total images: %d\n", r.Total)
		fmt.Fprintf(w, "Processed:    %d\n", r.Succeeded)
		fmt.Fprintf(w, "Failures:     %d\n", r.Failed())
		fmt.Fprintf(w, "Success rate: %.1f%%\n", r.SuccessRate())
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  failed: %s (%s)\n", f.File, f.Reason)
		}
	}
	if dropped := res.Dropped(); dropped > 0 {
		fmt.Fprintf(w, "Skipped by the limit of %d per folder: %d\n", core.MaxImagesPerGroup, dropped)
	}

	switch res.Phase() {
	case core.PhaseCancelled:
		return userError("run cancelled")
	case core.PhaseFailed:
		return errors.New(res.Error)
	}
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/results"
)

func newRecordCmd() *cobra.Command {
	var (
		configPath string
		in         results.Input
		outcome    string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the result of a sample's current test",
		Long: `Records a pass or fail verdict for the test a sample is currently running,
advances the sample and runs a scheduling pass against the saved snapshot.

Do not use while "labyard serve" is running against the same store; submit
results through the dashboard API instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Outcome = lab.Outcome(outcome)
			return runRecord(cmd, configPath, in)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to labyard config file")
	cmd.Flags().StringVar(&in.SampleID, "sample", "", "sample id (required)")
	cmd.Flags().StringVar(&in.Test, "test", "", "test name (required)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "pass or fail (required)")
	cmd.Flags().StringVar(&in.Remarks, "remarks", "", "operator remarks (required)")
	cmd.Flags().BoolVar(&in.NC, "nc", false, "record a non-conformance observation on a pass")
	cmd.Flags().StringVar(&in.NCType, "nc-type", "", "non-conformance classification")
	cmd.Flags().StringSliceVar(&in.Evidence.Before, "before", nil, "before-test evidence references")
	cmd.Flags().StringSliceVar(&in.Evidence.After, "after", nil, "after-test evidence references")
	cmd.Flags().BoolVar(&in.ContinueOnFail, "continue-on-fail", false, "keep running the remaining tests after a failure")
	cmd.MarkFlagRequired("sample")
	cmd.MarkFlagRequired("test")
	cmd.MarkFlagRequired("outcome")
	return cmd
}

func runRecord(cmd *cobra.Command, configPath string, in results.Input) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, pass, err := rt.sup.RecordResult(ctx, in)
	if err != nil {
		return err
	}
	rt.sup.Save(ctx)

	fmt.Fprintf(out, "Recorded %s on %s: %s\n", in.Test, in.SampleID, in.Outcome)
	for _, name := range rec.Skipped {
		fmt.Fprintf(out, "  skipped %s\n", name)
	}
	if rec.SampleCompleted {
		fmt.Fprintf(out, "Sample %s completed\n", in.SampleID)
	}
	if rec.SKUReport != nil {
		fmt.Fprintf(out, "SKU %s %s", rec.SKUReport.ModelName, rec.SKUReport.Outcome)
		if rec.SKUReport.Path != "" {
			fmt.Fprintf(out, ", report %s", rec.SKUReport.Path)
		}
		fmt.Fprintln(out)
	}
	if rec.RequestCompleted {
		status := "late"
		if rec.OnTime {
			status = "on time"
		}
		fmt.Fprintf(out, "Request completed %s\n", status)
	}
	for _, ref := range pass.Started {
		fmt.Fprintf(out, "Started %s on %s\n", ref.Test, ref.SampleID)
	}
	return nil
}

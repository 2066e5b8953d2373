package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"beamcombine/internal/models"
	"beamcombine/pkg/combine"
	"beamcombine/pkg/config"
	"beamcombine/pkg/cosmic"
)

func newCombineCmd() *cobra.Command {
	var (
		input      string
		output     string
		prefix     string
		groupsJSON string
		baseName   string
		start      int
		end        int
		workers    int
		wholeGroup bool

		cosmicSigma      float64
		cosmicWindow     int
		cosmicIterations int
		cosmicMin        float64
	)

	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Combine measurement data from multiple folders",
		Long: `Combine averages corresponding images across runs of consecutively
numbered measurement folders. The group configuration assigns folders to
named groups in order; for every pattern index present in all of a group's
folders, the matching images are averaged pixel-wise (NaN-aware) into one
output image.

Cosmic-ray detection is optional: pass any of the --cosmic-* flags to
enable it. Detection runs on each source image before combination, so a
spike in one exposure never contaminates the others.`,
		Example: `  beamcombine combine -i /data/run12 -o /data/run12_combined \
      -s 2 -e 97 -p CaSiO3_2 --config '[{"center": 2, "side": 2}]' \
      --cosmic-sigma 6 --cosmic-window 11`,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := config.ParseGroups(groupsJSON)
			if err != nil {
				return err
			}

			var det *cosmic.Params
			if anyChanged(cmd, "cosmic-sigma", "cosmic-window", "cosmic-iterations", "cosmic-min") {
				det = &cosmic.Params{
					Sigma:        pickF(cmd, "cosmic-sigma", cosmicSigma, cfg.Cosmic.Sigma),
					WindowSize:   pickI(cmd, "cosmic-window", cosmicWindow, cfg.Cosmic.WindowSize),
					Iterations:   pickI(cmd, "cosmic-iterations", cosmicIterations, cfg.Cosmic.Iterations),
					MinIntensity: pickF(cmd, "cosmic-min", cosmicMin, cfg.Cosmic.MinIntensity),
				}
			}
			if !cmd.Flags().Changed("workers") {
				workers = cfg.Combine.Workers
			}

			progress := make(chan models.ProgressReport)
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				for p := range progress {
					if p.PatternIndex >= 0 {
						fmt.Printf("  [%d/%d] %s pattern %05d\n",
							p.CompletedUnits, p.TotalUnits, p.Group, p.PatternIndex)
					} else {
						fmt.Printf("  [%d/%d] %s combined\n",
							p.CompletedUnits, p.TotalUnits, p.Group)
					}
				}
			}()

			job := &combine.Job{
				InputRoot:    input,
				OutputRoot:   output,
				StartIndex:   start,
				EndIndex:     end,
				OutputPrefix: prefix,
				Groups:       groups,
				Detection:    det,
				BaseName:     baseName,
				WholeGroup:   wholeGroup,
				Workers:      workers,
				Progress:     progress,
				Logger:       logger,
			}

			res, err := combine.Run(cmd.Context(), job)
			close(progress)
			<-printed
			if err != nil {
				return err
			}

			for _, ue := range res.UnitErrors {
				logger.Error("unit failed", "error", ue.Error())
			}
			fmt.Printf("Run %s: %d of %d units combined, %d errors\n",
				res.State, res.CompletedUnits, res.TotalUnits, len(res.UnitErrors))

			if res.State == combine.StateCancelled {
				return fmt.Errorf("run cancelled after %d of %d units", res.CompletedUnits, res.TotalUnits)
			}
			if res.TotalUnits > 0 && res.CompletedUnits == 0 && len(res.UnitErrors) > 0 {
				return fmt.Errorf("all %d units failed", res.TotalUnits)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "input folder containing the numbered measurement folders")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output folder for combined data")
	cmd.Flags().IntVarP(&start, "start", "s", 1, "starting folder index")
	cmd.Flags().IntVarP(&end, "end", "e", 100, "ending folder index (inclusive)")
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "prefix for output files")
	cmd.Flags().StringVar(&groupsJSON, "config",
		`[{"num_images": 2, "name": "center"}, {"num_images": 2, "name": "side"}]`,
		"JSON measurement group configuration")
	cmd.Flags().StringVarP(&baseName, "base", "b", "", "restrict to files with this base filename")
	cmd.Flags().IntVar(&workers, "workers", 1, "number of units processed concurrently")
	cmd.Flags().BoolVar(&wholeGroup, "whole-group", false, "fold each group into a single combined output")

	cmd.Flags().Float64Var(&cosmicSigma, "cosmic-sigma", 6.0, "cosmic-ray detection threshold in local standard deviations")
	cmd.Flags().IntVar(&cosmicWindow, "cosmic-window", 11, "window size for local statistics (odd)")
	cmd.Flags().IntVar(&cosmicIterations, "cosmic-iterations", 3, "number of cosmic-ray detection passes")
	cmd.Flags().Float64Var(&cosmicMin, "cosmic-min", 50.0, "minimum intensity for cosmic-ray candidates")

	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func anyChanged(cmd *cobra.Command, names ...string) bool {
	for _, n := range names {
		if cmd.Flags().Changed(n) {
			return true
		}
	}
	return false
}

func pickF(cmd *cobra.Command, name string, flagVal, cfgVal float64) float64 {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return cfgVal
}

func pickI(cmd *cobra.Command, name string, flagVal, cfgVal int) int {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return cfgVal
}

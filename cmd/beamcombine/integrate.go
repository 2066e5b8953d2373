package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"beamcombine/pkg/integrate"
)

func newIntegrateCmd() *cobra.Command {
	var (
		input      string
		output     string
		command    string
		points     int
		centerPoni string
		centerMask string
		sidePoni   string
		sideMask   string
	)

	cmd := &cobra.Command{
		Use:   "integrate",
		Short: "Azimuthally integrate combined images via the external integrator",
		Long: `Integrate hands combined diffraction images to the external
calibration/integration tool and writes the resulting 1D
intensity-vs-angle curves as two-column .xy text tables.

Center and side images are paired by their trailing index; when the side
calibration is configured, each pair is integrated together as one
multi-geometry dataset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("integrator") {
				command = cfg.Integrate.Command
			}
			if !cmd.Flags().Changed("points") {
				points = cfg.Integrate.Points
			}
			tool := &integrate.ToolIntegrator{Command: command, Points: points}

			centerFiles, err := matchFiles(input, "center")
			if err != nil {
				return err
			}
			if len(centerFiles) == 0 {
				return fmt.Errorf("no center images found in %s", input)
			}

			withSide := sidePoni != ""
			var sideFiles []string
			if withSide {
				sideFiles, err = matchFiles(input, "side")
				if err != nil {
					return err
				}
				if len(sideFiles) != len(centerFiles) {
					return fmt.Errorf("center/side file counts differ: %d vs %d",
						len(centerFiles), len(sideFiles))
				}
			}

			if err := os.MkdirAll(output, 0755); err != nil {
				return fmt.Errorf("cannot create output directory: %w", err)
			}

			for i, centerFile := range centerFiles {
				inputs := []integrate.ImageInput{{
					Path:   centerFile,
					Config: integrate.DetectorConfig{Calibration: centerPoni, Mask: centerMask},
				}}
				if withSide {
					inputs = append(inputs, integrate.ImageInput{
						Path:   sideFiles[i],
						Config: integrate.DetectorConfig{Calibration: sidePoni, Mask: sideMask},
					})
				}

				logger.Info("integrating", "image", filepath.Base(centerFile))
				curve, err := tool.Integrate(cmd.Context(), inputs)
				if err != nil {
					return err
				}

				outName := strings.Replace(filepath.Base(centerFile), "center", "integrated", 1)
				outName = strings.TrimSuffix(outName, filepath.Ext(outName)) + ".xy"
				outPath := filepath.Join(output, outName)
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				if err := curve.WriteXY(f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("Saved integrated pattern to: %s\n", outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "folder with combined images")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output folder for .xy curves")
	cmd.Flags().StringVar(&command, "integrator", "pyfai-integrate1d", "external integrator executable")
	cmd.Flags().IntVar(&points, "points", 500, "number of points in the integrated curve")
	cmd.Flags().StringVar(&centerPoni, "center-poni", "", "calibration file for the center detector position")
	cmd.Flags().StringVar(&centerMask, "center-mask", "", "pixel mask for the center detector position")
	cmd.Flags().StringVar(&sidePoni, "side-poni", "", "calibration file for the side detector position")
	cmd.Flags().StringVar(&sideMask, "side-mask", "", "pixel mask for the side detector position")

	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("center-poni")

	return cmd
}

// matchFiles lists the .tif files in dir whose name contains the keyword,
// sorted by trailing index.
func matchFiles(dir, keyword string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if (ext == ".tif" || ext == ".tiff") && strings.Contains(name, keyword) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	integrate.SortByIndex(files)
	return files, nil
}

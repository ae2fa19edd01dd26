package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"labelfusion/pkg/imageio"
	"labelfusion/pkg/interpolation"
)

func newWarpCmd() *cobra.Command {
	var moving, def, out string
	var nearest bool

	cmd := &cobra.Command{
		Use:   "warp",
		Short: "Deform an image with a deformation field",
		Long: `Warp resamples the moving image on the grid of the deformation field.
Use --nn for label images so that labels are never blended.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if moving == "" || def == "" || out == "" {
				return errors.New("--moving, --def and --out are required")
			}
			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)

			img, err := imageio.ReadImage(moving)
			if err != nil {
				return fmt.Errorf("failed to load moving image: %w", err)
			}
			field, err := imageio.ReadDeformation(def)
			if err != nil {
				return fmt.Errorf("failed to load deformation: %w", err)
			}
			if img.Geometry().Dims() != field.Geometry().Dims() {
				return fmt.Errorf("moving image is %d-d but the deformation is %d-d",
					img.Geometry().Dims(), field.Geometry().Dims())
			}

			warped := interpolation.Warp(img, field, nearest)
			if err := imageio.WriteImage(out, warped); err != nil {
				return err
			}
			prog.done("warped image", "moving", moving, "grid", field.Geometry().String(), "out", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&moving, "moving", "", "image to deform")
	cmd.Flags().StringVar(&def, "def", "", "deformation field (.mgh/.mgz)")
	cmd.Flags().StringVar(&out, "out", "", "output image")
	cmd.Flags().BoolVar(&nearest, "nn", false, "nearest neighbour interpolation")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpuflow/internal/imageenc"
	"github.com/gogpu/gpuflow/internal/scenario"
)

func newTriangleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triangle",
		Short: "Render the demo triangle offscreen and save it",
		Long: `triangle clears a render target to blue, draws a red triangle with
corners (-0.5,-0.5), (0,0.5) and (0.5,-0.25), reads the pixels back and
writes them to --output. The extension picks the format (png, bmp, tiff).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := scenario.DefaultTriangleOptions()
			opts.Width, opts.Height = a.cfg.Triangle.Width, a.cfg.Triangle.Height
			output := a.cfg.Triangle.Output
			if _, err := imageenc.FormatFor(output); err != nil {
				return err
			}

			return a.withRunner(cmd.Context(), func(r *scenario.Runner) error {
				img, err := r.Triangle(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if err := imageenc.Save(output, img); err != nil {
					return err
				}
				a.printf("wrote %s (%s, %d bytes of pixels)\n", output, fmt.Sprintf("%dx%d", opts.Width, opts.Height), len(img.Pix))
				return nil
			})
		},
	}
	cmd.Flags().Uint32("width", 0, "target width")
	cmd.Flags().Uint32("height", 0, "target height")
	cmd.Flags().StringP("output", "o", "", "output image (.png, .bmp, .tif)")
	_ = a.v.BindPFlag("triangle.width", cmd.Flags().Lookup("width"))
	_ = a.v.BindPFlag("triangle.height", cmd.Flags().Lookup("height"))
	_ = a.v.BindPFlag("triangle.output", cmd.Flags().Lookup("output"))
	return cmd
}

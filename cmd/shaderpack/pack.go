package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpuflow/internal/shadergen"
)

type packOptions struct {
	outDir string
	debug  bool
}

func newRootCmd() *cobra.Command {
	opts := &packOptions{}
	cmd := &cobra.Command{
		Use:   "shaderpack [flags] file.wgsl...",
		Short: "Compile WGSL into SPIR-V and reflection manifests",
		Long: `shaderpack compiles each WGSL file with naga and writes, for every
entry point, <entry>.spv (SPIR-V 1.3) and <entry>.json (resource slots,
stage and vertex inputs) into the output directory.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pack(cmd, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", ".", "output directory")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "emit debug names in SPIR-V")
	return cmd
}

func pack(cmd *cobra.Command, opts *packOptions, files []string) error {
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return err
	}

	written := map[string]string{}
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		arts, err := shadergen.Compile(string(src), shadergen.Options{Debug: opts.debug})
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		for _, a := range arts {
			if prev, ok := written[a.Name]; ok {
				return fmt.Errorf("%s: entry point %q already written from %s", file, a.Name, prev)
			}
			written[a.Name] = file
			if err := writeArtifact(opts.outDir, a); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s, %d slots)\n", file, a.Name, a.Manifest.Stage, len(a.Manifest.Slots))
		}
	}
	return nil
}

func writeArtifact(dir string, a *shadergen.Artifact) error {
	manifest, err := a.ManifestJSON()
	if err != nil {
		return err
	}
	base := filepath.Join(dir, a.Name)
	if err := os.WriteFile(base+".spv", a.SPIRV, 0o644); err != nil {
		return err
	}
	return os.WriteFile(base+".json", append(manifest, '\n'), 0o644)
}

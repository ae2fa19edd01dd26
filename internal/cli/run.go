package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"labelfusion/pkg/config"
	"labelfusion/pkg/dataset"
	"labelfusion/pkg/fusion"
	"labelfusion/pkg/imageio"
	"labelfusion/pkg/visualization"
)

// debugVerbosity is the verbosity from which intermediate images are written
// even without --debug-dir.
const debugVerbosity = 11

type runOptions struct {
	configPath string
	cfg        *config.Config
	ncc        bool
}

func newRunCmd(verbose *int) *cobra.Command {
	opts := &runOptions{cfg: config.DefaultConfig()}
	cfg := opts.cfg

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Segment every target image by fusing the atlas segmentation",
		Example: `  labelfusion run -i images.txt -T deformations.txt --atlas-seg atlas-seg.png -O out
  labelfusion run --config labelfusion.yaml --ncc --radius 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			merged, err := opts.resolve(cmd, *verbose)
			if err != nil {
				return err
			}
			return runFusion(cmd, merged)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file; flags override its values")
	f.StringVar(&cfg.Inputs.AtlasSegmentation, "atlas-seg", "", "atlas segmentation image")
	f.StringVarP(&cfg.Inputs.Deformations, "deformations", "T", "", "list of deformations: <moving> <fixed> <file>")
	f.StringVarP(&cfg.Inputs.Images, "images", "i", "", "list of images: <id> <file>")
	f.IntVarP(&cfg.Inputs.MaxImages, "n-images", "N", cfg.Inputs.MaxImages, "number of images to process (0 for all)")
	f.StringVarP(&cfg.Inputs.AtlasID, "atlas-id", "a", "", "atlas image id (default the first listed image)")
	f.StringVar(&cfg.Inputs.SupportSamples, "support-samples", "", "list of support sample ids")
	f.Float64VarP(&cfg.Energy.PairwiseWeight, "pairwise-weight", "w", cfg.Energy.PairwiseWeight, "weight of inter-image edges")
	f.Float64Var(&cfg.Energy.RegularizationWeight, "regularization-weight", cfg.Energy.RegularizationWeight, "weight of intra-image grid edges")
	f.Float64VarP(&cfg.Energy.Sigma, "sigma", "s", cfg.Energy.Sigma, "intensity bandwidth of the SAD similarity")
	f.BoolVar(&opts.ncc, "ncc", false, "use normalized cross correlation instead of SAD")
	f.IntVar(&cfg.Energy.Radius, "radius", cfg.Energy.Radius, "NCC neighbourhood radius")
	f.Float64Var(&cfg.Energy.EdgeThreshold, "thresh", cfg.Energy.EdgeThreshold, "minimum similarity of an inter-image edge")
	f.Float64Var(&cfg.Energy.EdgeCountPenaltyWeight, "edge-count-penalty-weight", cfg.Energy.EdgeCountPenaltyWeight, "weight of the connectivity penalty (0 disables it)")
	f.BoolVar(&cfg.Energy.EvaluateAtlas, "eval-atlas", false, "segment the atlas as well")
	f.StringVarP(&cfg.Output.Dir, "output-dir", "O", cfg.Output.Dir, "output directory")
	f.StringVar(&cfg.Output.Format, "format", cfg.Output.Format, "segmentation file format: png, tif, mgh or mgz")
	f.StringVar(&cfg.Output.DebugDir, "debug-dir", "", "directory for similarity maps and warped atlases")

	return cmd
}

// flagFields maps flag names to the configuration field they set.
var flagFields = map[string]func(dst, src *config.Config){
	"atlas-seg":                 func(d, s *config.Config) { d.Inputs.AtlasSegmentation = s.Inputs.AtlasSegmentation },
	"deformations":              func(d, s *config.Config) { d.Inputs.Deformations = s.Inputs.Deformations },
	"images":                    func(d, s *config.Config) { d.Inputs.Images = s.Inputs.Images },
	"n-images":                  func(d, s *config.Config) { d.Inputs.MaxImages = s.Inputs.MaxImages },
	"atlas-id":                  func(d, s *config.Config) { d.Inputs.AtlasID = s.Inputs.AtlasID },
	"support-samples":           func(d, s *config.Config) { d.Inputs.SupportSamples = s.Inputs.SupportSamples },
	"pairwise-weight":           func(d, s *config.Config) { d.Energy.PairwiseWeight = s.Energy.PairwiseWeight },
	"regularization-weight":     func(d, s *config.Config) { d.Energy.RegularizationWeight = s.Energy.RegularizationWeight },
	"sigma":                     func(d, s *config.Config) { d.Energy.Sigma = s.Energy.Sigma },
	"radius":                    func(d, s *config.Config) { d.Energy.Radius = s.Energy.Radius },
	"thresh":                    func(d, s *config.Config) { d.Energy.EdgeThreshold = s.Energy.EdgeThreshold },
	"edge-count-penalty-weight": func(d, s *config.Config) { d.Energy.EdgeCountPenaltyWeight = s.Energy.EdgeCountPenaltyWeight },
	"eval-atlas":                func(d, s *config.Config) { d.Energy.EvaluateAtlas = s.Energy.EvaluateAtlas },
	"output-dir":                func(d, s *config.Config) { d.Output.Dir = s.Output.Dir },
	"format":                    func(d, s *config.Config) { d.Output.Format = s.Output.Format },
	"debug-dir":                 func(d, s *config.Config) { d.Output.DebugDir = s.Output.DebugDir },
}

// resolve merges the configuration file with the flags set on the command
// line and validates the result.
func (o *runOptions) resolve(cmd *cobra.Command, verbose int) (*config.Config, error) {
	merged := o.cfg
	if o.configPath != "" {
		fromFile, err := config.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		for name, set := range flagFields {
			if cmd.Flags().Changed(name) {
				set(fromFile, o.cfg)
			}
		}
		merged = fromFile
	}
	if o.ncc {
		merged.Energy.Metric = fusion.NCC.String()
	}
	if merged.Output.Verbose < verbose {
		merged.Output.Verbose = verbose
	}
	if merged.Output.DebugDir == "" && merged.Output.Verbose >= debugVerbosity {
		merged.Output.DebugDir = merged.Output.Dir
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// segmentationPath names the output file of image id.
func segmentationPath(dir, id string, nImages int, format string) string {
	return filepath.Join(dir, fmt.Sprintf("segmentation-%s-MRF-nImages%d.%s", id, nImages, format))
}

func runFusion(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	params, err := cfg.Params()
	if err != nil {
		return err
	}

	prog := newProgress(logger)
	var support dataset.SupportSet
	if cfg.Inputs.SupportSamples != "" {
		support, err = dataset.LoadSupportSamples(cfg.Inputs.SupportSamples)
		if err != nil {
			return err
		}
	}

	images, err := dataset.LoadImages(cfg.Inputs.Images)
	if err != nil {
		return err
	}
	if images.Len() == 0 {
		return fmt.Errorf("%w: %s lists no images", fusion.ErrNoTargets, cfg.Inputs.Images)
	}
	atlasID := cfg.Inputs.AtlasID
	if atlasID == "" {
		atlasID = images.IDs()[0]
	}

	defs, err := dataset.LoadDeformations(cfg.Inputs.Deformations, images,
		fusion.KeepDeformation(atlasID, support, params.EvaluateAtlas))
	if err != nil {
		return err
	}

	atlasSeg, err := imageio.ReadImage(cfg.Inputs.AtlasSegmentation)
	if err != nil {
		return fmt.Errorf("failed to load atlas segmentation: %w", err)
	}
	prog.done("loaded inputs",
		"images", images.Len(),
		"deformations", defs.Len(),
		"supportSamples", len(support),
		"atlas", atlasID)

	fuserOpts := []fusion.Option{fusion.WithLogger(logger)}
	if cfg.Output.DebugDir != "" {
		debug, err := visualization.NewDebugWriter(cfg.Output.DebugDir)
		if err != nil {
			return err
		}
		fuserOpts = append(fuserOpts, fusion.WithIntermediates(debug))
	}

	cohort := &fusion.Cohort{
		Images:            images,
		AtlasID:           atlasID,
		AtlasSegmentation: atlasSeg,
		Deformations:      defs,
		Support:           support,
	}
	result, err := fusion.NewFuser(params, fuserOpts...).Process(ctx, cohort)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	nImages := images.Len()
	if params.MaxImages > 0 && params.MaxImages < nImages {
		nImages = params.MaxImages
	}
	for i, seg := range result.Segmentations {
		path := segmentationPath(cfg.Output.Dir, seg.ID, nImages, cfg.Output.Format)
		if err := imageio.WriteImage(path, seg.Image); err != nil {
			return fmt.Errorf("failed to write segmentation of %s: %w", seg.ID, err)
		}
		result.Stats.Images[i].OutputPath = path
		logger.Debug("wrote segmentation", "image", seg.ID, "path", path, "foreground", seg.Foreground)
	}

	stats := result.Stats
	logger.Info("fusion complete",
		"images", len(stats.Images),
		"nodes", stats.Nodes,
		"interImageEdges", stats.InterImageEdges,
		"meanEdgeWeight", stats.EdgeWeights.Mean,
		"meanUnaryWeight", stats.UnaryWeights.Mean,
		"energy", stats.Flow,
		"output", cfg.Output.Dir)
	return nil
}

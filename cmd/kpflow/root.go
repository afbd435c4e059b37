package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/gogpu/vision"
	"github.com/gogpu/vision/gpucore"
	"github.com/gogpu/vision/keypoint"
	"github.com/gogpu/vision/nodes"
	"github.com/gogpu/vision/pipeline"
	"github.com/gogpu/vision/streamops"
)

// point is the JSON form of a keypoint.
type point struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Score    float64 `json:"score"`
	LOD      float64 `json:"lod,omitempty"`
	Rotation float64 `json:"rotation,omitempty"`
}

func (p point) record() keypoint.Record {
	r := keypoint.Record{X: p.X, Y: p.Y, Score: p.Score, LOD: p.LOD}
	if p.Rotation != 0 {
		r.Rotation, r.Flags = p.Rotation, keypoint.FlagOriented
	}
	return r
}

func fromRecord(r keypoint.Record) point {
	return point{X: r.X, Y: r.Y, Score: r.Score, LOD: r.LOD, Rotation: r.Rotation}
}

type runFlags struct {
	input    string
	capacity int
	width    int
	height   int
	border   int
	clip     int
	shuffle  bool
	seed     uint64
	max      int
	metrics  bool
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "kpflow",
		Short:        "Run keypoint lists through GPU stream operations.",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				vision.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline activity to stderr")

	root.AddCommand(newGenCmd(), newRunCmd())
	return root
}

func newGenCmd() *cobra.Command {
	var (
		n             int
		seed          uint64
		width, height int
	)
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Print random keypoints as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n < 0 || width <= 0 || height <= 0 {
				return fmt.Errorf("gen: need n >= 0 and a positive size, got n=%d size=%dx%d", n, width, height)
			}
			rng := rand.New(rand.NewPCG(seed, seed+1))
			points := make([]point, n)
			for i := range points {
				points[i] = point{
					X:     math.Round(rng.Float64()*float64(width-1)*8) / 8,
					Y:     math.Round(rng.Float64()*float64(height-1)*8) / 8,
					Score: math.Round(rng.Float64()*255) / 255,
				}
			}
			return writeJSON(cmd.OutOrStdout(), points)
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 100, "number of keypoints")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&width, "width", 640, "image width")
	cmd.Flags().IntVar(&height, "height", 480, "image height")
	return cmd
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run keypoints through border clip, shuffle and clip; print the result.",
		Long: `Run reads a JSON list of keypoints and builds the pipeline

  source -> [border clipper] -> [shuffler] -> [clipper] -> sink

where each bracketed stage is enabled by its flag. The surviving keypoints
are printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			points, err := readPoints(cmd.InOrStdin(), f.input)
			if err != nil {
				return err
			}
			return runPipeline(cmd, f, points)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "-", `keypoint JSON file, "-" for stdin`)
	fl.IntVar(&f.capacity, "capacity", 0, "stream capacity (default: the number of keypoints)")
	fl.IntVar(&f.width, "width", 640, "image width for --border")
	fl.IntVar(&f.height, "height", 480, "image height for --border")
	fl.IntVar(&f.border, "border", 0, "drop keypoints within this many pixels of the image edges")
	fl.IntVar(&f.clip, "clip", -1, "keep the best N keypoints")
	fl.BoolVar(&f.shuffle, "shuffle", false, "shuffle the keypoints")
	fl.Uint64Var(&f.seed, "seed", 1, "shuffle seed")
	fl.IntVar(&f.max, "max", streamops.NoLimit, "keep at most N shuffled keypoints")
	fl.BoolVar(&f.metrics, "metrics", false, "print pipeline metrics to stderr")
	return cmd
}

func readPoints(stdin io.Reader, name string) ([]point, error) {
	r := stdin
	if name != "-" {
		file, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r = file
	}
	var points []point
	if err := json.NewDecoder(r).Decode(&points); err != nil {
		return nil, fmt.Errorf("read keypoints: %w", err)
	}
	return points, nil
}

func runPipeline(cmd *cobra.Command, f runFlags, points []point) (err error) {
	ids := new(pipeline.IDs)
	src, err := nodes.NewKeypointSource(ids, "source")
	if err != nil {
		return err
	}
	capacity := cmp.Or(f.capacity, len(points))
	if err := src.SetCapacity(capacity); err != nil {
		return err
	}
	records := make([]keypoint.Record, len(points))
	for i, p := range points {
		records[i] = p.record()
	}
	src.SetKeypoints(records)

	chain := []pipeline.Node{src}
	link := func(n pipeline.Node) error {
		if err := chain[len(chain)-1].Output("").ConnectTo(n.Input("")); err != nil {
			return err
		}
		chain = append(chain, n)
		return nil
	}

	if f.border > 0 {
		bc, err := nodes.NewKeypointBorderClipper(ids, "border")
		if err != nil {
			return err
		}
		if err := bc.SetImageSize(streamops.Size{Width: f.width, Height: f.height}); err != nil {
			return err
		}
		if err := bc.SetBorderSize(streamops.Border{X: f.border, Y: f.border}); err != nil {
			return err
		}
		if err := link(bc); err != nil {
			return err
		}
	}
	if f.shuffle {
		sh, err := nodes.NewKeypointShuffler(ids, "shuffle")
		if err != nil {
			return err
		}
		sh.SetSeed(f.seed)
		if err := sh.SetMaxKeypoints(f.max); err != nil {
			return err
		}
		if err := link(sh); err != nil {
			return err
		}
	}
	if f.clip >= 0 {
		cl, err := nodes.NewKeypointClipper(ids, "clip")
		if err != nil {
			return err
		}
		if err := cl.SetSize(f.clip); err != nil {
			return err
		}
		if err := link(cl); err != nil {
			return err
		}
	}
	sink, err := nodes.NewKeypointSink(ids, "")
	if err != nil {
		return err
	}
	if err := link(sink); err != nil {
		return err
	}

	adapter := gpucore.NewSoftwareAdapter()
	defer adapter.Close()
	reg := prometheus.NewRegistry()
	p, err := pipeline.New(pipeline.WithAdapter(adapter), pipeline.WithMetrics(reg))
	if err != nil {
		return err
	}
	if err := p.Init(chain...); err != nil {
		return err
	}
	defer func() {
		if rerr := p.Release(); err == nil {
			err = rerr
		}
	}()

	results, err := p.Run(cmd.Context())
	if err != nil {
		return err
	}
	out := results[sink.Name()].([]keypoint.Record)
	if f.metrics {
		if err := printMetrics(cmd.ErrOrStderr(), reg); err != nil {
			return err
		}
	}

	points = make([]point, len(out))
	for i, r := range out {
		points[i] = fromRecord(r)
	}
	return writeJSON(cmd.OutOrStdout(), points)
}

// printMetrics writes the gathered families in the Prometheus text
// exposition format.
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

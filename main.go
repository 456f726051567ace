package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/manningwu07/mockingjay/IO"
	"github.com/manningwu07/mockingjay/mam"
	"github.com/manningwu07/mockingjay/params"
	"github.com/manningwu07/mockingjay/summary"
	"github.com/manningwu07/mockingjay/trainer"
	"github.com/manningwu07/mockingjay/transformer"
	"github.com/manningwu07/mockingjay/utils"
)

var (
	configPath string
	dataPrefix string
	exportDir  string
	syntheticN int
	trainFlag  bool
	expName    string
	seed       int64
	logDir     string
	ckpDir     string
	gpuFlag    bool
	verbose    bool
	loadPath   string
	progress   bool
	debugFlag  bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "JSON training config (defaults are used when empty)")
	flag.StringVar(&dataPrefix, "data", "", "Feature shard prefix, overrides data_path")
	flag.StringVar(&exportDir, "export", "", "Directory of raw float32 feature files to export as shards")
	flag.IntVar(&syntheticN, "synthetic", 0, "Export N random utterances as shards for a smoke run")
	flag.BoolVar(&trainFlag, "train", false, "Run masked acoustic model pretraining")
	flag.StringVar(&expName, "name", "", "Experiment name (default <config>_sd<seed>)")
	flag.Int64Var(&seed, "seed", 1337, "Random seed")
	flag.StringVar(&logDir, "logdir", "log", "Scalar log directory")
	flag.StringVar(&ckpDir, "ckpdir", "result", "Checkpoint directory")
	flag.BoolVar(&gpuFlag, "gpu", false, "Use a GPU when one is available")
	flag.BoolVar(&verbose, "verbose", false, "Print solver messages")
	flag.StringVar(&loadPath, "load", "", "Resume from a saved model (unsupported)")
	flag.BoolVar(&progress, "progress", true, "Show progress bars")
	flag.BoolVar(&debugFlag, "debug", false, "Print per-update debug lines")
}

func main() {
	flag.Parse()
	utils.Debug = debugFlag

	cfg := params.Config
	if configPath != "" {
		loaded, err := params.LoadConfig(configPath)
		if err != nil {
			fmt.Println("Error loading config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if dataPrefix != "" {
		cfg.DataPath = dataPrefix
	}
	params.Config = cfg

	if exportDir != "" {
		fmt.Println("Exporting feature shards...")
		n, err := exportFeatures(exportDir, cfg)
		if err != nil {
			fmt.Println("Export failed:", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Exported %d utterances to %s\n", n, cfg.DataPath)
	}

	if syntheticN > 0 {
		if err := IO.ExportSynthetic(cfg.DataPath, syntheticN, cfg.MelDim, 50, 400, uint64(seed)); err != nil {
			fmt.Println("Synthetic export failed:", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Wrote %d synthetic utterances to %s\n", syntheticN, cfg.DataPath)
	}

	if trainFlag {
		if err := train(cfg); err != nil {
			fmt.Println("Training failed:", err)
			os.Exit(1)
		}
	}
}

func exportFeatures(dir string, cfg params.TrainingConfig) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	maxShardSize := int64(2 * 1024 * 1024 * 1024)
	return IO.ExportFeatureShards(paths, cfg.MelDim, cfg.DataPath, maxShardSize)
}

// experimentName is -name, or the config file's base name plus the seed.
func experimentName(name, config string, seed int64) string {
	if name != "" {
		return name
	}
	base := "default"
	if config != "" {
		base = strings.TrimSuffix(filepath.Base(config), filepath.Ext(config))
	}
	return fmt.Sprintf("%s_sd%d", base, seed)
}

// selectDevice honours -gpu only when a GPU backend is compiled in, which
// this build never has.
func selectDevice(wantGPU bool) mam.Device {
	if wantGPU && verbose {
		fmt.Println("[SOLVER] GPU requested but unavailable, using CPU")
	}
	return mam.CPU
}

func train(cfg params.TrainingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	exp := experimentName(expName, configPath, seed)
	runLogDir := filepath.Join(logDir, exp)
	runCkpDir := filepath.Join(ckpDir, exp)
	if err := os.MkdirAll(runCkpDir, 0o755); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	ds, err := IO.OpenDataset(cfg.DataPath, cfg.MelDim)
	if err != nil {
		return err
	}
	defer ds.Close()
	loader := IO.NewBucketLoader(ds, cfg.BatchSize, cfg.MaxTimestep, cfg.HalfBatchLen, rng)

	model := transformer.NewAcousticModel(cfg.MelDim*cfg.DownsampleRate, cfg.HiddenSize)
	pipeline := &mam.Pipeline{
		DownsampleRate: cfg.DownsampleRate,
		HiddenSize:     cfg.HiddenSize,
		Masker:         mam.NewMasker(cfg.MaskProportion, rng),
		Device:         selectDevice(gpuFlag),
		Positions:      mam.NewPositionTable(),
	}

	tr, err := trainer.New(cfg, model, pipeline, loader)
	if err != nil {
		return err
	}
	tr.Verbose = verbose
	tr.Progress = progress
	tr.Load = loadPath
	if cfg.ManualWarmup {
		tr.Verbosef("Manual warmup with loss scale %v (0 = dynamic)", cfg.LossScale)
	}

	log, err := summary.NewWriter(runLogDir)
	if err != nil {
		return err
	}
	defer log.Close()
	tr.Log = log

	if err := writeConfig(filepath.Join(runCkpDir, "config.json"), cfg); err != nil {
		return err
	}

	fmt.Printf("Experiment %s: %d utterances in %d batches\n", exp, ds.Len(), loader.Len())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := tr.Exec(ctx); err != nil {
		return err
	}

	modelPath := filepath.Join(runCkpDir, "model.gob")
	if err := transformer.SaveModel(model, modelPath); err != nil {
		return err
	}
	fmt.Printf("Done: %d updates (%d skipped on NaN), model saved to %s\n",
		tr.Session.GlobalStep-1, len(tr.Session.NaNSteps), modelPath)
	return nil
}

func writeConfig(path string, cfg params.TrainingConfig) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

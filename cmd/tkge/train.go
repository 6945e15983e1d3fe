package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cnclabs/tkge/internal/config"
	"github.com/cnclabs/tkge/internal/logger"
	"github.com/cnclabs/tkge/internal/models/kge"
	"github.com/cnclabs/tkge/pkg/knowledge"
)

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model and evaluate it with filtered MRR, MR and Hits@K",
		Example: `  tkge train --data data/icews14 --model TATransE -d 100 -g 12 -n 128 -b 512 \
      --max-steps 50000 --learning-rate 0.001 -a --adversarial-temperature 1.0 \
      --save-entity ent.txt --save-relation rel.txt --report metrics.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runTrain(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.String("data", ".", "directory holding train.txt, valid.txt and test.txt")
	f.String("model", "TATransE", "TATransE, TransE, TADistMult, DistMult, ComplEx, RotatE or pRotatE")
	f.IntP("hidden-dim", "d", 100, "embedding dimension")
	f.Float64P("gamma", "g", 12.0, "margin")
	f.BoolP("double-entity-embedding", "E", false, "double the entity embedding width")
	f.BoolP("double-relation-embedding", "R", false, "double the relation embedding width")
	f.BoolP("double-tem-embedding", "T", false, "double the time-token embedding width")
	f.BoolP("negative-adversarial-sampling", "a", false, "weight negatives by self-adversarial softmax")
	f.Float64("adversarial-temperature", 1.0, "self-adversarial sampling temperature")
	f.Bool("uni-weight", false, "ignore subsampling weights")
	f.Float64P("regularization", "r", 0.0, "L3 regularization coefficient, 0 disables")
	f.Bool("cuda", false, "use an accelerated device")
	f.Float64P("learning-rate", "l", 0.0001, "Adam learning rate")
	f.Int64("seed", 1, "random seed")
	f.IntP("batch-size", "b", 1024, "training batch size")
	f.IntP("negative-sample-size", "n", 128, "negatives per positive")
	f.Int("max-steps", 100000, "training steps")
	f.Int("log-steps", 100, "steps between averaged loss logs")
	f.Int("valid-steps", 10000, "steps between validations")
	f.Bool("do-valid", true, "evaluate on the validation split during training")
	f.Bool("do-test", true, "evaluate on the test split after training")
	f.Int("test-batch-size", 16, "evaluation batch size")
	f.Int("workers", 4, "concurrent evaluation batches")
	f.String("report", "", "write final metrics as yaml to this file")
	f.String("save-entity", "", "save entity embeddings to this file")
	f.String("save-relation", "", "save relation embeddings to this file")

	for key, name := range map[string]string{
		"data.path":                           "data",
		"model.model_name":                    "model",
		"model.hidden_dim":                    "hidden-dim",
		"model.gamma":                         "gamma",
		"model.double_entity_embedding":       "double-entity-embedding",
		"model.double_relation_embedding":     "double-relation-embedding",
		"model.double_tem_embedding":          "double-tem-embedding",
		"model.negative_adversarial_sampling": "negative-adversarial-sampling",
		"model.adversarial_temperature":       "adversarial-temperature",
		"model.uni_weight":                    "uni-weight",
		"model.regularization":                "regularization",
		"model.cuda":                          "cuda",
		"model.learning_rate":                 "learning-rate",
		"model.seed":                          "seed",
		"train.batch_size":                    "batch-size",
		"train.negative_sample_size":          "negative-sample-size",
		"train.max_steps":                     "max-steps",
		"train.log_steps":                     "log-steps",
		"train.valid_steps":                   "valid-steps",
		"train.do_valid":                      "do-valid",
		"train.do_test":                       "do-test",
		"eval.batch_size":                     "test-batch-size",
		"eval.workers":                        "workers",
		"eval.report":                         "report",
		"output.entity_file":                  "save-entity",
		"output.relation_file":                "save-relation",
	} {
		bindFlag(v, key, cmd, name)
	}
	return cmd
}

// report is the yaml document written after a run.
type report struct {
	RunID  string             `yaml:"run_id"`
	Model  kge.Config         `yaml:"model"`
	Steps  int                `yaml:"steps"`
	Last   kge.TrainLog       `yaml:"last_step"`
	Valid  *kge.Metrics       `yaml:"valid,omitempty"`
	Test   *kge.Metrics       `yaml:"test,omitempty"`
	Timing map[string]float64 `yaml:"timing_seconds"`
}

func runTrain(ctx context.Context, cfg *config.Config) error {
	runID := uuid.NewString()
	log := logger.L().With("run_id", runID)
	startTime := time.Now()

	kg := knowledge.NewKnowledgeGraph()
	kg.Logger = log
	train, err := kg.LoadQuadruples(cfg.Data.File(cfg.Data.Train))
	if err != nil {
		return err
	}
	var valid, test []knowledge.Triple
	if cfg.Train.DoValid {
		if valid, err = kg.LoadQuadruples(cfg.Data.File(cfg.Data.Valid)); err != nil {
			return err
		}
	}
	if cfg.Train.DoTest {
		if test, err = kg.LoadQuadruples(cfg.Data.File(cfg.Data.Test)); err != nil {
			return err
		}
	}
	known := knowledge.NewFactSet(train, valid, test)
	loadTime := time.Since(startTime)

	modelCfg := cfg.Model
	modelCfg.NumEntities = kg.NumEntities
	modelCfg.NumRelations = kg.NumRelations
	model, err := kge.New(modelCfg, kge.WithLogger(log))
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(modelCfg.Seed))
	headSampler, err := knowledge.NewSampler(train, kg.NumEntities, cfg.Train.NegativeSampleSize, cfg.Train.BatchSize, knowledge.ModeHeadBatch, rand.New(rand.NewSource(rng.Int63())))
	if err != nil {
		return err
	}
	tailSampler, err := knowledge.NewSampler(train, kg.NumEntities, cfg.Train.NegativeSampleSize, cfg.Train.BatchSize, knowledge.ModeTailBatch, rand.New(rand.NewSource(rng.Int63())))
	if err != nil {
		return err
	}
	iterator, err := knowledge.NewBidirectionalIterator(headSampler, tailSampler)
	if err != nil {
		return err
	}

	evalOpts := kge.EvalOptions{
		BatchSize: cfg.Eval.BatchSize,
		Workers:   cfg.Eval.Workers,
		LogSteps:  cfg.Eval.LogSteps,
	}
	out := report{RunID: runID, Model: modelCfg, Steps: cfg.Train.MaxSteps}

	trainOpts := kge.TrainOptions{
		MaxSteps:   cfg.Train.MaxSteps,
		LogSteps:   cfg.Train.LogSteps,
		ValidSteps: cfg.Train.ValidSteps,
	}
	if cfg.Train.DoValid && len(valid) > 0 {
		trainOpts.Validate = func(ctx context.Context, step int) error {
			metrics, err := model.Evaluate(ctx, valid, known, evalOpts)
			if err != nil {
				return err
			}
			logMetrics(log, "valid", step, metrics)
			out.Valid = &metrics
			return nil
		}
	}

	trainStart := time.Now()
	if out.Last, err = model.Train(ctx, iterator, trainOpts); err != nil {
		return err
	}
	trainTime := time.Since(trainStart)

	testStart := time.Now()
	if cfg.Train.DoTest && len(test) > 0 {
		metrics, err := model.Evaluate(ctx, test, known, evalOpts)
		if err != nil {
			return err
		}
		logMetrics(log, "test", cfg.Train.MaxSteps, metrics)
		out.Test = &metrics
	}
	testTime := time.Since(testStart)

	if cfg.Output.EntityFile != "" && cfg.Output.RelationFile != "" {
		if err := model.SaveEmbeddings(cfg.Output.EntityFile, cfg.Output.RelationFile, kg); err != nil {
			return err
		}
	}

	out.Timing = map[string]float64{
		"loading":    loadTime.Seconds(),
		"training":   trainTime.Seconds(),
		"evaluation": testTime.Seconds(),
		"total":      time.Since(startTime).Seconds(),
	}
	if cfg.Eval.Report != "" {
		if err := writeReport(cfg.Eval.Report, out); err != nil {
			return err
		}
		log.Info("report saved", "file", cfg.Eval.Report)
	}

	log.Info("training complete",
		"loading_seconds", out.Timing["loading"],
		"training_seconds", out.Timing["training"],
		"total_seconds", out.Timing["total"])
	return nil
}

func logMetrics(log *slog.Logger, split string, step int, m kge.Metrics) {
	log.Info(split+" metrics",
		"step", step,
		"MRR", m.MRR,
		"MR", m.MR,
		"HITS@1", m.Hits1,
		"HITS@3", m.Hits3,
		"HITS@10", m.Hits10,
		"count", m.Count)
}

func writeReport(path string, r report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

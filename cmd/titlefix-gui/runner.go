package main

import (
	"context"
	"os"

	"github.com/google/uuid"

	"github.com/firstsmile-dev/Excel-AI-project/internal/config"
	"github.com/firstsmile-dev/Excel-AI-project/internal/diag"
	"github.com/firstsmile-dev/Excel-AI-project/internal/pipeline"
)

// runPipeline 按与 CLI 相同的来源加载配置（.env → JSON < ENV）并执行全部步骤。
func runPipeline(ctx context.Context) (pipeline.Report, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return pipeline.Report{}, err
	}
	cfg, err := config.Load("", os.Environ(), config.Unset())
	if err != nil {
		return pipeline.Report{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	logger := diag.NewLogger(id.String(), cfg.Logging.Level, cfg.Logging.Dir)
	defer logger.Close()
	comp, set, err := config.Assemble(cfg, pipeline.StepAll, logger)
	if err != nil {
		logger.Error("gui", diag.Classify(err), "assemble failed", nil)
		return pipeline.Report{}, err
	}
	rep, err := pipeline.Run(ctx, comp, set, logger)
	if err != nil {
		logger.Error("gui", diag.Classify(err), "first error", nil)
	}
	return rep, err
}

// genvideo runs the generation pipeline once, from the command line, without
// the HTTP daemon. Useful for smoke-testing prompts and the render toolchain.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/mathvizai/mathviz/internal/artifact"
	"github.com/mathvizai/mathviz/internal/common"
	"github.com/mathvizai/mathviz/internal/job"
	"github.com/mathvizai/mathviz/internal/llm"
	"github.com/mathvizai/mathviz/internal/pdfex"
	"github.com/mathvizai/mathviz/internal/pipeline"
	"github.com/mathvizai/mathviz/internal/render"
	"github.com/mathvizai/mathviz/internal/stages"
	"github.com/mathvizai/mathviz/internal/store"
)

func main() {
	topic := flag.String("topic", "", "math topic or raw text to explain")
	pdfPath := flag.String("pdf", "", "path to a PDF to explain instead of -topic")
	difficulty := flag.String("difficulty", "undergraduate", "high_school or undergraduate")
	out := flag.String("out", "", "copy the rendered video to this path")
	flag.Parse()

	if (*topic == "") == (*pdfPath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -topic or -pdf is required")
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.LogLevel, "text")
	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	input := job.Input{Topic: *topic, Difficulty: *difficulty}
	if *pdfPath != "" {
		pdf, err := os.ReadFile(*pdfPath)
		if err != nil {
			logger.Error("read pdf", "path", *pdfPath, "error", err)
			os.Exit(1)
		}
		extractor := pdfex.NewPopplerExtractor(cfg.Storage.TempDir, logger)
		doc, err := extractor.Extract(ctx, pdf, cfg.Pipeline.MaxInputPages)
		if err != nil {
			logger.Error("extract pdf", "error", err)
			os.Exit(1)
		}
		input = job.Input{Document: &doc, Difficulty: *difficulty}
	}

	jobs := store.NewMemoryStore(logger)
	artifacts, err := artifact.NewStore(cfg.Storage.OutputDir, logger)
	if err != nil {
		logger.Error("init artifact store", "error", err)
		os.Exit(1)
	}
	gen, err := llm.NewOpenAIGenerator(cfg.LLM, logger)
	if err != nil {
		logger.Error("init llm client", "error", err)
		os.Exit(1)
	}
	engine := render.NewManimEngine(cfg.Render, cfg.Storage.TempDir, logger)
	defn, err := stages.BuildDefinition(cfg, gen, engine, logger)
	if err != nil {
		logger.Error("build pipeline", "error", err)
		os.Exit(1)
	}
	orch := pipeline.NewOrchestrator(jobs, artifacts, defn, cfg.Pipeline, logger)

	j, err := jobs.Create(ctx, input)
	if err != nil {
		logger.Error("create job", "error", err)
		os.Exit(1)
	}
	orch.Dispatch(j.ID)
	orch.Wait()

	final, err := jobs.Get(ctx, j.ID)
	if err != nil {
		logger.Error("load job", "error", err)
		os.Exit(1)
	}
	if final.Error != nil {
		logger.Error("generation failed",
			"status", final.Status, "stage", final.Error.Stage,
			"kind", final.Error.Kind, "error", final.Error.Message)
		os.Exit(1)
	}

	path := artifacts.Path(final.ArtifactRef)
	if *out != "" {
		data, err := artifacts.Get(final.ArtifactRef)
		if err != nil {
			logger.Error("read artifact", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			logger.Error("write output", "path", *out, "error", err)
			os.Exit(1)
		}
		path = *out
	}
	fmt.Println(path)
}

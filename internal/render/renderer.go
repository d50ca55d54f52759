// Package render drives the Manim CLI: it writes the generated script to a
// temp file, invokes the renderer, and returns the encoded video.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mathvizai/mathviz/internal/common"
)

// Collaborator error contract. Compile failures are deterministic for a given
// script; runtime failures may be environmental.
var (
	ErrCompileFailure = errors.New("render compile failure")
	ErrRuntimeFailure = errors.New("render runtime failure")
	ErrEngineMissing  = errors.New("render engine not installed")
)

// Input is a generated animation script ready to render.
type Input struct {
	ClassName string
	Source    string
}

// Result carries the rendered video and the engine's log.
type Result struct {
	Video []byte
	Log   string
}

// Engine renders animation source into encoded video.
type Engine interface {
	Render(ctx context.Context, jobID uuid.UUID, in Input) (Result, error)
}

// ManimEngine shells out to the Manim CLI.
type ManimEngine struct {
	cfg common.RenderConfig
	tmp string
	log *slog.Logger
}

func NewManimEngine(cfg common.RenderConfig, tempDir string, logger *slog.Logger) *ManimEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManimEngine{cfg: cfg, tmp: tempDir, log: logger}
}

func (e *ManimEngine) Render(ctx context.Context, jobID uuid.UUID, in Input) (Result, error) {
	start := time.Now()

	if err := os.MkdirAll(e.tmp, 0o755); err != nil {
		return Result{}, fmt.Errorf("create temp dir: %w", err)
	}
	scriptPath := filepath.Join(e.tmp, "scene_"+jobID.String()+".py")
	if err := os.WriteFile(scriptPath, []byte(in.Source), 0o644); err != nil {
		return Result{}, fmt.Errorf("write scene script: %w", err)
	}

	mediaDir := filepath.Join(e.tmp, "media_"+jobID.String())
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create media dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(mediaDir) }()

	renderCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	args := []string{
		"render",
		e.cfg.Quality.CLIFlag(),
		scriptPath,
		in.ClassName,
		"--media_dir", mediaDir,
		"--disable_caching",
	}
	if e.cfg.FPS > 0 {
		args = append(args, "--fps", strconv.Itoa(e.cfg.FPS))
	}

	e.log.Info("render.start", "job_id", jobID, "class", in.ClassName, "quality", e.cfg.Quality)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(renderCtx, e.cfg.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	engineLog := "STDOUT:\n" + stdout.String() + "\n\nSTDERR:\n" + stderr.String()

	if renderCtx.Err() != nil && ctx.Err() == nil {
		return Result{Log: engineLog}, fmt.Errorf("render timed out after %s: %w",
			e.cfg.Timeout, context.DeadlineExceeded)
	}
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return Result{}, fmt.Errorf("%q not found: %w", e.cfg.Binary, ErrEngineMissing)
		}
		kind := classifyFailure(stderr.String())
		e.log.Error("render.failed", "job_id", jobID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Result{Log: engineLog}, fmt.Errorf("manim exited: %v: %w", err, kind)
	}

	videoPath, err := findOutputVideo(mediaDir)
	if err != nil {
		return Result{Log: engineLog}, fmt.Errorf("render reported success but %v: %w", err, ErrRuntimeFailure)
	}
	video, err := os.ReadFile(videoPath)
	if err != nil {
		return Result{Log: engineLog}, fmt.Errorf("read rendered video: %w", err)
	}

	e.log.Info("render.ok", "job_id", jobID, "bytes", len(video),
		"elapsed_ms", time.Since(start).Milliseconds())
	return Result{Video: video, Log: engineLog}, nil
}

// classifyFailure decides whether the engine rejected the script itself or
// failed while executing it.
func classifyFailure(stderr string) error {
	for _, marker := range []string{"SyntaxError", "IndentationError", "NameError", "ImportError", "LaTeX Error", "LaTeX error"} {
		if strings.Contains(stderr, marker) {
			return ErrCompileFailure
		}
	}
	return ErrRuntimeFailure
}

// findOutputVideo returns the most recently modified .mp4 under dir.
func findOutputVideo(dir string) (string, error) {
	var newest string
	var newestMod time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".mp4") {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if newest == "" {
		return "", fmt.Errorf("no .mp4 produced under %s", dir)
	}
	return newest, nil
}

var _ Engine = (*ManimEngine)(nil)

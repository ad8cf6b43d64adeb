package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/pixelqueue/config"
	"github.com/BaSui01/pixelqueue/llm/image"
)

// drainTimeout bounds how long an interrupted run waits for admitted requests.
const drainTimeout = 5 * time.Second

// stringList 收集可重复的 flag
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// 🎨 generate 命令
// =============================================================================

func runGenerate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("generate", stderr)
	configPath := fs.String("config", "", "Path to config file")
	model := fs.String("model", "", "Model override")
	var images stringList
	fs.Var(&images, "image", "Reference image path (repeatable)")
	concurrency := fs.Int("concurrency", 0, "Persist a new concurrency limit (1-10)")
	timeout := fs.Duration("timeout", 0, "Per-request timeout (1s-600s)")
	outDir := fs.String("out", ".", "Directory for saved images")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prompts := fs.Args()
	if len(prompts) == 0 {
		return errors.New("at least one prompt is required")
	}

	cfg, err := loadConfig(*configPath, func(c *config.Config) {
		if *model != "" {
			c.API.Model = *model
		}
		if *timeout > 0 {
			c.Queue.Timeout = *timeout
		}
	})
	if err != nil {
		return err
	}

	refs, err := loadReferences(images)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.service.Start(ctx); err != nil {
		return err
	}
	if *concurrency > 0 {
		applied, err := a.service.SetConcurrencyLimit(ctx, *concurrency)
		if err != nil {
			logger.Warn("concurrency limit not persisted", zap.Error(err))
		}
		logger.Info("concurrency limit set", zap.Int("limit", applied))
	}

	results := generateAll(ctx, a.service, prompts, refs, *model)

	if ctx.Err() != nil {
		dropped := a.service.CancelAllRequests()
		logger.Info("interrupted, dropped queued requests", zap.Int("dropped", dropped))
		waitCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := a.queue.WaitIdle(waitCtx); err != nil {
			logger.Warn("admitted requests still running at exit", zap.Int("active", a.queue.ActiveRequests()))
		}
		cancel()
	}

	return reportResults(results, *outDir, stdout, stderr)
}

// generator 是 generateAll 需要的最小接口
type generator interface {
	Generate(ctx context.Context, req *image.GenerationRequest) (*image.GenerationResponse, error)
}

type result struct {
	prompt string
	resp   *image.GenerationResponse
	err    error
}

// generateAll 为每个 prompt 提交一个请求；并发上限由队列控制
func generateAll(ctx context.Context, svc generator, prompts []string, refs []image.File, model string) []result {
	results := make([]result, len(prompts))
	var g errgroup.Group
	for i, prompt := range prompts {
		g.Go(func() error {
			req := &image.GenerationRequest{Prompt: prompt, ReferenceImages: refs}
			if model != "" {
				req.Params = &image.GenerationParams{Model: model}
			}
			resp, err := svc.Generate(ctx, req)
			results[i] = result{prompt: prompt, resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func reportResults(results []result, outDir string, stdout, stderr io.Writer) error {
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(stderr, "failed\t%q\t%v\n", r.prompt, r.err)
			continue
		}
		if r.resp.Violation {
			fmt.Fprintf(stdout, "%s\tviolation\t%q\n", r.resp.ID, r.prompt)
			continue
		}
		location := r.resp.URL
		path, err := saveImage(outDir, r.resp)
		if err != nil {
			failed++
			fmt.Fprintf(stderr, "failed\t%q\t%v\n", r.prompt, err)
			continue
		}
		if path != "" {
			location = path
		}
		fmt.Fprintf(stdout, "%s\tcompleted\t%s\n", r.resp.ID, location)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d generations failed", failed, len(results))
	}
	return nil
}

func loadReferences(paths []string) ([]image.File, error) {
	refs := make([]image.File, 0, len(paths))
	for _, p := range paths {
		f, err := image.NewLocalFile(p)
		if err != nil {
			return nil, fmt.Errorf("reference image %q: %w", p, err)
		}
		if err := image.ValidateImageFile(f); err != nil {
			return nil, err
		}
		refs = append(refs, f)
	}
	return refs, nil
}

// =============================================================================
// 📋 models 命令
// =============================================================================

func runModels(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("models", stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	models, err := a.provider.ListModels(ctx)
	a.collector.RecordModelList(err)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Fprintln(stdout, m)
	}
	return nil
}

// =============================================================================
// 🗂️ history 命令
// =============================================================================

func runHistory(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history", stderr)
	configPath := fs.String("config", "", "Path to config file")
	page := fs.Int("page", 0, "Page number (keeps the stored page when 0)")
	pageSize := fs.Int("page-size", 0, "Page size 6-48 (keeps the stored size when 0)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	a, err := newStorageApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	h := a.history
	if err := h.Load(ctx); err != nil {
		return err
	}
	if *pageSize > 0 {
		if err := h.SetPageSize(ctx, *pageSize); err != nil {
			return err
		}
	}
	if *page > 0 {
		if err := h.GoToPage(ctx, *page); err != nil {
			return err
		}
	}

	fmt.Fprintf(stdout, "Page %d/%d (%d images, %d per page)\n",
		h.CurrentPage(), h.TotalPages(), h.TotalImages(), h.PageSize())
	for _, img := range h.PaginatedImages() {
		ts := time.UnixMilli(img.Timestamp).Format(time.RFC3339)
		fmt.Fprintf(stdout, "%s\t%s\t%q\t%s\n", img.ID, ts, img.Prompt, displayURL(img.URL))
	}
	return nil
}

func runHistoryClear(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history-clear", stderr)
	configPath := fs.String("config", "", "Path to config file")
	all := fs.Bool("all", false, "Also clear the generation list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	a, err := newStorageApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.history.Load(ctx); err != nil {
		return err
	}
	removed := a.history.TotalImages()
	if err := a.history.ClearHistory(ctx); err != nil {
		return err
	}
	if *all {
		if err := a.generations.Load(ctx); err != nil {
			return err
		}
		if err := a.generations.ClearGeneratedImages(ctx); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "Removed %d images from history\n", removed)
	return nil
}

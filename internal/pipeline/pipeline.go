package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/metrics"
	"adstudio/internal/storage"
)

const inpaintNegativePrompt = "low quality, out of frame, illustration, 3d, sepia, painting, cartoons, sketch, watermark, text, Logo, advertisement"

// Stager writes bytes to object storage and returns the staged asset.
type Stager interface {
	Write(ctx context.Context, key string, data []byte, contentType string) (*domain.StagedAsset, error)
}

// Fetcher downloads a generated file from its hosting URL.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Options wires the orchestrator's collaborators and fixed model settings.
type Options struct {
	Jobs      JobService
	Captioner Captioner
	Fetcher   Fetcher
	Stager    Stager

	InpaintModelVersion string
	RefineModelVersion  string
	CaptionPrefix       string
	InpaintImageNum     int
	RefineConcurrency   int

	PollInterval    time.Duration
	PollMaxAttempts int
	JobTimeout      time.Duration
	// RequestTimeout bounds a whole Run. Zero means no deadline beyond the
	// caller's context.
	RequestTimeout time.Duration

	Logger  *infra.Logger
	Metrics *metrics.Collectors
	Now     func() time.Time
}

// Pipeline stages the input image, runs inpainting, captions and refines every
// candidate, re-stages the results and records a manifest.
type Pipeline struct {
	opts    Options
	runner  *Runner
	logger  *infra.Logger
	metrics *metrics.Collectors
	now     func() time.Time
}

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("pipeline: job service is required")
	case opts.Captioner == nil:
		return nil, errors.New("pipeline: captioner is required")
	case opts.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case opts.Stager == nil:
		return nil, errors.New("pipeline: stager is required")
	case opts.InpaintModelVersion == "" || opts.RefineModelVersion == "":
		return nil, errors.New("pipeline: model versions are required")
	}
	if opts.InpaintImageNum < 1 {
		opts.InpaintImageNum = 1
	}
	if opts.RefineConcurrency < 1 {
		opts.RefineConcurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		opts: opts,
		runner: NewRunner(opts.Jobs, RunnerOptions{
			Interval:    opts.PollInterval,
			MaxAttempts: opts.PollMaxAttempts,
			Timeout:     opts.JobTimeout,
			Logger:      logger,
			Metrics:     opts.Metrics,
		}),
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// Run executes the whole pipeline for one validated request and returns the
// public URLs of the re-staged results, ordered by candidate and then by
// refinement output.
func (p *Pipeline) Run(ctx context.Context, req *domain.ImageRequest) (urls []string, err error) {
	if p.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RequestTimeout)
		defer cancel()
	}
	defer func() {
		if err != nil && !errors.Is(err, domain.ErrJobTimeout) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("pipeline: request deadline exceeded: %w: %w", domain.ErrJobTimeout, err)
		}
		p.metrics.ObserveRequest(err)
	}()
	log := p.logger.With().Str("request_id", req.RequestID).Logger()

	input, err := p.stage(ctx, "stage_input", func() (*domain.StagedAsset, error) {
		key := storage.UniqueKey("inputs", storage.ExtensionFor(req.ImageContentType), p.now())
		return p.opts.Stager.Write(ctx, key, req.ImageData, req.ImageContentType)
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: stage input: %w", err)
	}
	log.Debug().Str("url", input.RemoteURL).Msg("pipeline: input staged")

	candidates, err := p.inpaint(ctx, req, input.RemoteURL)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	log.Debug().Int("candidates", len(candidates)).Msg("pipeline: inpainting finished")

	results := make([][]string, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.RefineConcurrency)
	for i, candidate := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			staged, err := p.refineCandidate(gctx, candidate)
			if err != nil {
				log.Error().Err(err).Int("candidate", i).Msg("pipeline: candidate failed")
				return fmt.Errorf("pipeline: candidate %d: %w", i+1, err)
			}
			results[i] = staged
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, staged := range results {
		urls = append(urls, staged...)
	}

	p.writeManifest(ctx, req, urls)
	log.Info().Int("images", len(urls)).Msg("pipeline: request completed")
	return urls, nil
}

func (p *Pipeline) inpaint(ctx context.Context, req *domain.ImageRequest, imageURL string) ([]string, error) {
	start := time.Now()
	spec := domain.JobSpec{
		Kind:         domain.JobKindInpaint,
		ModelVersion: p.opts.InpaintModelVersion,
		Input: map[string]any{
			"pixel":               "512 * 512",
			"scale":               3,
			"prompt":              req.Prompt,
			"image_num":           p.opts.InpaintImageNum,
			"image_path":          imageURL,
			"manual_seed":         -1,
			"product_size":        strconv.FormatFloat(req.ProductSizeFactor, 'f', -1, 64) + " * width",
			"guidance_scale":      7.5,
			"negative_prompt":     inpaintNegativePrompt,
			"num_inference_steps": 20,
		},
	}
	job, err := p.runner.Run(ctx, spec)
	if err == nil && len(job.OutputURLs) < 2 {
		err = fmt.Errorf("inpaint job %s returned %d outputs: %w", job.ExternalJobID, len(job.OutputURLs), domain.ErrEmptyOutput)
	}
	p.metrics.ObserveStage("inpaint", start, err)
	if err != nil {
		return nil, err
	}
	// The first output is the product mask.
	return job.OutputURLs[1:], nil
}

func (p *Pipeline) refineCandidate(ctx context.Context, candidateURL string) ([]string, error) {
	start := time.Now()
	caption, err := p.opts.Captioner.Caption(ctx, candidateURL)
	if err == nil && caption == "" {
		err = fmt.Errorf("captioner returned nothing: %w", domain.ErrCaption)
	}
	p.metrics.ObserveStage("caption", start, err)
	if err != nil {
		return nil, fmt.Errorf("caption: %w", err)
	}

	start = time.Now()
	spec := domain.JobSpec{
		Kind:         domain.JobKindRefine,
		ModelVersion: p.opts.RefineModelVersion,
		Input: map[string]any{
			"image":               candidateURL,
			"model":               "dev",
			"prompt":              RefinePrompt(p.opts.CaptionPrefix, caption),
			"lora_scale":          1,
			"num_outputs":         1,
			"aspect_ratio":        "1:1",
			"output_format":       "webp",
			"guidance_scale":      3.5,
			"output_quality":      90,
			"prompt_strength":     0.5,
			"extra_lora_scale":    1,
			"num_inference_steps": 28,
		},
	}
	job, err := p.runner.Run(ctx, spec)
	if err == nil && len(job.OutputURLs) == 0 {
		err = fmt.Errorf("refine job %s returned no images: %w", job.ExternalJobID, domain.ErrEmptyOutput)
	}
	p.metrics.ObserveStage("refine", start, err)
	if err != nil {
		return nil, err
	}

	staged := make([]string, 0, len(job.OutputURLs))
	for _, u := range job.OutputURLs {
		asset, err := p.restage(ctx, u)
		if err != nil {
			return nil, err
		}
		staged = append(staged, asset.RemoteURL)
	}
	return staged, nil
}

// restage copies a generated image from its hosting URL into our bucket.
func (p *Pipeline) restage(ctx context.Context, sourceURL string) (*domain.StagedAsset, error) {
	return p.stage(ctx, "restage", func() (*domain.StagedAsset, error) {
		data, contentType, err := p.opts.Fetcher.Download(ctx, sourceURL)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w: %w", sourceURL, domain.ErrUpstreamFetch, err)
		}
		key := storage.UniqueKey("outputs", storage.ExtensionFor(contentType), p.now())
		return p.opts.Stager.Write(ctx, key, data, contentType)
	})
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func() (*domain.StagedAsset, error)) (*domain.StagedAsset, error) {
	start := time.Now()
	asset, err := fn()
	p.metrics.ObserveStage(name, start, err)
	return asset, err
}

// writeManifest records the request summary. Failures are logged and
// swallowed: the caller still receives the collected URLs.
func (p *Pipeline) writeManifest(ctx context.Context, req *domain.ImageRequest, urls []string) {
	start := time.Now()
	now := p.now()
	manifest := domain.ResultManifest{
		Timestamp:         now.UTC(),
		RequestID:         req.RequestID,
		Prompt:            req.Prompt,
		ProductSizeFactor: req.ProductSizeFactor,
		FinalImageURLs:    urls,
	}
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		_, err = p.opts.Stager.Write(ctx, storage.UniqueKey("manifests", "json", now), body, "application/json")
	}
	p.metrics.ObserveStage("manifest", start, err)
	if err != nil {
		p.metrics.ManifestFailed()
		p.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("pipeline: manifest write failed, continuing")
	}
}

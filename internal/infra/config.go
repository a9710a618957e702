package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	MaxBodyBytes       int64
	MaxImageSide       int
	MaxImagePixels     int
	CORSAllowedOrigins []string
	RateLimitPerMin    int

	ReplicateAPIToken   string
	ReplicateBaseURL    string
	InpaintModelVersion string
	RefineModelVersion  string
	CaptionModelVersion string
	CaptionProvider     string
	CaptionPrefix       string
	GeminiAPIKey        string
	GeminiModel         string

	StorageBucketURL     string
	StoragePublicBaseURL string

	PollInterval      time.Duration
	PollMaxAttempts   int
	JobTimeout        time.Duration
	RequestTimeout    time.Duration
	RefineConcurrency int
	InpaintImageNum   int
}

const (
	defaultInpaintModel = "logerzhu/ad-inpaint:b1c17d148455c1fda435ababe9ab1e03bc0d917cc3cf4251916f22c45c83c7df"
	defaultRefineModel  = "ch-ho00/cartier-model2-ft2:2a18f8c55504f8cecd9230142b1d2f2579d49c2018aeb65ad0426b0b266574f9"
	defaultCaptionModel = "lucataco/joy-caption-pre-alpha:31665fdccd897d20cbda1fa305e64f1b94a181e0350409ed2a40df7a243830a5"
)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "3001"),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 900)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 50<<20)),
		MaxImageSide:       getEnvInt("MAX_IMAGE_SIDE", 8192),
		MaxImagePixels:     getEnvInt("MAX_IMAGE_PIXELS", 40_000_000),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		ReplicateAPIToken:   strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN")),
		ReplicateBaseURL:    getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		InpaintModelVersion: getEnv("INPAINT_MODEL_VERSION", defaultInpaintModel),
		RefineModelVersion:  getEnv("REFINE_MODEL_VERSION", defaultRefineModel),
		CaptionModelVersion: getEnv("CAPTION_MODEL_VERSION", defaultCaptionModel),
		CaptionProvider:     strings.ToLower(getEnv("CAPTION_PROVIDER", "replicate")),
		CaptionPrefix:       getEnv("CAPTION_PREFIX", "WTHCTR watch, "),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		StorageBucketURL:     strings.TrimSpace(os.Getenv("STORAGE_BUCKET_URL")),
		StoragePublicBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_PUBLIC_BASE_URL")), "/"),

		PollInterval:      getEnvDuration("POLL_INTERVAL", 2*time.Second),
		PollMaxAttempts:   getEnvInt("POLL_MAX_ATTEMPTS", 150),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 10*time.Minute),
		RefineConcurrency: getEnvInt("REFINE_CONCURRENCY", 1),
		InpaintImageNum:   getEnvInt("INPAINT_IMAGE_NUM", 1),
	}

	if cfg.ReplicateAPIToken == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN is required")
	}

	bucket := strings.TrimSpace(os.Getenv("S3_BUCKET"))
	region := getEnv("AWS_REGION", "us-east-1")
	if cfg.StorageBucketURL == "" {
		if bucket == "" {
			return nil, fmt.Errorf("STORAGE_BUCKET_URL or S3_BUCKET is required")
		}
		cfg.StorageBucketURL = "s3://" + bucket + "?region=" + url.QueryEscape(region)
	}
	if cfg.StoragePublicBaseURL == "" {
		if bucket == "" {
			return nil, fmt.Errorf("STORAGE_PUBLIC_BASE_URL is required when S3_BUCKET is unset")
		}
		cfg.StoragePublicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}

	switch cfg.CaptionProvider {
	case "replicate":
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when CAPTION_PROVIDER=gemini")
		}
	default:
		return nil, fmt.Errorf("unsupported CAPTION_PROVIDER %q", cfg.CaptionProvider)
	}

	if cfg.RefineConcurrency < 1 {
		cfg.RefineConcurrency = 1
	}
	if cfg.InpaintImageNum < 1 {
		cfg.InpaintImageNum = 1
	}

	budget := PipelineBudget(cfg.JobTimeout, cfg.InpaintImageNum, cfg.RefineConcurrency)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", budget)
	if floor := cfg.RequestTimeout + writeGrace; cfg.HTTPWriteTimeout < floor {
		cfg.HTTPWriteTimeout = floor
	}

	return cfg, nil
}

// writeGrace leaves room to encode the response after the pipeline deadline.
const writeGrace = 30 * time.Second

// PipelineBudget is the worst-case wall time of one request: an inpainting
// job followed by a caption and a refinement job per candidate, with
// candidates processed concurrency at a time.
func PipelineBudget(jobTimeout time.Duration, candidates, concurrency int) time.Duration {
	if concurrency < 1 {
		concurrency = 1
	}
	rounds := (candidates + concurrency - 1) / concurrency
	return jobTimeout * time.Duration(1+2*rounds)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

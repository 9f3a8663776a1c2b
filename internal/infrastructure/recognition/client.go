package recognition

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/thai-fin-ocr/internal/infrastructure/resilience"
)

type TableMode string

const (
	TableModeFast     TableMode = "fast"
	TableModeAccurate TableMode = "accurate"
)

func ParseTableMode(raw string) TableMode {
	if strings.EqualFold(strings.TrimSpace(raw), string(TableModeFast)) {
		return TableModeFast
	}
	return TableModeAccurate
}

type ClientOptions struct {
	APIKey    string
	Languages []string
	TableMode TableMode
	// RequestInterval spaces out engine calls; zero disables pacing.
	RequestInterval time.Duration
	HTTPTimeout     time.Duration
	Executor        *resilience.Executor
	HTTPClient      *http.Client
}

// Client talks to the external recognition engine one page at a time.
type Client struct {
	baseURL    string
	apiKey     string
	languages  []string
	tableMode  TableMode
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

func NewClient(baseURL string, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.HTTPTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RequestInterval > 0 {
		limit = rate.Every(opts.RequestInterval)
	}
	languages := opts.Languages
	if len(languages) == 0 {
		languages = []string{"th", "en"}
	}
	tableMode := opts.TableMode
	if tableMode == "" {
		tableMode = TableModeAccurate
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     opts.APIKey,
		languages:  languages,
		tableMode:  tableMode,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		executor:   opts.Executor,
	}
}

type pageRequest struct {
	FileName  string    `json:"file_name"`
	Document  string    `json:"document_base64"`
	Page      int       `json:"page"`
	Languages []string  `json:"languages"`
	TableMode TableMode `json:"table_mode"`
}

// RecognizePage sends one page and returns the validated engine response.
func (c *Client) RecognizePage(ctx context.Context, fileName string, document []byte, page int) (pageResponse, bool, error) {
	req := pageRequest{
		FileName:  fileName,
		Document:  base64.StdEncoding.EncodeToString(document),
		Page:      page,
		Languages: c.languages,
		TableMode: c.tableMode,
	}

	var raw []byte
	call := func(callCtx context.Context) error {
		if err := c.limiter.Wait(callCtx); err != nil {
			if ctxErr := callCtx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("engine rate limit: %w", context.DeadlineExceeded)
		}
		body, err := c.postJSON(callCtx, "/v1/recognize", req, "recognize")
		if err != nil {
			return err
		}
		raw = body
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "engine.recognize", call, classifyEngineError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return pageResponse{}, false, fmt.Errorf("recognize page %d: %w", page, err)
	}
	return decodePageResponse(raw)
}

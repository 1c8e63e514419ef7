package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default configuration values.
const (
	DefaultBaseURL       = "https://generativelanguage.googleapis.com"
	DefaultFallbackModel = "models/gemini-1.5-flash"
	DefaultPollInterval  = time.Second
	DefaultPollTimeout   = 60 * time.Second
	DefaultHTTPTimeout   = 120 * time.Second
	DefaultMaxDimension  = 2048
)

const (
	stateProcessing = "PROCESSING"
	stateFailed     = "FAILED"
)

// Config configures the model client.
type Config struct {
	APIKey string
	// BaseURL is the API root (default: https://generativelanguage.googleapis.com).
	BaseURL string
	// Model pins a model such as "models/gemini-2.0-flash"; empty selects one automatically.
	Model        string
	PollInterval time.Duration
	PollTimeout  time.Duration
	HTTPTimeout  time.Duration
	MaxDimension int
	Categories   []string
	HTTPClient   *http.Client
	Logger       *slog.Logger
	Now          func() time.Time
}

// Client extracts invoice contents through the hosted model's REST API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	group singleflight.Group
	mu    sync.Mutex
	model string
}

// NewClient validates cfg and fills defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("extraction: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = DefaultMaxDimension
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger, model: cfg.Model}, nil
}

type remoteFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	URI      string `json:"uri"`
	State    string `json:"state"`
}

type apiError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type generateRequest struct {
	Contents []struct {
		Parts []part `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string  `json:"responseMimeType"`
		Temperature      float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// Extract uploads one invoice image, waits for the remote file to become usable and
// asks the model for the invoice contents.
func (c *Client) Extract(ctx context.Context, image []byte) (Result, error) {
	prepared, mimeType, err := PrepareImage(image, c.cfg.MaxDimension)
	if err != nil {
		return Result{}, err
	}
	file, err := c.upload(ctx, prepared, mimeType)
	if err != nil {
		return Result{}, err
	}
	defer c.deleteFile(file.Name)

	file, err = c.waitActive(ctx, file)
	if err != nil {
		return Result{}, err
	}
	model, err := c.Model(ctx)
	if err != nil {
		return Result{}, err
	}
	text, err := c.generate(ctx, model, file)
	if err != nil {
		return Result{}, err
	}
	return ParseResponse(text, c.cfg.Now())
}

func (c *Client) upload(ctx context.Context, data []byte, mimeType string) (remoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/upload/v1beta/files", bytes.NewReader(data))
	if err != nil {
		return remoteFile{}, fmt.Errorf("%w: create upload request: %v", ErrExtractionFailed, err)
	}
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("Content-Type", mimeType)
	var out struct {
		File remoteFile `json:"file"`
	}
	if err := c.do(req, &out); err != nil {
		return remoteFile{}, fmt.Errorf("upload: %w", err)
	}
	if out.File.Name == "" {
		return remoteFile{}, fmt.Errorf("%w: upload returned no file", ErrExtractionFailed)
	}
	return out.File, nil
}

// waitActive polls the file state until it leaves PROCESSING or PollTimeout elapses.
func (c *Client) waitActive(ctx context.Context, file remoteFile) (remoteFile, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for file.State == stateProcessing {
		select {
		case <-pollCtx.Done():
			return remoteFile{}, c.pollError(ctx, pollCtx)
		case <-ticker.C:
		}
		next, err := c.getFile(pollCtx, file.Name)
		if err != nil {
			if pollCtx.Err() != nil {
				return remoteFile{}, c.pollError(ctx, pollCtx)
			}
			return remoteFile{}, err
		}
		file = next
	}
	if file.State == stateFailed {
		return remoteFile{}, fmt.Errorf("%w: remote processing of %s failed", ErrExtractionFailed, file.Name)
	}
	return file, nil
}

func (c *Client) pollError(parent, pollCtx context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
		return ErrExtractionTimeout
	}
	return pollCtx.Err()
}

func (c *Client) getFile(ctx context.Context, name string) (remoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1beta/"+name, http.NoBody)
	if err != nil {
		return remoteFile{}, fmt.Errorf("%w: create status request: %v", ErrExtractionFailed, err)
	}
	var out remoteFile
	if err := c.do(req, &out); err != nil {
		return remoteFile{}, fmt.Errorf("file status: %w", err)
	}
	return out, nil
}

func (c *Client) deleteFile(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+"/v1beta/"+name, http.NoBody)
	if err != nil {
		return
	}
	if err := c.do(req, nil); err != nil {
		c.logger.Warn("delete uploaded file", slog.String("file", name), slog.Any("error", err))
	}
}

// Model returns the configured model or picks one from the models listing. The
// choice is remembered for the lifetime of the client; concurrent first calls share
// one listing.
func (c *Client) Model(ctx context.Context) (string, error) {
	if model := c.cachedModel(); model != "" {
		return model, nil
	}
	v, err, _ := c.group.Do("model", func() (any, error) {
		if model := c.cachedModel(); model != "" {
			return model, nil
		}
		return c.listModel(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func (c *Client) listModel(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1beta/models?pageSize=100", http.NoBody)
	if err != nil {
		return "", fmt.Errorf("%w: create models request: %v", ErrExtractionFailed, err)
	}
	var out struct {
		Models []struct {
			Name                       string   `json:"name"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := c.do(req, &out); err != nil {
		c.logger.Warn("list models, using fallback", slog.Any("error", err))
		return DefaultFallbackModel, nil
	}
	var names []string
	for _, m := range out.Models {
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				names = append(names, m.Name)
				break
			}
		}
	}
	model := pickModel(names)
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
	c.logger.Info("selected extraction model", slog.String("model", model))
	return model, nil
}

// pickModel prefers a full flash model, then any flash model, then whatever is first.
func pickModel(names []string) string {
	for _, n := range names {
		if strings.Contains(n, "flash") && !strings.Contains(n, "lite") {
			return n
		}
	}
	for _, n := range names {
		if strings.Contains(n, "flash") {
			return n
		}
	}
	if len(names) > 0 {
		return names[0]
	}
	return DefaultFallbackModel
}

func (c *Client) generate(ctx context.Context, model string, file remoteFile) (string, error) {
	var body generateRequest
	body.Contents = []struct {
		Parts []part `json:"parts"`
	}{{Parts: []part{
		{FileData: &fileData{MimeType: file.MimeType, FileURI: file.URI}},
		{Text: BuildPrompt(c.cfg.Categories)},
	}}}
	body.GenerationConfig.ResponseMimeType = "application/json"
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrExtractionFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1beta/"+model+":generateContent", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: create generate request: %v", ErrExtractionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	var out generateResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: request blocked: %s", ErrExtractionFailed, out.PromptFeedback.BlockReason)
	}
	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", ErrExtractionFailed)
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrExtractionFailed, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != nil {
			return fmt.Errorf("%w: status %d: %s", ErrExtractionFailed, resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("%w: status %d", ErrExtractionFailed, resp.StatusCode)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrExtractionFailed, err)
	}
	return nil
}

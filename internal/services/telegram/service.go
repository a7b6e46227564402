// Package telegram provides the Telegram Bot API transfer client.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/vaultcourier/internal/models"
	"github.com/fgeck/vaultcourier/internal/progress"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the Telegram Bot API endpoint.
	DefaultBaseURL = "https://api.telegram.org"

	// MaxFileSize is the largest document the Bot API accepts.
	MaxFileSize int64 = 50 << 20

	// DefaultMessageTimeout bounds a single sendMessage attempt.
	DefaultMessageTimeout = 15 * time.Second
	// DefaultUploadTimeout bounds a sendDocument call.
	DefaultUploadTimeout = 60 * time.Second

	methodSendMessage  = "sendMessage"
	methodSendDocument = "sendDocument"

	errorPrefix      = "⚠️ Error: "
	maxErrorBodySize = 1 << 10
)

var errPreviewNotDelivered = errors.New("preview message not delivered")

// Service defines the interface for Telegram transfer operations.
type Service interface {
	SendMessage(ctx context.Context, text string) bool
	SendFile(ctx context.Context, path, caption string) (*models.UploadResult, error)
	ReportError(ctx context.Context, text string)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient     HTTPClient
	logger         zerolog.Logger
	baseURL        string
	cfg            models.TelegramConfig
	retryPolicy    RetryPolicy
	messageTimeout time.Duration
	uploadTimeout  time.Duration
	progress       models.ProgressFunc
	scrubber       *strings.Replacer

	// onRetry is called before every backoff wait.
	onRetry func(err error, delay time.Duration)
}

// New creates a new Telegram service for the given credentials.
func New(logger zerolog.Logger, cfg models.TelegramConfig) *Impl {
	return NewWithClient(logger, cfg, &http.Client{}, DefaultBaseURL)
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, cfg models.TelegramConfig, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient:     httpClient,
		logger:         logger,
		baseURL:        strings.TrimRight(baseURL, "/"),
		cfg:            cfg,
		retryPolicy:    DefaultRetryPolicy(),
		messageTimeout: DefaultMessageTimeout,
		uploadTimeout:  DefaultUploadTimeout,
		progress:       progress.Nop,
		scrubber:       strings.NewReplacer(cfg.BotToken, "<token>"),
	}
}

// WithRetryPolicy replaces the retry policy used for text messages.
func (s *Impl) WithRetryPolicy(p RetryPolicy) *Impl {
	s.retryPolicy = p
	return s
}

// WithTimeouts sets the per-attempt message timeout and the upload timeout.
func (s *Impl) WithTimeouts(message, upload time.Duration) *Impl {
	s.messageTimeout = message
	s.uploadTimeout = upload
	return s
}

// WithProgress sets the callback that receives upload progress.
func (s *Impl) WithProgress(fn models.ProgressFunc) *Impl {
	s.progress = progress.OrNop(fn)
	return s
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// apiResponse is the envelope the Bot API wraps every reply in.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// SendMessage sends an HTML text message, retrying transient failures.
// It reports whether the message was delivered and never returns an error.
func (s *Impl) SendMessage(ctx context.Context, text string) bool {
	attempts, err := s.retry(ctx, methodSendMessage, func() error {
		return s.sendMessageOnce(ctx, text)
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Int("attempts", attempts).
			Msg("failed to send Telegram message")
		return false
	}

	s.logger.Info().
		Int("attempts", attempts).
		Str("text", text).
		Msg("message sent to Telegram")
	return true
}

func (s *Impl) sendMessageOnce(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.messageTimeout)
	defer cancel()

	jsonBody, err := json.Marshal(sendMessageRequest{
		ChatID:    s.cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.methodURL(methodSendMessage), bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", s.scrub(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &models.TransportError{Method: methodSendMessage, Err: s.scrub(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return checkResponse(methodSendMessage, resp)
}

// SendFile announces a file with a preview message and uploads it as a document.
// Missing files and files over MaxFileSize fail before any network call.
// Transport failures are reported to the chat and returned in the result.
func (s *Impl) SendFile(ctx context.Context, path, caption string) (*models.UploadResult, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, &models.NotFoundError{Path: path, Kind: models.TargetFile}
	}
	if info.Size() > MaxFileSize {
		return nil, &models.SizeLimitError{Path: path, Size: info.Size(), Limit: MaxFileSize}
	}

	start := time.Now()
	name := filepath.Base(path)
	result := &models.UploadResult{
		Target: models.Target{Path: path, Kind: models.TargetFile},
		Path:   path,
		Bytes:  info.Size(),
	}

	if !s.SendMessage(ctx, previewMessage(name, caption, info.Size())) {
		s.logger.Error().Str("file", name).Msg("failed to send initial message, skipping upload")
		result.Reason = errPreviewNotDelivered.Error()
		result.Error = errPreviewNotDelivered
		result.Duration = time.Since(start)
		return result, nil
	}

	s.logger.Info().
		Str("file", name).
		Int64("size", info.Size()).
		Msg("uploading file to Telegram")

	if err := s.uploadDocument(ctx, path, name, info.Size()); err != nil {
		result.Reason = fmt.Sprintf("upload failed: %v", err)
		result.Error = err
		result.Duration = time.Since(start)
		s.logger.Error().Err(err).Str("file", name).Msg("failed to send file to Telegram")
		if ctx.Err() == nil {
			s.ReportError(ctx, fmt.Sprintf("Failed to send file %s: %v", name, err))
		}
		return result, nil
	}

	result.Success = true
	result.Reason = "sent"
	result.Duration = time.Since(start)
	s.logger.Info().
		Str("file", name).
		Dur("duration", result.Duration).
		Msg("file sent to Telegram successfully")

	return result, nil
}

// uploadDocument streams the file as multipart form data. It is attempted once.
func (s *Impl) uploadDocument(ctx context.Context, path, name string, size int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	written := make(chan struct{})
	go func() {
		defer close(written)
		_ = pw.CloseWithError(s.writeDocumentForm(form, f, name, size))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.methodURL(methodSendDocument), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		<-written
		return fmt.Errorf("failed to create request: %w", s.scrub(err))
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	// Unblocks the writer if the body was not fully consumed.
	_ = pr.Close()
	<-written
	if err != nil {
		return &models.TransportError{Method: methodSendDocument, Err: s.scrub(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return checkResponse(methodSendDocument, resp)
}

func (s *Impl) writeDocumentForm(form *multipart.Writer, src io.Reader, name string, size int64) error {
	if err := form.WriteField("chat_id", s.cfg.ChatID); err != nil {
		return err
	}
	part, err := form.CreateFormFile("document", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, progress.NewReader(src, size, s.progress)); err != nil {
		return err
	}
	return form.Close()
}

// ReportError sends an error notice to the chat. Failures are only logged.
func (s *Impl) ReportError(ctx context.Context, text string) {
	if !s.SendMessage(ctx, errorPrefix+EscapeHTML(text)) {
		s.logger.Warn().Str("error", text).Msg("could not report error to Telegram")
	}
}

func (s *Impl) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", s.baseURL, s.cfg.BotToken, method)
}

// checkResponse turns a non-2xx reply into a TransportError carrying Telegram's description.
func checkResponse(method string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	terr := &models.TransportError{Method: method, StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err == nil {
		terr.Description = apiResp.Description
		if resp.StatusCode == http.StatusTooManyRequests && apiResp.Parameters != nil && apiResp.Parameters.RetryAfter > 0 {
			terr.RetryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
		}
	}
	return terr
}

func previewMessage(name, caption string, size int64) string {
	var b strings.Builder
	if caption != "" {
		b.WriteString(caption)
	} else {
		fmt.Fprintf(&b, "Here is the file you requested:\n\n<code>%s</code>", EscapeHTML(name))
	}
	fmt.Fprintf(&b, "\n\n📦 Size: <b>%s</b>", FormatSize(size))
	return b.String()
}

// scrubbedError hides the bot token, which net/http includes in URL errors.
type scrubbedError struct {
	err      error
	scrubber *strings.Replacer
}

func (e *scrubbedError) Error() string { return e.scrubber.Replace(e.err.Error()) }

func (e *scrubbedError) Unwrap() error { return e.err }

func (s *Impl) scrub(err error) error {
	if s.cfg.BotToken == "" {
		return err
	}
	return &scrubbedError{err: err, scrubber: s.scrubber}
}

// EscapeHTML escapes HTML special characters.
func EscapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatSize formats a byte count as B, KB, MB or GB with two decimals.
func FormatSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", size, units[i])
}

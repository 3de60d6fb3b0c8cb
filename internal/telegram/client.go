// Package telegram is a thin client for the Telegram Bot HTTP API, covering
// only what result delivery and replay need: messages, document uploads
// with action keyboards, and file downloads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/artdiffusion/a1111-bot/internal/engine"
	"github.com/artdiffusion/a1111-bot/internal/logger"
)

// actionNamespace distinguishes queue-originated callback tokens from
// settings-menu ones.
const actionNamespace = "job"

type Config struct {
	Token string `mapstructure:"token"`

	APIBaseURL string `mapstructure:"apiBaseURL"`

	RequestTimeoutSeconds int `mapstructure:"requestTimeoutSeconds"`
}

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(config Config) *Client {
	base := config.APIBaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	timeout := time.Duration(config.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		token:      config.Token,
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type messageResult struct {
	MessageID int64 `json:"message_id"`
	Document  struct {
		FileID string `json:"file_id"`
	} `json:"document"`
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	var msg messageResult
	if err := c.callJSON(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendDocument uploads one image as a document and returns the message id
// (the job record key) and the stored file id. Actions are attached after
// the upload because their callback tokens reference the message id the
// API only assigns on send.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string, actions []engine.Action) (int64, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	_ = writer.WriteField("caption", caption)
	_ = writer.WriteField("parse_mode", "HTML")
	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return 0, "", err
	}
	if _, err := part.Write(data); err != nil {
		return 0, "", err
	}
	if err := writer.Close(); err != nil {
		return 0, "", err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), body)
	if err != nil {
		return 0, "", err
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	var msg messageResult
	if err := c.doRequest(request, &msg); err != nil {
		return 0, "", err
	}

	if len(actions) > 0 {
		if err := c.attachActions(ctx, chatID, msg.MessageID, actions); err != nil {
			// the image is already delivered; a missing keyboard is not fatal
			logger.Warnf("actions not attached to message %d: %s", msg.MessageID, err)
		}
	}
	return msg.MessageID, msg.Document.FileID, nil
}

func (c *Client) attachActions(ctx context.Context, chatID, messageID int64, actions []engine.Action) error {
	buttons := make([]map[string]string, 0, len(actions))
	for _, action := range actions {
		buttons = append(buttons, map[string]string{
			"text":          action.Label,
			"callback_data": fmt.Sprintf("%s:%s:%d", actionNamespace, action.Verb, messageID),
		})
	}
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"reply_markup": map[string]interface{}{
			"inline_keyboard": [][]map[string]string{buttons},
		},
	}
	return c.callJSON(ctx, "editMessageReplyMarkup", payload, nil)
}

func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	}
	return c.callJSON(ctx, "editMessageText", payload, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	}
	return c.callJSON(ctx, "deleteMessage", payload, nil)
}

// DownloadFile fetches a previously delivered document by its file id.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := c.callJSON(ctx, "getFile", map[string]string{"file_id": fileID}, &file); err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram: empty file path for file %s", fileID)
	}
	downloadURL := file.FilePath
	if parsed, err := url.Parse(downloadURL); err != nil || !parsed.IsAbs() {
		downloadURL = fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, file.FilePath)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("telegram file download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram file download failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) callJSON(ctx context.Context, method string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	return c.doRequest(request, out)
}

func (c *Client) doRequest(request *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()
	var wrapper apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return fmt.Errorf("telegram response not decodable: %w", err)
	}
	if !wrapper.OK {
		return fmt.Errorf("telegram api error: %s", wrapper.Description)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(wrapper.Result, out)
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

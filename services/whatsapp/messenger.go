// Package whatsapp implements the Messenger capability over the WhatsApp
// Cloud API (Graph API).
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/utils"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"
)

// Client sends messages through a WhatsApp Business phone number.
type Client struct {
	baseURL       string
	apiVersion    string
	accessToken   string
	phoneNumberID string
	http          *http.Client
}

// NewClient creates a Client. An empty access token yields a disabled client
// whose sends fail with a tagged internal error; the rest of the system
// keeps running.
func NewClient(accessToken, phoneNumberID string) *Client {
	if accessToken == "" || phoneNumberID == "" {
		utils.LogWarn("WhatsApp credentials missing, outbound messaging disabled")
	}
	return &Client{
		baseURL:       defaultBaseURL,
		apiVersion:    defaultAPIVersion,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		http:          &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL overrides the Graph API host, for tests.
func (c *Client) SetBaseURL(url string) { c.baseURL = url }

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	return c.post(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]interface{}{"body": body},
	})
}

// SendButtons sends a message with up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []ports.Button) error {
	apiButtons := make([]map[string]interface{}, 0, len(buttons))
	for _, b := range buttons {
		apiButtons = append(apiButtons, map[string]interface{}{
			"type":  "reply",
			"reply": map[string]string{"id": b.ID, "title": b.Title},
		})
	}
	return c.post(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]interface{}{"buttons": apiButtons},
		},
	})
}

// SendList sends a sectioned list message.
func (c *Client) SendList(ctx context.Context, to, body, buttonText string, sections []ports.ListSection) error {
	apiSections := make([]map[string]interface{}, 0, len(sections))
	for _, s := range sections {
		rows := make([]map[string]string, 0, len(s.Rows))
		for _, r := range s.Rows {
			rows = append(rows, map[string]string{
				"id":          r.ID,
				"title":       r.Title,
				"description": r.Description,
			})
		}
		apiSections = append(apiSections, map[string]interface{}{
			"title": s.Title,
			"rows":  rows,
		})
	}
	return c.post(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "list",
			"body":   map[string]string{"text": body},
			"action": map[string]interface{}{"button": buttonText, "sections": apiSections},
		},
	})
}

// SendFlow dispatches an interactive Flow message carrying the backend
// issued flow token.
func (c *Client) SendFlow(ctx context.Context, to string, prompt ports.FlowPrompt) error {
	parameters := map[string]interface{}{
		"flow_message_version": "3",
		"flow_token":           prompt.FlowToken,
		"flow_id":              prompt.FlowID,
		"flow_cta":             prompt.CTA,
		"flow_action":          "navigate",
		"flow_action_payload": map[string]interface{}{
			"screen": prompt.Screen,
			"data":   prompt.Data,
		},
	}
	return c.post(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "flow",
			"body":   map[string]string{"text": prompt.Body},
			"action": map[string]interface{}{"name": "flow", "parameters": parameters},
		},
	})
}

// SendDocument uploads the document bytes to the media endpoint and sends
// them as an attachment.
func (c *Client) SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error {
	mediaID, err := c.upload(ctx, filename, data)
	if err != nil {
		return err
	}
	return c.post(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "document",
		"document": map[string]string{
			"id":       mediaID,
			"filename": filename,
			"caption":  caption,
		},
	})
}

func (c *Client) post(ctx context.Context, payload map[string]interface{}) error {
	if c.accessToken == "" || c.phoneNumberID == "" {
		return utils.InternalError("whatsapp messenger is not configured", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return utils.InternalError("failed to encode message payload", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return utils.InternalError("failed to build message request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return utils.InternalError("whatsapp send failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		utils.LogError("WhatsApp API error %d: %s", resp.StatusCode, apiErr.Error.Message)
		return utils.InternalError(fmt.Sprintf("whatsapp api returned %d", resp.StatusCode), nil)
	}
	return nil
}

// upload pushes media bytes to the Graph media endpoint and returns the
// media ID for use in a subsequent message.
func (c *Client) upload(ctx context.Context, filename string, data []byte) (string, error) {
	if c.accessToken == "" || c.phoneNumberID == "" {
		return "", utils.InternalError("whatsapp messenger is not configured", nil)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", utils.InternalError("failed to build upload request", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", utils.InternalError("failed to build upload request", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", utils.InternalError("failed to build upload request", err)
	}
	if err := writer.Close(); err != nil {
		return "", utils.InternalError("failed to build upload request", err)
	}

	url := fmt.Sprintf("%s/%s/%s/media", c.baseURL, c.apiVersion, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", utils.InternalError("failed to build upload request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", utils.InternalError("media upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", utils.InternalError(fmt.Sprintf("media upload returned %d", resp.StatusCode), nil)
	}
	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", utils.InternalError("failed to decode upload response", err)
	}
	return uploaded.ID, nil
}

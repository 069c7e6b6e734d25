package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hyperjump/guidechat/internal/chat"
	"github.com/hyperjump/guidechat/internal/errs"
	"github.com/hyperjump/guidechat/internal/models"
)

// APIError is an error reported by the server, before or inside a chat stream.
type APIError struct {
	Status  int
	Code    errs.Code
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client talks to a running guidechat server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) hostGuideURL(guideID, suffix string) string {
	return c.baseURL + "/api/v1/host/guides/" + url.PathEscape(guideID) + suffix
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    errs.Code `json:"code"`
			Message string    `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: errs.CodeChat, Message: strings.TrimSpace(string(raw))}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Error.Code, Message: body.Error.Message}
}

// Reindex rebuilds a guide's embeddings and returns their count.
func (c *Client) Reindex(ctx context.Context, guideID string) (int, error) {
	var out models.ReindexResponse
	err := c.do(ctx, http.MethodPost, c.hostGuideURL(guideID, "/reindex"), nil, &out)
	return out.EmbeddingsCount, err
}

// DeleteEmbeddings removes a guide's embeddings.
func (c *Client) DeleteEmbeddings(ctx context.Context, guideID string) (int64, error) {
	var out models.DeleteResponse
	err := c.do(ctx, http.MethodDelete, c.hostGuideURL(guideID, "/embeddings"), nil, &out)
	return out.DeletedCount, err
}

// Search runs a host debug search.
func (c *Client) Search(ctx context.Context, guideID string, query *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	if err := c.do(ctx, http.MethodPost, c.hostGuideURL(guideID, "/search"), query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversations lists turns newest first. An empty sessionID lists every session.
func (c *Client) Conversations(ctx context.Context, guideID, sessionID string, page, limit int) (*models.TurnPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if sessionID != "" {
		q.Set("sessionId", sessionID)
	}
	u := c.hostGuideURL(guideID, "/conversations")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var out models.TurnPage
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session returns one whole conversation.
func (c *Client) Session(ctx context.Context, guideID, sessionID string) (*models.SessionResponse, error) {
	var out models.SessionResponse
	if err := c.do(ctx, http.MethodGet, c.hostGuideURL(guideID, "/conversations/"+url.PathEscape(sessionID)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession deletes one conversation.
func (c *Client) DeleteSession(ctx context.Context, guideID, sessionID string) (int64, error) {
	var out models.DeleteResponse
	err := c.do(ctx, http.MethodDelete, c.hostGuideURL(guideID, "/conversations/"+url.PathEscape(sessionID)), nil, &out)
	return out.DeletedCount, err
}

// Status returns store counts and configuration.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChatOptions selects the chat route and session.
type ChatOptions struct {
	SessionID string
	// Host uses the host preview route, which answers unpublished guides.
	Host bool
}

// Chat sends message and calls onChunk for each streamed chunk. It returns the done payload,
// or an *APIError for pre-stream and in-stream failures.
func (c *Client) Chat(ctx context.Context, guideID, message string, opts ChatOptions, onChunk func(string)) (*chat.DonePayload, error) {
	u := c.baseURL + "/api/v1/guides/" + url.PathEscape(guideID) + "/chat"
	if opts.Host {
		u = c.hostGuideURL(guideID, "/chat")
	}
	b, err := json.Marshal(models.ChatRequest{Message: message, SessionID: opts.SessionID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var done *chat.DonePayload
	errStop := errors.New("stop")
	err = ReadSSE(resp.Body, func(ev SSEEvent) error {
		switch chat.EventType(ev.Event) {
		case chat.EventMessage:
			var m chat.MessagePayload
			if err := json.Unmarshal([]byte(ev.Data), &m); err != nil {
				return fmt.Errorf("decode message event: %w", err)
			}
			if onChunk != nil {
				onChunk(m.Chunk)
			}
		case chat.EventDone:
			done = &chat.DonePayload{}
			if err := json.Unmarshal([]byte(ev.Data), done); err != nil {
				return fmt.Errorf("decode done event: %w", err)
			}
			return errStop
		case chat.EventError:
			var p chat.ErrorPayload
			if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
				return fmt.Errorf("decode error event: %w", err)
			}
			return &APIError{Status: http.StatusOK, Code: p.Code, Message: p.Message}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	if done == nil {
		return nil, errors.New("chat stream ended without a result")
	}
	return done, nil
}

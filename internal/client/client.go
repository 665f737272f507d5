// Package client talks to the Inkwell HTTP API on behalf of a terminal
// user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/chat"
	"github.com/ahmetk3436/inkwell/internal/models"
)

var ErrIncompleteStream = errors.New("stream ended before done or error")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Models  []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the API rooted at baseURL, for example
// http://localhost:8098.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Token() string { return c.token }

// Conversation is a stored conversation with its ordered messages.
type Conversation struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		Message string   `json:"message"`
		Models  []string `json:"models"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		apiErr.Message = body.Message
		apiErr.Models = body.Models
	}
	return apiErr
}

// Login exchanges credentials for an access token and keeps it for
// later calls.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out); err != nil {
		return err
	}
	if out.AccessToken == "" {
		return errors.New("login response carried no access token")
	}
	c.token = out.AccessToken
	return nil
}

func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out struct {
		Models []string `json:"models"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var out Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream is an open turn response. Callers must Close it.
type Stream struct {
	*chat.Decoder
	body io.Closer
}

func (s *Stream) Close() error { return s.body.Close() }

// Stream starts a turn in mode and returns its event stream. Request
// validation failures come back as *APIError before any event.
func (c *Client) Stream(ctx context.Context, mode chat.Mode, req chat.Request) (*Stream, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chat/"+string(mode), req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("start %s turn: %w", mode, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return &Stream{Decoder: chat.NewDecoder(resp.Body), body: resp.Body}, nil
}

// Run streams a whole turn, calling onEvent after each event is folded
// into the transcript. It fails with ErrIncompleteStream when the
// connection ends before done or error.
func (c *Client) Run(ctx context.Context, mode chat.Mode, req chat.Request, onEvent func(chat.Event, *chat.Transcript)) (*chat.Transcript, error) {
	stream, err := c.Stream(ctx, mode, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	tr := &chat.Transcript{}
	for !tr.Finished() {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return tr, ErrIncompleteStream
		}
		if err != nil {
			return tr, err
		}
		if err := tr.Apply(ev); err != nil {
			return tr, err
		}
		if onEvent != nil {
			onEvent(ev, tr)
		}
	}
	return tr, nil
}

// Package cartclient talks to the cart HTTP API.
package cartclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scentcart/internal/cart"
	"scentcart/internal/logger"

	"go.uber.org/zap"
)

const DefaultTimeout = 8 * time.Second

var ErrNoSession = errors.New("cart api call needs a user id and token")

// APIError is a non-2xx answer from the cart API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cart api: status %d", e.Status)
	}
	return fmt.Sprintf("cart api: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Session is who the calls are made for.
type Session struct {
	UserID string
	Token  string
}

func (s Session) valid() bool {
	return strings.TrimSpace(s.UserID) != "" && s.Token != ""
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// New builds a client for baseURL. Every call is bounded by timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout + time.Second,
		},
		timeout: timeout,
	}
}

type listResponse struct {
	Items []cart.Item `json:"items"`
}

type updateResponse struct {
	Item    *cart.Item `json:"item"`
	Removed bool       `json:"removed"`
}

type countResponse struct {
	Count int `json:"count"`
}

type mergeRequest struct {
	Items []cart.MergeLine `json:"items"`
}

func userPath(userID string, suffix string) string {
	return "/cart/user/" + url.PathEscape(userID) + suffix
}

func itemPath(itemID string) string {
	return "/cart/" + url.PathEscape(itemID)
}

func (c *Client) GetCart(ctx context.Context, s Session) ([]cart.Item, error) {
	var res listResponse
	if err := c.do(ctx, s, http.MethodGet, userPath(s.UserID, ""), nil, &res); err != nil {
		return nil, err
	}
	if res.Items == nil {
		res.Items = []cart.Item{}
	}
	return res.Items, nil
}

// AddItem creates the line or increments the existing one server side.
func (c *Client) AddItem(ctx context.Context, s Session, params cart.AddItemParams) (*cart.Item, error) {
	var item cart.Item
	if err := c.do(ctx, s, http.MethodPost, userPath(s.UserID, ""), params, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItem returns nil when the server removed the line.
func (c *Client) UpdateItem(ctx context.Context, s Session, itemID string, params cart.UpdateItemParams) (*cart.Item, error) {
	var res updateResponse
	if err := c.do(ctx, s, http.MethodPut, itemPath(itemID), params, &res); err != nil {
		return nil, err
	}
	if res.Removed {
		return nil, nil
	}
	return res.Item, nil
}

func (c *Client) RemoveItem(ctx context.Context, s Session, itemID string) error {
	return c.do(ctx, s, http.MethodDelete, itemPath(itemID), nil, nil)
}

func (c *Client) ClearCart(ctx context.Context, s Session) error {
	return c.do(ctx, s, http.MethodDelete, userPath(s.UserID, ""), nil, nil)
}

func (c *Client) Count(ctx context.Context, s Session) (int, error) {
	var res countResponse
	if err := c.do(ctx, s, http.MethodGet, userPath(s.UserID, "/count"), nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Merge sends guest lines and returns the canonical cart afterwards.
func (c *Client) Merge(ctx context.Context, s Session, lines []cart.MergeLine) (*cart.MergeResult, error) {
	var res cart.MergeResult
	if err := c.do(ctx, s, http.MethodPost, userPath(s.UserID, "/merge"), mergeRequest{Items: lines}, &res); err != nil {
		return nil, err
	}
	if res.Items == nil {
		res.Items = []cart.Item{}
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, s Session, method, path string, in, out any) error {
	if !s.valid() {
		return ErrNoSession
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "cartclient"),
		zap.String("method", method),
		zap.String("path", path),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reqID := logger.RequestIDFrom(ctx); reqID != "" {
		req.Header.Set(logger.HeaderRequestID, reqID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("cart api request failed", zap.Error(err))
		return fmt.Errorf("cart api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read cart api response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(bodyBytes, &payload) == nil {
			apiErr.Message = payload.Error
		}
		log.Warn("cart api returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.String("error", apiErr.Message),
		)
		return apiErr
	}

	log.Debug("cart api call done",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if out == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("decode cart api response: %w", err)
	}
	return nil
}

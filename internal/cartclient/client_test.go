package cartclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"scentcart/internal/cart"
	"scentcart/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRoundTripper allows us to mock the HTTP response
type MockRoundTripper func(req *http.Request) (*http.Response, error)

func (f MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

var session = Session{UserID: "42", Token: "tok"}

func newTestClient(rt MockRoundTripper) *Client {
	c := New("http://cart.test/", time.Second)
	c.httpClient.Transport = rt
	return c
}

func TestClient_GetCart(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, http.MethodGet, req.Method)
			assert.Equal(t, "http://cart.test/cart/user/42", req.URL.String())
			assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
			assert.Equal(t, "rid-1", req.Header.Get(logger.HeaderRequestID))
			_, hasDeadline := req.Context().Deadline()
			assert.True(t, hasDeadline)

			return jsonResponse(http.StatusOK, `{"items":[{"id":"c1","productId":"p1","price":"10","quantity":2,"persisted":true}],"summary":{}}`), nil
		})

		ctx := logger.WithRequestID(context.Background(), "rid-1")
		items, err := c.GetCart(ctx, session)

		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "c1", items[0].ID)
		assert.True(t, items[0].Price.Equal(decimal.NewFromInt(10)))
	})

	t.Run("Null items", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"items":null}`), nil
		})

		items, err := c.GetCart(context.Background(), session)

		require.NoError(t, err)
		assert.NotNil(t, items)
	})

	t.Run("No session", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			t.Fatal("no request expected")
			return nil, nil
		})

		_, err := c.GetCart(context.Background(), Session{UserID: "42"})
		assert.ErrorIs(t, err, ErrNoSession)
	})
}

func TestClient_AddItem(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/cart/user/42", req.URL.Path)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "p1", body["productId"])
		assert.Equal(t, float64(2), body["quantity"])
		assert.NotContains(t, body, "UserID")

		return jsonResponse(http.StatusCreated, `{"id":"c1","productId":"p1","quantity":2}`), nil
	})

	item, err := c.AddItem(context.Background(), session, cart.AddItemParams{UserID: "42", ProductID: "p1", Quantity: 2})

	require.NoError(t, err)
	assert.Equal(t, "c1", item.ID)
}

func TestClient_UpdateItem(t *testing.T) {
	t.Run("Updated", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, http.MethodPut, req.Method)
			assert.Equal(t, "/cart/c1", req.URL.Path)
			return jsonResponse(http.StatusOK, `{"item":{"id":"c1","quantity":3},"removed":false}`), nil
		})

		qty := 3
		item, err := c.UpdateItem(context.Background(), session, "c1", cart.UpdateItemParams{Quantity: &qty})

		require.NoError(t, err)
		assert.Equal(t, 3, item.Quantity)
	})

	t.Run("Removed", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"item":null,"removed":true}`), nil
		})

		qty := 0
		item, err := c.UpdateItem(context.Background(), session, "c1", cart.UpdateItemParams{Quantity: &qty})

		require.NoError(t, err)
		assert.Nil(t, item)
	})
}

func TestClient_RemoveAndClear(t *testing.T) {
	var seen []string
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		seen = append(seen, req.Method+" "+req.URL.Path)
		if req.URL.Path == "/cart/c1" {
			return jsonResponse(http.StatusNoContent, ""), nil
		}
		return jsonResponse(http.StatusOK, `{"status":"cleared"}`), nil
	})

	require.NoError(t, c.RemoveItem(context.Background(), session, "c1"))
	require.NoError(t, c.ClearCart(context.Background(), session))
	assert.Equal(t, []string{"DELETE /cart/c1", "DELETE /cart/user/42"}, seen)
}

func TestClient_Count(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/cart/user/42/count", req.URL.Path)
		return jsonResponse(http.StatusOK, `{"count":6}`), nil
	})

	n, err := c.Count(context.Background(), session)

	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestClient_Merge(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/cart/user/42/merge", req.URL.Path)

		var body struct {
			Items []map[string]any `json:"items"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		require.Len(t, body.Items, 1)
		assert.Equal(t, "g1", body.Items[0]["id"])

		return jsonResponse(http.StatusOK, `{"mergedCount":1,"items":[{"id":"c1","productId":"p1","quantity":2,"persisted":true}]}`), nil
	})

	res, err := c.Merge(context.Background(), session, []cart.MergeLine{{ClientLineID: "g1", ProductID: "p1", Quantity: 2}})

	require.NoError(t, err)
	assert.Equal(t, 1, res.MergedCount)
	assert.Len(t, res.Items, 1)
}

func TestClient_Errors(t *testing.T) {
	t.Run("API error carries status and message", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusNotFound, `{"error":"cart item not found"}`), nil
		})

		err := c.RemoveItem(context.Background(), session, "c9")

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
		assert.Equal(t, "cart item not found", apiErr.Message)
		assert.True(t, IsStatus(err, http.StatusNotFound))
	})

	t.Run("Non JSON error body", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusBadGateway, `<html>bad gateway</html>`), nil
		})

		_, err := c.Count(context.Background(), session)

		assert.True(t, IsStatus(err, http.StatusBadGateway))
		assert.Equal(t, "cart api: status 502", err.Error())
	})

	t.Run("Transport error", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})

		_, err := c.Count(context.Background(), session)

		assert.ErrorContains(t, err, "connection refused")
		assert.False(t, IsStatus(err, http.StatusInternalServerError))
	})

	t.Run("Malformed success body", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"count":`), nil
		})

		_, err := c.Count(context.Background(), session)
		assert.ErrorContains(t, err, "decode cart api response")
	})
}

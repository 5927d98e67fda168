package handler

import (
	"errors"
	"net/http"

	"scentcart/internal/cart"
	"scentcart/internal/logger"
	"scentcart/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CartHandler struct {
	svc cart.Service
}

func NewCartHandler(svc cart.Service) *CartHandler {
	return &CartHandler{svc: svc}
}

type listResponse struct {
	Items   []cart.Item  `json:"items"`
	Summary cart.Summary `json:"summary"`
}

type updateResponse struct {
	Item    *cart.Item `json:"item"`
	Removed bool       `json:"removed"`
}

type mergeRequest struct {
	Items []cart.MergeLine `json:"items"`
}

// GET /cart/user/:userId
func (h *CartHandler) GetCart(c *gin.Context) {
	items, err := h.svc.GetCart(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Items: items, Summary: cart.Summarize(items)})
}

// POST /cart/user/:userId
func (h *CartHandler) AddToCart(c *gin.Context) {
	var req cart.AddItemParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.UserID = c.Param("userId")

	item, err := h.svc.AddToCart(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// PUT /cart/:itemId
func (h *CartHandler) UpdateItem(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c.Request.Context())
	if !ok {
		writeError(c, cart.ErrUserNotAuthenticated)
		return
	}

	var req cart.UpdateItemParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.UserID = userID
	req.ItemID = c.Param("itemId")

	item, err := h.svc.UpdateItem(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updateResponse{Item: item, Removed: item == nil})
}

// DELETE /cart/:itemId
func (h *CartHandler) RemoveItem(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c.Request.Context())
	if !ok {
		writeError(c, cart.ErrUserNotAuthenticated)
		return
	}

	if err := h.svc.RemoveItem(c.Request.Context(), userID, c.Param("itemId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DELETE /cart/user/:userId
func (h *CartHandler) ClearCart(c *gin.Context) {
	if err := h.svc.ClearCart(c.Request.Context(), c.Param("userId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// GET /cart/user/:userId/count
func (h *CartHandler) Count(c *gin.Context) {
	count, err := h.svc.Count(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// POST /cart/user/:userId/merge
func (h *CartHandler) Merge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.svc.Merge(c.Request.Context(), c.Param("userId"), req.Items)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// writeError maps service errors to status codes. Internal failures are
// logged and answered with a generic message.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, cart.ErrUserNotAuthenticated):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, cart.ErrForbidden):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, cart.ErrCartItemNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidPrice),
		errors.Is(err, cart.ErrProductIDRequired),
		errors.Is(err, cart.ErrItemIDRequired),
		errors.Is(err, cart.ErrUserIDRequired),
		errors.Is(err, cart.ErrNothingToUpdate),
		errors.Is(err, cart.ErrInvalidSnapshot),
		errors.Is(err, cart.ErrMergeTooLarge),
		errors.Is(err, cart.ErrInvalidMergeLine):
		status, msg = http.StatusBadRequest, err.Error()
	default:
		logger.FromCtx(c.Request.Context()).Error("cart request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}

	c.JSON(status, gin.H{"error": msg})
}

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"voxbill/backend/internal/dispatch"
	"voxbill/backend/internal/jobs"
	"voxbill/backend/internal/ledger"
	"voxbill/backend/internal/media"
	"voxbill/backend/internal/models"
)

type Handlers struct {
	db         *gorm.DB
	ledger     *ledger.Store
	jobs       *jobs.Store
	dispatcher *dispatch.Dispatcher
}

func New(db *gorm.DB, ls *ledger.Store, js *jobs.Store, d *dispatch.Dispatcher) *Handlers {
	return &Handlers{db: db, ledger: ls, jobs: js, dispatcher: d}
}

func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	r.POST("/users", h.createUser)
	r.GET("/users/:id", h.getUser)
	r.GET("/users/:id/balance", h.getBalance)
	r.POST("/users/:id/credit", h.creditUser)
	r.GET("/users/:id/transactions", h.listTransactions)

	r.POST("/requests", h.submitRequest)
	r.GET("/requests/:id", h.getRequest)
}

type userCreateReq struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handlers) createUser(c *gin.Context) {
	var req userCreateReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u := models.User{Email: req.Email, Balance: decimal.Zero, CreatedAt: time.Now()}
	if err := h.db.Create(&u).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handlers) getUser(c *gin.Context) {
	var u models.User
	if err := h.db.First(&u, c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handlers) getBalance(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	balance, err := h.ledger.BalanceOf(id)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

type creditReq struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (h *Handlers) creditUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	var req creditReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	balance, err := h.ledger.Credit(id, req.Amount)
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "amount must be positive"})
	case errors.Is(err, ledger.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"balance": balance})
	}
}

func (h *Handlers) listTransactions(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	txs, err := h.ledger.History(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txs})
}

type submitReq struct {
	UserID   uint   `json:"user_id" binding:"required"`
	AudioRef string `json:"audio_ref" binding:"required"`
}

func (h *Handlers) submitRequest(c *gin.Context) {
	var req submitReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	requestID, err := h.dispatcher.Submit(c.Request.Context(), req.UserID, req.AudioRef)
	switch {
	case errors.Is(err, media.ErrUnsupportedMedia):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "audio reference is not a supported media type"})
	case errors.Is(err, dispatch.ErrDispatchUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatch unavailable, retry submission"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"request_id": requestID})
	}
}

func (h *Handlers) getRequest(c *gin.Context) {
	req, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func userID(c *gin.Context) (uint, bool) {
	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return uri.ID, true
}

package delivery

import (
	"net/http"
	"strconv"

	"mailsense-backend/internal/mail/repository"
	"mailsense-backend/internal/mail/usecase"
	"mailsense-backend/pkg/gmail"

	"github.com/gin-gonic/gin"
)

// MailHandler handles the ingestion and enrichment API endpoints
type MailHandler struct {
	syncEngine       *usecase.SyncEngine
	enrichmentWorker *usecase.EnrichmentWorker
	indexer          *usecase.EmbeddingIndexer
	missedTodo       *usecase.MissedTodoWorkflow
	messageRepo      repository.MessageRepository
	enrichmentRepo   repository.EnrichmentRepository
	subscriptionRepo repository.SubscriptionRepository
	contactRepo      repository.ContactRepository
	deviceTokenRepo  repository.DeviceTokenRepository
	jobRepo          repository.EnrichmentJobRepository
}

func NewMailHandler(
	syncEngine *usecase.SyncEngine,
	enrichmentWorker *usecase.EnrichmentWorker,
	indexer *usecase.EmbeddingIndexer,
	missedTodo *usecase.MissedTodoWorkflow,
	messageRepo repository.MessageRepository,
	enrichmentRepo repository.EnrichmentRepository,
	subscriptionRepo repository.SubscriptionRepository,
	contactRepo repository.ContactRepository,
	deviceTokenRepo repository.DeviceTokenRepository,
	jobRepo repository.EnrichmentJobRepository,
) *MailHandler {
	return &MailHandler{
		syncEngine:       syncEngine,
		enrichmentWorker: enrichmentWorker,
		indexer:          indexer,
		missedTodo:       missedTodo,
		messageRepo:      messageRepo,
		enrichmentRepo:   enrichmentRepo,
		subscriptionRepo: subscriptionRepo,
		contactRepo:      contactRepo,
		deviceTokenRepo:  deviceTokenRepo,
		jobRepo:          jobRepo,
	}
}

// POST /api/accounts/:id/sync
// SyncAccount runs one incremental sync pass for the account
func (h *MailHandler) SyncAccount(c *gin.Context) {
	accountID := c.Param("id")

	result, err := h.syncEngine.SyncAccount(c.Request.Context(), accountID)
	if err != nil {
		if gmail.IsReauthRequired(err) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":              "account needs to be reconnected",
				"reconnect_required": true,
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// POST /api/messages/:id/enrich?force=true
// EnrichMessage runs the AI analysis for one message immediately
func (h *MailHandler) EnrichMessage(c *gin.Context) {
	messageID := c.Param("id")
	force := c.Query("force") == "true"

	enrichment, err := h.enrichmentWorker.EnrichMessage(c.Request.Context(), messageID, force)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, enrichment)
}

// GET /api/messages/:id
// GetMessage returns a stored message with its enrichment, if any
func (h *MailHandler) GetMessage(c *gin.Context) {
	messageID := c.Param("id")

	message, err := h.messageRepo.GetByID(messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load message"})
		return
	}
	if message == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	enrichment, err := h.enrichmentRepo.GetByMessageID(messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load enrichment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    message,
		"enrichment": enrichment,
	})
}

// GET /api/search?user_id=...&q=...&limit=10
// Search runs a semantic search over the user's enriched messages
func (h *MailHandler) Search(c *gin.Context) {
	if h.indexer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "semantic search is not configured"})
		return
	}

	userID := c.Query("user_id")
	query := c.Query("q")
	if userID == "" || query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and q are required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	results, err := h.indexer.Search(c.Request.Context(), userID, query, limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// POST /api/enrichments/backfill?limit=200
// BackfillEmbeddings indexes enrichments that still lack a vector
func (h *MailHandler) BackfillEmbeddings(c *gin.Context) {
	if h.indexer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "semantic search is not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	indexed, err := h.indexer.Backfill(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"indexed": indexed})
}

// POST /api/users/:id/workflows/missed-todo
// RunMissedTodo scans recent mail for unanswered messages
func (h *MailHandler) RunMissedTodo(c *gin.Context) {
	userID := c.Param("id")

	result, err := h.missedTodo.Run(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GET /api/users/:id/subscriptions
// GetSubscriptions lists the user's detected bulk-mail senders
func (h *MailHandler) GetSubscriptions(c *gin.Context) {
	userID := c.Param("id")

	subscriptions, err := h.subscriptionRepo.GetByUserID(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load subscriptions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subscriptions, "count": len(subscriptions)})
}

// GET /api/users/:id/contacts
// GetContacts lists the user's resolved contacts
func (h *MailHandler) GetContacts(c *gin.Context) {
	userID := c.Param("id")

	contacts, err := h.contactRepo.GetByUserID(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load contacts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"contacts": contacts, "count": len(contacts)})
}

// RegisterDeviceRequest represents the request body
type RegisterDeviceRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Token  string `json:"token" binding:"required"`
}

// POST /api/devices
// RegisterDevice stores a push token for a user
func (h *MailHandler) RegisterDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.deviceTokenRepo.Register(req.UserID, req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

// GET /api/jobs/stats
// GetJobStats reports enrichment queue depth per status
func (h *MailHandler) GetJobStats(c *gin.Context) {
	counts, err := h.jobRepo.CountByStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load queue stats"})
		return
	}

	c.JSON(http.StatusOK, counts)
}

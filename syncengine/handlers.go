package syncengine

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/mmdatafocus/ledgersync_backend/nimbus"
	"github.com/mmdatafocus/ledgersync_backend/utils"
)

type ConnectRequest struct {
	OrgId        string `json:"org_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
}

type TriggerSyncRequest struct {
	FullResync bool `json:"full_resync"`
}

type JobStatusResponse struct {
	JobType     models.SyncJobType `json:"job_type"`
	Status      string             `json:"status"`
	Cursor      string             `json:"cursor"`
	NextRunAt   *string            `json:"next_run_at"`
	LastRunAt   *string            `json:"last_run_at"`
	LastError   string             `json:"last_error,omitempty"`
	Retries     int                `json:"retries"`
	TriggeredBy string             `json:"triggered_by,omitempty"`
}

type StatusResponse struct {
	Connection        ConnectionResponse  `json:"connection"`
	LastSyncAt        *string             `json:"last_sync_at,omitempty"`
	LastSuccessSyncAt *string             `json:"last_success_sync_at,omitempty"`
	Jobs              []JobStatusResponse `json:"jobs"`
}

type ConnectionResponse struct {
	Status string `json:"status"`
	OrgId  string `json:"org_id,omitempty"`
}

type UpdateReceivableRequest struct {
	ReconciliationStatus string `json:"reconciliation_status"`
	Category             string `json:"category"`
}

func StatusHandler(store JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		conn, err := models.GetConnection(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, StatusResponse{
				Connection: ConnectionResponse{Status: models.ConnectionStatusDisconnected},
				Jobs:       []JobStatusResponse{},
			})
			return
		}

		jobs, err := store.ListJobs(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]JobStatusResponse, 0, len(jobs))
		for _, job := range jobs {
			next := job.NextRunAt
			items = append(items, JobStatusResponse{
				JobType:     job.JobType,
				Status:      job.Status,
				Cursor:      job.Cursor,
				NextRunAt:   formatTime(&next),
				LastRunAt:   formatTime(job.LastRunAt),
				LastError:   job.LastError,
				Retries:     job.RetryCount,
				TriggeredBy: job.TriggeredBy,
			})
		}

		c.JSON(http.StatusOK, StatusResponse{
			Connection: ConnectionResponse{
				Status: conn.Status,
				OrgId:  conn.UpstreamOrgId,
			},
			LastSyncAt:        formatTime(conn.LastSyncAt),
			LastSuccessSyncAt: formatTime(conn.LastSuccessSyncAt),
			Jobs:              items,
		})
	}
}

func ConnectHandler(store JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if strings.TrimSpace(req.AccessToken) == "" || strings.TrimSpace(req.RefreshToken) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "access_token and refresh_token are required"})
			return
		}

		var expiresAt *time.Time
		if strings.TrimSpace(req.ExpiresAt) != "" {
			t, err := utils.ParseUpstreamTime(req.ExpiresAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expires_at"})
				return
			}
			expiresAt = &t
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		conn, err := models.UpsertConnection(ctx, businessId, req.OrgId, req.AccessToken, req.RefreshToken, expiresAt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := store.EnqueueDefaultJobs(ctx, businessId, conn.ID, time.Now()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// A reconnect must also wake jobs parked while the tenant was
		// disconnected, not just create missing ones.
		if err := store.ForceRun(ctx, businessId, false, time.Now()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		if err := models.DisconnectConnection(ctx, businessId); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// TriggerSyncHandler makes the tenant's jobs due now. The scheduler still
// claims them through the lease, so forcing a sync can never race a run that
// is already in flight.
func TriggerSyncHandler(store JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		// Body is optional; an empty body means an incremental force run.
		var req TriggerSyncRequest
		_ = c.ShouldBindJSON(&req)

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		conn, err := models.GetConnection(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil || conn.Status != models.ConnectionStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "nimbus is not connected"})
			return
		}

		if err := store.ForceRun(ctx, businessId, req.FullResync, time.Now()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func ReceivablesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		filter := parseLedgerFilter(c)

		entries, total, err := models.ListReceivables(ctx, businessId, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		summary, err := models.GetReceivableSummary(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"items":   entries,
			"total":   total,
			"summary": summary,
		})
	}
}

func PayablesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		filter := parseLedgerFilter(c)

		entries, total, err := models.ListPayables(ctx, businessId, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": entries, "total": total})
	}
}

func BankFeedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		filter := parseLedgerFilter(c)

		entries, total, err := models.ListBankFeed(ctx, businessId, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": entries, "total": total})
	}
}

func VendorPaymentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		filter := parseLedgerFilter(c)

		entries, total, err := models.ListVendorPayments(ctx, businessId, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": entries, "total": total})
	}
}

// UpdateReceivableHandler sets the two user-owned fields on one receivable
// entry. These survive ledger rebuilds.
func UpdateReceivableHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		externalId := strings.TrimSpace(c.Param("externalId"))
		if externalId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "external id is required"})
			return
		}

		var req UpdateReceivableRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		if err := models.SetReceivableLocalFields(ctx, businessId, externalId, req.ReconciliationStatus, req.Category); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "receivable entry not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		models.InvalidateReceivableSummaryCache(businessId)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func MetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 12
		if v := strings.TrimSpace(c.Query("months")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 36 {
				limit = n
			}
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		metrics, err := models.ListMonthlyMetrics(ctx, businessId, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": metrics})
	}
}

// PushInvoiceHandler creates an invoice upstream. Each request gets a fresh
// idempotency key, so upstream deduplicates retries of the same HTTP call
// but distinct requests always create distinct invoices.
func PushInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req nimbus.InvoicePush
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if strings.TrimSpace(req.CustomerId) == "" || len(req.Lines) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "customer_id and lines are required"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		conn, err := models.GetConnection(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil || conn.Status != models.ConnectionStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "nimbus is not connected"})
			return
		}

		client := nimbus.ForConnection(conn)
		idempotencyKey := uuid.NewString()
		created, err := client.CreateInvoice(ctx, req, idempotencyKey)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, created)
	}
}

// RegisterRoutes mounts the sync and ledger surface on the router.
func RegisterRoutes(r gin.IRouter, store JobStore) {
	r.GET("/sync/status", StatusHandler(store))
	r.POST("/sync/run", TriggerSyncHandler(store))
	r.POST("/connections", ConnectHandler(store))
	r.DELETE("/connections", DisconnectHandler())

	r.GET("/ledger/receivables", ReceivablesHandler())
	r.PATCH("/ledger/receivables/:externalId", UpdateReceivableHandler())
	r.GET("/ledger/payables", PayablesHandler())
	r.GET("/ledger/bank", BankFeedHandler())
	r.GET("/ledger/vendor-payments", VendorPaymentsHandler())

	r.GET("/metrics/dso", MetricsHandler())

	r.POST("/invoices", PushInvoiceHandler())
}

func resolveBusinessID(c *gin.Context) (string, error) {
	businessId := strings.TrimSpace(c.GetHeader("X-Business-Id"))
	if businessId == "" {
		return "", errors.New("unauthorized")
	}
	return businessId, nil
}

func parseLedgerFilter(c *gin.Context) models.LedgerFilter {
	filter := models.LedgerFilter{
		Status: strings.TrimSpace(c.Query("status")),
		Search: strings.TrimSpace(c.Query("search")),
	}
	if v := strings.TrimSpace(c.Query("from")); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.FromDate = &t
		}
	}
	if v := strings.TrimSpace(c.Query("to")); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.ToDate = &t
		}
	}
	if n, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = n
	}
	if n, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.Limit = n
	}
	return filter
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/breaker"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/breakerstore"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/config"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/eventbus"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/manager"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/mask"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/notify"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/telemetry"
	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/pkg/sip2"
)

func initLogger() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
}

// AbortWithError classifies err against the core sentinel errors and
// maps it to the HTTP status the error handling design assigns it,
// logging the request path, branch id, status, and error before
// responding. The logged error is not masked.
func AbortWithError(c *gin.Context, branchID string, err error) {
	status, message := classifyError(err)

	slog.Error("api error",
		"path", c.Request.URL.Path,
		"branchId", branchID,
		"status", status,
		"error", err,
	)

	c.AbortWithStatusJSON(status, gin.H{
		"status": "error",
		"error":  message,
		"code":   status,
	})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, manager.ErrUnknownBranch):
		return http.StatusNotFound, "unknown branch"
	case errors.Is(err, breaker.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "circuit open"
	case errors.Is(err, breaker.ErrProbeInFlight):
		return http.StatusServiceUnavailable, "probe in flight"
	case errors.Is(err, sip2.ErrConnectTimeout), errors.Is(err, sip2.ErrRequestTimeout):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, sip2.ErrChecksumMismatch), errors.Is(err, sip2.ErrMalformedTrailer):
		return http.StatusBadGateway, "checksum mismatch"
	case errors.Is(err, sip2.ErrUnexpectedResponseCode):
		return http.StatusBadGateway, "unexpected response from LMS"
	case errors.Is(err, manager.ErrLoginRejected):
		return http.StatusBadGateway, "login rejected"
	case errors.Is(err, sip2.ErrSequenceInUse), errors.Is(err, sip2.ErrClientAtCapacity):
		return http.StatusBadGateway, "client at capacity"
	case errors.Is(err, mask.ErrMasterKeyMissing):
		return http.StatusInternalServerError, "masking key not configured"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func setupRouter(mgr *manager.Manager, store breakerstore.Store) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("sip2-bridge"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "time": time.Now()})
	})

	branches := r.Group("/api/branches/:branchId")
	registerRoutes(branches, mgr, store)

	return r
}

func registerRoutes(g *gin.RouterGroup, mgr *manager.Manager, store breakerstore.Store) {
	g.GET("/patron-status", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var req struct {
			PatronID   string `form:"patronId" binding:"required"`
			PatronPass string `form:"patronPass"`
			Language   string `form:"language"`
		}
		if err := c.ShouldBindQuery(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.PatronStatus(branchID, sip2.PatronStatusParams{
			InstitutionID: branch.InstitutionID,
			PatronID:      req.PatronID,
			PatronPass:    req.PatronPass,
			Language:      req.Language,
		})
		respond(c, branchID, record, err)
	})

	g.POST("/checkout", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var body struct {
			PatronID   string `json:"patronId" binding:"required"`
			ItemID     string `json:"itemId" binding:"required"`
			PatronPass string `json:"patronPass"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.Checkout(branchID, sip2.CheckoutParams{
			InstitutionID: branch.InstitutionID,
			PatronID:      body.PatronID,
			ItemID:        body.ItemID,
			PatronPass:    body.PatronPass,
		})
		respond(c, branchID, record, err)
	})

	g.POST("/checkin", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var body struct {
			ItemID string `json:"itemId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.Checkin(branchID, sip2.CheckinParams{
			InstitutionID: branch.InstitutionID,
			ItemID:        body.ItemID,
		})
		respond(c, branchID, record, err)
	})

	g.GET("/items/:barcode", func(c *gin.Context) {
		branchID := c.Param("branchId")
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.ItemInfo(branchID, sip2.ItemInfoParams{
			InstitutionID: branch.InstitutionID,
			ItemID:        c.Param("barcode"),
		})
		respond(c, branchID, record, err)
	})

	g.POST("/renew", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var body struct {
			PatronID   string `json:"patronId" binding:"required"`
			ItemID     string `json:"itemId" binding:"required"`
			PatronPass string `json:"patronPass"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.Renew(branchID, sip2.RenewParams{
			InstitutionID: branch.InstitutionID,
			PatronID:      body.PatronID,
			ItemID:        body.ItemID,
			PatronPass:    body.PatronPass,
		})
		respond(c, branchID, record, err)
	})

	g.POST("/fees", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var body struct {
			PatronID      string `json:"patronId" binding:"required"`
			FeeAmount     string `json:"feeAmount" binding:"required"`
			FeeIdentifier string `json:"feeIdentifier"`
			FeeType       string `json:"feeType"`
			PaymentType   string `json:"paymentType"`
			Currency      string `json:"currency"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.FeePaid(branchID, sip2.FeePaidParams{
			InstitutionID: branch.InstitutionID,
			PatronID:      body.PatronID,
			FeeAmount:     body.FeeAmount,
			FeeIdentifier: body.FeeIdentifier,
			FeeType:       body.FeeType,
			PaymentType:   body.PaymentType,
			Currency:      body.Currency,
		})
		respond(c, branchID, record, err)
	})

	g.GET("/patrons/:barcode", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var req struct {
			Summary   string `form:"summary"`
			StartItem string `form:"startItem"`
			EndItem   string `form:"endItem"`
			Language  string `form:"language"`
		}
		if err := c.ShouldBindQuery(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.PatronInfo(branchID, sip2.PatronInfoParams{
			InstitutionID: branch.InstitutionID,
			PatronID:      c.Param("barcode"),
			Summary:       req.Summary,
			StartItem:     req.StartItem,
			EndItem:       req.EndItem,
			Language:      req.Language,
		})
		respond(c, branchID, record, err)
	})

	g.POST("/holds", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var body struct {
			PatronID       string `json:"patronId" binding:"required"`
			ItemID         string `json:"itemId"`
			HoldMode       string `json:"holdMode" binding:"required"`
			ExpirationAt   string `json:"expirationAt"`
			TitleID        string `json:"titleId"`
			PickupLocation string `json:"pickupLocation"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.Hold(branchID, sip2.HoldParams{
			InstitutionID:  branch.InstitutionID,
			PatronID:       body.PatronID,
			ItemID:         body.ItemID,
			HoldMode:       body.HoldMode,
			ExpiryDate:     body.ExpirationAt,
			TitleID:        body.TitleID,
			PickupLocation: body.PickupLocation,
		})
		respond(c, branchID, record, err)
	})

	g.POST("/renew-all", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var body struct {
			PatronID string `json:"patronId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.RenewAll(branchID, sip2.RenewAllParams{
			InstitutionID: branch.InstitutionID,
			PatronID:      body.PatronID,
		})
		respond(c, branchID, record, err)
	})

	g.POST("/end-session", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var body struct {
			PatronID string `json:"patronId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.EndSession(branchID, sip2.EndSessionParams{
			InstitutionID: branch.InstitutionID,
			PatronID:      body.PatronID,
		})
		respond(c, branchID, record, err)
	})

	g.GET("/status", func(c *gin.Context) {
		branchID := c.Param("branchId")
		if _, ok := lookupBranch(c, branchID, mgr); !ok {
			return
		}
		record, err := mgr.SCStatus(branchID, 0, 80, "2.00")
		respond(c, branchID, record, err)
	})

	g.POST("/block-patron", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var body struct {
			PatronID      string `json:"patronId" binding:"required"`
			BlockedReason string `json:"blockedReason"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		err := mgr.BlockPatron(branchID, sip2.BlockPatronParams{
			InstitutionID: branch.InstitutionID,
			PatronID:      body.PatronID,
			BlockedReason: body.BlockedReason,
		})
		if err != nil {
			AbortWithError(c, branchID, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	})

	g.POST("/items/:barcode/status", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var body struct {
			SecurityMarker string `json:"securityMarker"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.ItemStatusUpdate(branchID, sip2.ItemStatusUpdateParams{
			InstitutionID:  branch.InstitutionID,
			ItemID:         c.Param("barcode"),
			SecurityMarker: body.SecurityMarker,
		})
		respond(c, branchID, record, err)
	})

	g.POST("/patron-enable", func(c *gin.Context) {
		branchID := c.Param("branchId")
		var body struct {
			PatronID  string `json:"patronId" binding:"required"`
			PatronPin string `json:"patronPin"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		branch, ok := lookupBranch(c, branchID, mgr)
		if !ok {
			return
		}
		record, err := mgr.PatronEnable(branchID, sip2.PatronEnableParams{
			InstitutionID: branch.InstitutionID,
			PatronID:      body.PatronID,
			PatronPass:    body.PatronPin,
		})
		respond(c, branchID, record, err)
	})
}

// branchLookup is the minimal view of branch config the HTTP layer
// needs to fill in AO (institution id) on outbound requests.
type branchLookup struct {
	InstitutionID string
}

func lookupBranch(c *gin.Context, branchID string, mgr *manager.Manager) (branchLookup, bool) {
	institutionID, ok := mgr.BranchInstitutionID(branchID)
	if !ok {
		AbortWithError(c, branchID, manager.ErrUnknownBranch)
		return branchLookup{}, false
	}
	return branchLookup{InstitutionID: institutionID}, true
}

func respond(c *gin.Context, branchID string, record any, err error) {
	if err != nil {
		AbortWithError(c, branchID, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func main() {
	initLogger()

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "sip2-bridge")
	if err != nil {
		slog.Warn("failed to init tracer", "error", err)
	} else {
		defer shutdownTracer(context.Background())
	}

	configPath := os.Getenv("SIP2_BRIDGE_CONFIG")
	if configPath == "" {
		configPath = "branches.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load branch configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	store, err := breakerstore.NewFromEnv()
	if err != nil {
		slog.Error("failed to initialize breaker history store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	masker := mask.New(cfg.MasterKey())
	notifier := notify.NewFromEnv(slog.Default())
	bus := eventbus.New(masker, slog.Default())
	bus.SubscribeDashboard(func(e eventbus.DashboardEvent) {
		slog.Default().Log(context.Background(), dashboardLevel(e.Level), e.Message, "details", e.Details)
	})

	mgr := manager.New(cfg, masker, bus, store, notifier, slog.Default())
	defer mgr.Shutdown()

	router := setupRouter(mgr, store)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8899"
	}
	httpSrv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		slog.Info("sip2 bridge starting", "addr", ":"+port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down sip2 bridge...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("gateway forced to shutdown", "error", err)
	}

	slog.Info("sip2 bridge exiting")
}

func dashboardLevel(level string) slog.Level {
	switch level {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

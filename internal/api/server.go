// Package api exposes the bridge manager and history store over
// HTTP/JSON: a thin adapter, not a second source of truth. Every
// handler either reads from the manager/history store or forwards a
// mutation to them; none hold state of their own beyond the session
// table.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/api/handler"
	"pdu-bridge/internal/config"
	"pdu-bridge/internal/history"
	"pdu-bridge/internal/logging"
	"pdu-bridge/internal/manager"
)

// Server is the bridge's HTTP/JSON facade over gin.
type Server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer wires every handler against the shared BridgeManager and
// history store and registers all routes.
func NewServer(cfg *config.Config, mgr *manager.BridgeManager, hist *history.Store, log logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggerMiddleware(log))

	sessions := newSessionStore()
	router.Use(authMiddleware(cfg.Auth.WebPassword, sessions))

	s := &Server{cfg: cfg, router: router}
	s.setupRoutes(mgr, hist, sessions, log)
	return s
}

func (s *Server) setupRoutes(mgr *manager.BridgeManager, hist *history.Store, sessions *sessionStore, log logging.Logger) {
	healthHandler := handler.NewHealthHandler(mgr)
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/ready", healthHandler.Ready)

	authH := &authHandler{webPassword: s.cfg.Auth.WebPassword, sessions: sessions}

	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/health", healthHandler.Health)

		statusHandler := handler.NewStatusHandler(mgr)
		apiGroup.GET("/status", statusHandler.Status)

		auth := apiGroup.Group("/auth")
		{
			auth.POST("/login", authH.Login)
			auth.POST("/logout", authH.Logout)
			auth.GET("/status", authH.Status)
		}

		configHandler := handler.NewConfigHandler(mgr)
		cfgGroup := apiGroup.Group("/config")
		{
			cfgGroup.GET("", configHandler.Get)
			cfgGroup.PUT("", configHandler.Update)
		}

		deviceHandler := handler.NewDeviceHandler(mgr)
		pdus := apiGroup.Group("/pdus")
		{
			pdus.GET("", deviceHandler.List)
			pdus.POST("", deviceHandler.Create)
			pdus.PUT("/:id", deviceHandler.Update)
			pdus.DELETE("/:id", deviceHandler.Delete)
			pdus.POST("/discover", deviceHandler.Discover)
		}

		outletHandler := handler.NewOutletHandler(mgr)
		outlets := apiGroup.Group("/outlets")
		{
			outlets.POST("/:n/command", outletHandler.Command)
			outlets.PUT("/:n/name", outletHandler.SetName)
		}
		apiGroup.GET("/outlet-names", outletHandler.Names)

		ruleHandler := handler.NewRuleHandler(mgr)
		rules := apiGroup.Group("/rules")
		{
			rules.GET("", ruleHandler.List)
			rules.POST("", ruleHandler.Create)
			rules.PUT("/:name", ruleHandler.Update)
			rules.DELETE("/:name", ruleHandler.Delete)
			rules.PUT("/:name/toggle", ruleHandler.Toggle)
			rules.GET("/export", ruleHandler.Export)
			rules.POST("/import", ruleHandler.Import)
		}
		apiGroup.GET("/events", ruleHandler.Events)

		historyHandler := handler.NewHistoryHandler(mgr, hist)
		historyGroup := apiGroup.Group("/history")
		{
			historyGroup.GET("/banks", historyHandler.Banks)
			historyGroup.GET("/banks.csv", historyHandler.BanksCSV)
			historyGroup.GET("/outlets", historyHandler.Outlets)
			historyGroup.GET("/outlets.csv", historyHandler.OutletsCSV)
		}

		reportHandler := handler.NewReportHandler(mgr, hist)
		reports := apiGroup.Group("/reports")
		{
			reports.GET("", reportHandler.List)
			reports.GET("/latest", reportHandler.Latest)
			reports.GET("/:id", reportHandler.ByID)
		}

		mgmtHandler := handler.NewManagementHandler(mgr)
		management := apiGroup.Group("/management")
		{
			management.GET("/thresholds", mgmtHandler.Thresholds)
			management.PUT("/thresholds", mgmtHandler.SetThresholds)
			management.GET("/network", mgmtHandler.Network)
			management.PUT("/network", mgmtHandler.SetNetwork)
			management.GET("/ats", mgmtHandler.ATSConfig)
			management.PUT("/ats", mgmtHandler.SetATSConfig)
			management.PUT("/outlets/:n/config", mgmtHandler.SetOutletConfig)
			management.PUT("/device", mgmtHandler.SetDeviceSettings)
			management.GET("/security", mgmtHandler.SecurityCheck)
			management.POST("/security/password", mgmtHandler.ChangePassword)
			management.GET("/users", mgmtHandler.Users)
			management.GET("/event-log", mgmtHandler.EventLog)
			management.GET("/notifications", mgmtHandler.Notifications)
			management.PUT("/notifications", mgmtHandler.SetNotifications)
			management.GET("/energywise", mgmtHandler.EnergyWise)
			management.PUT("/energywise", mgmtHandler.SetEnergyWise)
		}

		wsHandler := handler.NewWebSocketHandler(mgr, log)
		apiGroup.GET("/ws", wsHandler.HandleWebSocket)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not found"})
	})
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops accepting new connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	alertdomain "github.com/smallbiznis/railzway-alerts/internal/alert/domain"
	"github.com/smallbiznis/railzway-alerts/internal/config"
	"github.com/smallbiznis/railzway-alerts/internal/observability"
	obsmiddleware "github.com/smallbiznis/railzway-alerts/internal/observability/logger"
	obstracing "github.com/smallbiznis/railzway-alerts/internal/observability/tracing"
	usagedomain "github.com/smallbiznis/railzway-alerts/internal/usage/domain"
	walletdomain "github.com/smallbiznis/railzway-alerts/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(debug bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           debug,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg.Debug())
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	alertSvc    alertdomain.Service
	activitySvc activitydomain.Service
	usageSvc    usagedomain.Service
	walletSvc   walletdomain.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	AlertSvc    alertdomain.Service
	ActivitySvc activitydomain.Service
	UsageSvc    usagedomain.Service
	WalletSvc   walletdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		alertSvc:    p.AlertSvc,
		activitySvc: p.ActivitySvc,
		usageSvc:    p.UsageSvc,
		walletSvc:   p.WalletSvc,
	}

	svc.registerHealthRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/healthz", s.Health)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", OrgContext())

	api.POST("/alerts", s.CreateAlert)
	api.POST("/alerts/batch", s.CreateAlertBatch)
	api.GET("/alerts/:id/triggered", s.ListTriggeredAlerts)

	api.GET("/subscriptions/:id/alerts", s.ListSubscriptionAlerts)
	api.GET("/subscriptions/:id/alerts/:code", s.GetSubscriptionAlert)
	api.DELETE("/subscriptions/:id/alerts", s.DestroySubscriptionAlerts)
	api.PUT("/subscriptions/:id/usage", s.ApplyUsage)

	api.GET("/wallets/:id/alerts", s.ListWalletAlerts)
	api.PUT("/wallets/:id/balance", s.UpdateWalletBalance)

	api.POST("/activity/subscriptions/:id", s.RecordSubscriptionActivity)
	api.POST("/activity/wallets/:id", s.RecordWalletActivity)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

// Health reports liveness plus whether the database answers.
func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paydesk/internal/auth"
	authdomain "github.com/smallbiznis/paydesk/internal/auth/domain"
	"github.com/smallbiznis/paydesk/internal/auth/session"
	"github.com/smallbiznis/paydesk/internal/authorization"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/observability"
	obsmiddleware "github.com/smallbiznis/paydesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paydesk/internal/observability/tracing"
	"github.com/smallbiznis/paydesk/internal/payment"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	"github.com/smallbiznis/paydesk/internal/providers/pdf"
	"github.com/smallbiznis/paydesk/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	authorization.Module,
	auth.Module,
	ratelimit.Module,
	payment.Module,
	pdf.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())
	r.SetHTMLTemplate(mustLoadTemplates())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

// RunHTTP serves the engine for the life of the app.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	authsvc         authdomain.Service
	sessions        *session.Manager
	authzSvc        authorization.Service
	paymentSvc      paymentdomain.Service
	webhookSvc      paymentdomain.WebhookService
	receipts        pdf.Provider
	catalog         *config.CheckoutCatalogHolder
	checkoutLimiter *ratelimit.CheckoutLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Authsvc         authdomain.Service
	Sessions        *session.Manager
	AuthzSvc        authorization.Service
	PaymentSvc      paymentdomain.Service
	WebhookSvc      paymentdomain.WebhookService
	Receipts        pdf.Provider
	Catalog         *config.CheckoutCatalogHolder
	CheckoutLimiter *ratelimit.CheckoutLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authsvc:         p.Authsvc,
		sessions:        p.Sessions,
		authzSvc:        p.AuthzSvc,
		paymentSvc:      p.PaymentSvc,
		webhookSvc:      p.WebhookSvc,
		receipts:        p.Receipts,
		catalog:         p.Catalog,
		checkoutLimiter: p.CheckoutLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAuthRoutes()
	svc.registerPaymentRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	s.engine.GET("/", s.Home)
	s.engine.GET("/register/", s.RegisterPage)
	s.engine.POST("/register/", s.Register)
	s.engine.GET("/login/", s.LoginPage)
	s.engine.POST("/login/", s.Login)
	s.engine.GET("/logout/", s.Logout)
	s.engine.POST("/logout/", s.Logout)
}

func (s *Server) registerPaymentRoutes() {
	payments := s.engine.Group("/payments")

	payments.GET("/dashboard/", s.LoginRequired(), s.Dashboard)
	payments.POST("/create-checkout-session/",
		s.LoginRequired(),
		s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentCreate),
		s.CheckoutRateLimit(),
		s.CreateCheckoutSession,
	)
	payments.GET("/success/", s.PaymentSuccess)
	payments.GET("/cancel/", s.PaymentCancel)
	payments.GET("/verify/", s.LoginRequired(), s.VerifyPayment)
	payments.GET("/receipt/",
		s.LoginRequired(),
		s.authorizeAction(authorization.ObjectReceipt, authorization.ActionReceiptDownload),
		s.DownloadReceipt,
	)

	// Signed by the processor, no session.
	payments.POST("/webhook/", s.HandlePaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.LoginRequired())

	admin.GET("/payments/", s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentList), s.ListPayments)
	admin.GET("/payments/:id", s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPayment)
}

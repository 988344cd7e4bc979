package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/taxline/internal/config"
	"github.com/smallbiznis/taxline/internal/observability"
	obsmiddleware "github.com/smallbiznis/taxline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/taxline/internal/observability/metrics"
	obstracing "github.com/smallbiznis/taxline/internal/observability/tracing"
	"github.com/smallbiznis/taxline/internal/tax"
	taxdomain "github.com/smallbiznis/taxline/internal/tax/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	tax.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
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

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine  *gin.Engine
	cfg     config.Config
	db      *gorm.DB
	genID   *snowflake.Node
	taxSvc  taxdomain.Service
	taxCalc taxdomain.Calculator
}

type ServerParams struct {
	fx.In

	Gin     *gin.Engine
	Cfg     config.Config
	DB      *gorm.DB
	GenID   *snowflake.Node
	TaxSvc  taxdomain.Service
	TaxCalc taxdomain.Calculator
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:  p.Gin,
		cfg:     p.Cfg,
		db:      p.DB,
		genID:   p.GenID,
		taxSvc:  p.TaxSvc,
		taxCalc: p.TaxCalc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.OrgContext())

	// -------- Tax Definitions --------
	v1.GET("/taxes", s.ListTaxDefinitions)
	v1.POST("/taxes", s.CreateTaxDefinition)
	v1.GET("/taxes/:id", s.GetTaxDefinition)
	v1.PATCH("/taxes/:id", s.UpdateTaxDefinition)
	v1.POST("/taxes/:id/disable", s.DisableTaxDefinition)

	// -------- Computation --------
	v1.POST("/taxes/compute", s.ComputeTaxes)
	v1.POST("/taxes/totals", s.ComputeTaxTotals)

	// -------- Tax Groups --------
	v1.GET("/tax_groups", s.ListTaxGroups)
	v1.POST("/tax_groups", s.CreateTaxGroup)
}

package health

import (
	"context"
	"net/http"

	"promopay-engine/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("health",
	fx.Provide(ProvideHealth),
	fx.Invoke(RunServer),
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

// StatusReporter lets services contribute their own readiness verdict.
type StatusReporter interface {
	CheckHealth(ctx context.Context) error
}

type Service struct {
	db        *gorm.DB
	redis     *redis.Client
	reporters map[string]StatusReporter
}

type Params struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p Params) *Service {
	return &Service{
		db:        p.DB,
		redis:     p.Redis,
		reporters: make(map[string]StatusReporter),
	}
}

// Register adds a named reporter to the readiness probe.
func (h *Service) Register(name string, r StatusReporter) {
	h.reporters[name] = r
}

func (h *Service) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{Status: "healthy", Message: "OK"})
}

func (h *Service) Readiness(c *gin.Context) {
	this := &Health{Status: "healthy", Message: "OK"}
	deps := make([]Dependency, 0)

	if h.db != nil {
		dep := Dependency{Name: "database", Status: "healthy", Message: "OK"}
		if sqlDB, err := h.db.DB(); err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
		} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
		}
		deps = append(deps, dep)
	}

	if h.redis != nil {
		dep := Dependency{Name: "redis", Status: "healthy", Message: "OK"}
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
		}
		deps = append(deps, dep)
	}

	for name, reporter := range h.reporters {
		dep := Dependency{Name: name, Status: "healthy", Message: "OK"}
		if err := reporter.CheckHealth(c.Request.Context()); err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
		}
		deps = append(deps, dep)
	}

	status := http.StatusOK
	for _, dep := range deps {
		if dep.Status != "healthy" {
			this.Status = "unhealthy"
			this.Message = "one or more dependencies failed"
			status = http.StatusServiceUnavailable
			break
		}
	}

	this.Deps = deps
	c.JSON(status, this)
}

func RunServer(lc fx.Lifecycle, cfg *config.Config, svc *Service) {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", svc.Liveness)
	router.GET("/readyz", svc.Readiness)

	server := &http.Server{Addr: cfg.Health.Addr, Handler: router}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					zap.L().Error("[Health] server stopped", zap.Error(err))
				}
			}()
			zap.L().Info("[Health] server listening", zap.String("addr", cfg.Health.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

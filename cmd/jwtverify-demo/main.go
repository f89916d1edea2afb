// Command jwtverify-demo serves a protected /me endpoint behind the bearer
// token middleware, configured from the environment.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	authgin "github.com/PaulFidika/jwtverify/adapters/gin"
	"github.com/PaulFidika/jwtverify/config"
	core "github.com/PaulFidika/jwtverify/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	cfg, err := env.Core()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	opts, closeRedis, err := env.Options(ctx)
	if err != nil {
		log.WithError(err).Fatal("connect redis")
	}
	defer closeRedis()

	svc, err := core.NewService(cfg, append(opts, core.WithLogger(log))...)
	if err != nil {
		log.WithError(err).Fatal("create verifier")
	}
	defer svc.Close()
	if err := svc.StartRefresher(); err != nil {
		log.WithError(err).Fatal("start jwks refresher")
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/me", authgin.AuthRequired(svc), func(c *gin.Context) {
		cl, _ := authgin.ClaimsFromGin(c)
		c.JSON(http.StatusOK, cl)
	})
	r.GET("/whoami", authgin.AuthOptional(svc), func(c *gin.Context) {
		u, _ := authgin.CurrentUser(c)
		c.JSON(http.StatusOK, u)
	})

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("server stopped")
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-ID", reqID)
		c.Next()
		log.WithFields(logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"duration":   time.Since(start),
		}).Info("request")
	}
}

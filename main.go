package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"GateProject/global"
	"GateProject/logger"
	"GateProject/middleware"
	"GateProject/service/backend"
	"GateProject/service/fanout"
	"GateProject/service/gateway"
	"GateProject/service/storage"
	storageredis "GateProject/service/storage/redis"
	"GateProject/tools/ids"
)

var configPath = flag.String("config", "", "path to gateway config yaml")

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := global.Load(*configPath)
	if err != nil {
		glog.Errorf("load config: %v", err)
		os.Exit(1)
	}
	ids.SetNodeID(cfg.NodeID)

	reg := backend.NewRegistry()
	backend.RegisterIdentityResolver(reg, []byte(cfg.Auth.Secret))

	verifier := gateway.NewIdentityVerifier(reg)
	relay := gateway.NewRelay(reg, cfg.Denylist)

	var presence storage.Presence
	if cfg.Mode == "cluster" {
		if err := storageredis.InitRedis(storageredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}); err != nil {
			glog.Errorf("redis init: %v", err)
			os.Exit(1)
		}
		presence = storage.NewRedisPresence(cfg.GatewayID, cfg.PresenceTTL)
	} else {
		presence = storage.NewMemoryPresence(cfg.GatewayID, cfg.PresenceTTL)
	}

	srv := gateway.NewServer(cfg, verifier, relay, presence)

	var adapter fanout.Adapter
	if cfg.Mode == "cluster" {
		adapter, err = fanout.NewClusterAdapter(fanout.ClusterConfig{
			GatewayID: cfg.GatewayID,
			Servers:   cfg.Nats.Servers,
			Name:      cfg.Nats.Name,
			ConnTTL:   cfg.PresenceTTL,
		}, srv)
		if err != nil {
			glog.Errorf("cluster adapter: %v", err)
			os.Exit(1)
		}
	} else {
		adapter = fanout.NewLocalAdapter(srv)
	}
	srv.UseAdapter(adapter)
	gateway.RegisterGatewayActions(reg, srv)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.Origin())
	srv.Routes(engine)

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: engine}
	go func() {
		logger.Infof("[main] gateway %s listening on %s mode=%s", cfg.GatewayID, cfg.Addr, cfg.Mode)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("listen: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("[main] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	if err := srv.Close(ctx); err != nil {
		logger.Warnf("[main] close: %v", err)
	}
}

package main

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"TalentLink/global"
	"TalentLink/logger"
	mid "TalentLink/middleware"
	"TalentLink/module/inbox/service"
	"TalentLink/module/inbox/store"
	"TalentLink/service/feed/gateway"
	"TalentLink/service/storage"
)

func main() {
	global.ConfigAll()

	bus, err := global.ConfigNats()
	if err != nil {
		logger.Errorf("boot nats: %v", err)
		os.Exit(1)
	}
	defer func() { _ = bus.Close() }()

	jwtOpts := global.GetJwtOptions()
	sessions := storage.NewSessionStore(storage.SessionConfig{TTL: jwtOpts.TTL})
	st := store.NewStore(bus)

	api := service.NewAPI(st, sessions, jwtOpts, nil)
	gw := gateway.NewServer(sessions, jwtOpts, st, bus)
	if err := gw.Start(); err != nil {
		logger.Errorf("boot gateway: %v", err)
		os.Exit(1)
	}

	r := gin.Default()
	r.Use(mid.Origin())
	api.Register(r)
	r.GET("/conversations/feed", gw.HandleWS)

	addr := os.Getenv("TL_LISTEN")
	if addr == "" {
		addr = ":8080"
	}
	logger.Infof("conversations service listening on %s (boot %s)", addr, time.Now().Format(time.RFC3339))
	if err := r.Run(addr); err != nil {
		logger.Errorf("server exited: %v", err)
	}
	logger.Sync()
}

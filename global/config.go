package global

import (
	"context"
	"os"
	"time"

	"github.com/golang/glog"

	mongoutil "TalentLink/data/database/mgo/mongoutil"
	mgoSrv "TalentLink/service/mgo"
	"TalentLink/service/natsx"
	redis "TalentLink/service/storage/redis"
	ids "TalentLink/tools/ids"
	"TalentLink/tools/security"
)

func ConfigAll() {
	ConfigIds()
	ConfigRedis()
	ConfigMgo()
}

func ConfigIds() {
	ids.SetNodeID(100)
}

// GetJwtSecret feed 凭证签名密钥。生产从 ENV/KMS 取。
func GetJwtSecret() []byte {
	if s := os.Getenv("TL_JWT_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte("mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o=")
}

func GetJwtOptions() security.Options {
	return security.DefaultOptions(GetJwtSecret())
}

func ConfigRedis() {
	config := redis.Config{
		Addr: envOr("TL_REDIS_ADDR", "127.0.0.1:6379"), Password: os.Getenv("TL_REDIS_PASSWORD"), DB: 0,
	}
	err := redis.InitRedis(config)
	if err != nil {
		return
	}
}

func ConfigMgo() {

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cfg := &mongoutil.Config{
			Uri:         envOr("TL_MONGO_URI", "mongodb://localhost:27017"),
			Database:    envOr("TL_MONGO_DB", "talentlink"),
			MaxPoolSize: 20,
			Username:    os.Getenv("TL_MONGO_USER"),
			Password:    os.Getenv("TL_MONGO_PASSWORD"),
			MaxRetry:    3, // 这里不用了，StartAsync 里我们自己做了指数退避
		}

		// 1) 异步启动
		mgoSrv.StartAsync(ctx, cfg)
		err := mgoSrv.WaitReady(ctx, mgoSrv.Manager())
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
		}
	}()

}

// ConfigNats 建 feed 总线连接并注册默认路由。
func ConfigNats() (*natsx.NatsManager, error) {
	cfg := natsx.NatsxConfig{
		Servers:       []string{envOr("TL_NATS_URL", "nats://127.0.0.1:4222")},
		Name:          "talentlink-feed",
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
	bus, err := natsx.NewNatsManager(cfg)
	if err != nil {
		glog.Infof("[Nats][ERR] connect: %v", err)
		return nil, err
	}
	if err := bus.RegisterFeedRoutes(); err != nil {
		_ = bus.Close()
		return nil, err
	}
	return bus, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatcore/config"
	"chatcore/internal/admin"
	"chatcore/internal/cache"
	"chatcore/internal/registry"
	"chatcore/internal/repository"
	"chatcore/internal/server"
	"chatcore/internal/service"
	dbPkg "chatcore/pkg/db"
	"chatcore/pkg/jwt"
	"chatcore/pkg/logger"
	"chatcore/pkg/password"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== chatcore 启动 ===")
	log.Info("服务器配置信息",
		zap.String("chat_host", cfg.Server.Host),
		zap.Int("chat_port", cfg.Server.Port),
		zap.String("database_host", cfg.DB.Host),
		zap.Int("database_port", cfg.DB.Port),
		zap.String("database_name", cfg.DB.Database),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	sqlDB, err := dbPkg.InitDB(cfg.DB)
	if err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 应用嵌入式 schema（db.init_mode=schema 时）
	if err := dbPkg.Migrate(cfg.DB); err != nil {
		log.Fatal("数据库 schema 初始化失败", zap.Error(err))
	}
	log.Info("数据库 schema 就绪")

	// 3.2 初始化 Redis 历史缓存 + 广播中继（可选，cfg.Redis.Enabled=false 时为 nil）
	redisCache, err := cache.New(cfg.Redis)
	if err != nil {
		log.Fatal("Redis 连接失败", zap.Error(err))
	}
	if redisCache != nil {
		defer redisCache.Close()
		log.Info("Redis 历史缓存 / 广播中继已启用")
	}

	// 4. 构建仓储、领域服务、客户端注册表
	users := repository.NewUserRepository(sqlDB)
	chatRooms := repository.NewChatRoomRepository(sqlDB)
	directs := repository.NewDirectChatRepository(sqlDB, chatRooms)
	messages := repository.NewMessageRepository(sqlDB)

	hasher := password.NewHasher(cfg.Auth.HashIterations, cfg.Auth.LegacyHashSupport)
	authSvc := service.NewAuthService(users, hasher)

	var historyCache service.HistoryCache
	if redisCache != nil {
		historyCache = redisCache
	}
	chatSvc := service.NewChatService(users, chatRooms, directs, messages, historyCache)

	var relay registry.Relay
	if redisCache != nil {
		relay = redisCache
	}
	reg := registry.New(relay)

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	if redisCache != nil {
		go redisCache.Subscribe(relayCtx, reg)
	}

	// 5. 启动 C7 聊天 TCP 接受循环
	acceptor, err := server.NewAcceptor(cfg.Server, authSvc, chatSvc, reg)
	if err != nil {
		log.Fatal("TCP 监听启动失败", zap.Error(err))
	}
	acceptCtx, cancelAccept := context.WithCancel(context.Background())
	defer cancelAccept()
	go func() {
		if err := acceptor.Serve(acceptCtx); err != nil {
			log.Error("聊天 TCP 服务异常退出", zap.Error(err))
		}
	}()

	// 6. 启动 C9 管理端 HTTP 面板
	jwtSvc := jwt.NewJWTService(cfg.Admin)
	router := admin.NewRouter(cfg, jwtSvc, hasher, chatSvc, reg)
	adminServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
		Handler: router,
	}
	go func() {
		log.Info("管理端 HTTP 服务启动", zap.String("addr", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("管理端 HTTP 服务启动失败", zap.Error(err))
		}
	}()

	// 7. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	cancelAccept()
	cancelRelay()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(ctx); err != nil {
		log.Error("管理端 HTTP 服务关闭失败", zap.Error(err))
	}

	log.Info("服务器已安全关闭")
}

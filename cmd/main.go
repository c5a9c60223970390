package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"support-app/session-service/internal/config"
	"support-app/session-service/internal/events"
	"support-app/session-service/internal/handler"
	"support-app/session-service/internal/repository"
	"support-app/session-service/internal/repository/memory"
	"support-app/session-service/internal/services"
	"support-app/session-service/internal/utils"
	"support-app/session-service/internal/utils/auth"
	"support-app/session-service/internal/utils/push"
)

// stores is the persistence surface the services need, backed by either
// MongoDB or the in-memory store.
type stores struct {
	tx            services.Transactor
	requests      services.RequestRepository
	rooms         services.RoomRepository
	messages      services.MessageRepository
	users         services.UserStateRepository
	bans          services.BanRepository
	admins        services.AdminRepository
	notifications services.NotificationRepository
	pushTokens    services.PushTokenRepository
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log, err := utils.NewLogger(cfg.LogMode)
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer log.Sync()

	// 1. Базовый контекст + менеджер завершения
	ctx, shutdownManager := utils.NewShutdownManager(context.Background(), log)
	shutdownManager.StartListening()

	// 2. Хранилище
	st := openStores(ctx, cfg, shutdownManager, log)

	// 3. Redis: шина событий и кэш аудитории админов
	var rdb *redis.Client
	if cfg.Storage.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			log.Fatal("Invalid Redis URL", "error", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to ping Redis", "error", err)
		}
		shutdownManager.Register(func(ctx context.Context) error {
			log.Info("[SHUTDOWN] Closing Redis connection...")
			return rdb.Close()
		})
	}

	bus := openBus(ctx, cfg, rdb, log)
	shutdownManager.Register(func(ctx context.Context) error {
		log.Info("[SHUTDOWN] Closing event bus...")
		return bus.Close()
	})

	// 4. Права, баны, комнаты, треды, заявки
	var audienceCache services.AudienceCache
	if rdb != nil {
		audienceCache = repository.NewAudienceCache(rdb, cfg.Admins.AudienceCache)
	}
	perms := services.NewPermissionResolver(
		services.NewAllowList(cfg.Admins.UIDs, cfg.Admins.Emails), st.admins, audienceCache, log,
	)
	bans := services.NewBanService(st.bans, log)
	rooms := services.NewRoomService(st.rooms, log)
	thread := services.NewThreadService(st.tx, st.requests, st.messages, bus, log)
	requests := services.NewRequestService(st.tx, st.requests, st.users, bans, rooms, thread, bus, log)

	// 5. Уведомления
	fanout := services.NewFanoutService(newFanoutConfig(ctx, cfg, st, perms, log))
	if err := bus.Subscribe(ctx, fanout.Handle); err != nil {
		log.Fatal("Failed to subscribe notification fan-out", "error", err)
	}

	// 6. Аутентификация
	var provider utils.AuthProvider
	switch cfg.Auth.Provider {
	case config.AuthFirebase:
		provider, err = auth.NewFirebaseProvider(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredentials)
		if err != nil {
			log.Fatal("Failed to init Firebase auth", "error", err)
		}
	default:
		provider = auth.NewJWTProvider(cfg.Auth.JWTSecret)
	}

	// 7. Роутер
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.Server.CORSOrigins))
	handler.RegisterRoutes(router, handler.Handlers{
		Support:       handler.NewSupportHandler(requests, thread, rooms, perms, log),
		Admin:         handler.NewAdminHandler(requests, thread, bans, perms, log),
		Notifications: handler.NewNotificationHandler(fanout, log),
	}, utils.AuthMiddleware(provider), utils.RequireAdmin(perms))

	// 8. Запуск сервера
	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info("Support session service running", "port", cfg.Server.Port, "store", cfg.Storage.Driver, "events", cfg.Events.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server error", "error", err)
			shutdownManager.Shutdown()
		}
	}()

	shutdownManager.Register(func(ctx context.Context) error {
		log.Info("[SHUTDOWN] Shutting down HTTP server...")
		return server.Shutdown(ctx)
	})

	<-shutdownManager.Done()
}

func openStores(ctx context.Context, cfg *config.Config, sm *utils.ShutdownManager, log *utils.Logger) stores {
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn("Using in-memory store, data is lost on restart")
		m := memory.NewStore()
		return stores{
			tx:            m,
			requests:      m.Requests(),
			rooms:         m.Rooms(),
			messages:      m.Messages(),
			users:         m.UserState(),
			bans:          m.Bans(),
			admins:        m.Admins(),
			notifications: m.Notifications(),
			pushTokens:    m.PushTokens(),
		}
	}

	mongoStore, err := repository.Connect(ctx, cfg.Storage.Mongo)
	if err != nil {
		log.Fatal("Mongo connection failed", "error", err)
	}
	sm.Register(func(ctx context.Context) error {
		log.Info("[SHUTDOWN] Closing MongoDB connection...")
		return mongoStore.Disconnect(ctx)
	})
	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		log.Warn("Index creation failed", "error", err)
	}

	db := mongoStore.Database()
	return stores{
		tx:            mongoStore,
		requests:      repository.NewRequestRepository(db),
		rooms:         repository.NewRoomRepository(db),
		messages:      repository.NewMessageRepository(db),
		users:         repository.NewUserStateRepository(db),
		bans:          repository.NewBanRepository(db),
		admins:        repository.NewAdminRepository(db),
		notifications: repository.NewNotificationRepository(db),
		pushTokens:    repository.NewPushTokenRepository(db),
	}
}

func openBus(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *utils.Logger) events.Bus {
	switch cfg.Events.Driver {
	case config.EventsRedis:
		return events.NewRedisBus(rdb, cfg.Events.RedisChannel, cfg.Events.Workers, log)
	case config.EventsAMQP:
		bus, err := events.NewAMQPBus(ctx, cfg.Events.AMQPOptions(), log)
		if err != nil {
			log.Fatal("RabbitMQ connection failed", "error", err)
		}
		return bus
	default:
		return events.NewLocalBus(log)
	}
}

func newFanoutConfig(ctx context.Context, cfg *config.Config, st stores, perms *services.PermissionResolver, log *utils.Logger) services.FanoutConfig {
	fc := services.FanoutConfig{
		Audience:      perms,
		Notifications: st.notifications,
		PushTokens:    st.pushTokens,
		Push:          push.Disabled{},
		Links:         cfg.Notifications.Links,
		Log:           log,
	}
	if cfg.Notifications.FCMCredentials != "" {
		client, err := push.NewFCMClient(ctx, cfg.Notifications.FCMCredentials, st.pushTokens)
		if err != nil {
			log.Fatal("Failed to init FCM", "error", err)
		}
		fc.Push = client
	} else {
		log.Warn("FCM_CREDENTIALS_FILE not set, push delivery disabled")
	}
	if cfg.Notifications.Mail.Enabled() {
		fc.Email = utils.NewMailer(cfg.Notifications.Mail)
	}
	if cfg.Notifications.SMS.Enabled() {
		fc.SMS = utils.NewSMSSender(cfg.Notifications.SMS)
	}
	return fc
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return cors.New(c)
}

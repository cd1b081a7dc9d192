// cmd/server/main.go wires the Altruist engine process: the Connection &
// Room Store, the codec registry, the Sync Metadata Engine, the spatial
// world coordinator, the Tick Engine (and its physics goroutine), the
// Router's sender family, an optional Redis-backed inter-process bridge,
// and the WebSocket transport — plus a small gin HTTP surface for
// readiness/health/liveness/metrics, shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/altruist-gg/altruist/internal/bridge"
	"github.com/altruist-gg/altruist/internal/codec"
	"github.com/altruist-gg/altruist/internal/config"
	"github.com/altruist-gg/altruist/internal/errors"
	"github.com/altruist-gg/altruist/internal/logger"
	"github.com/altruist-gg/altruist/internal/middleware"
	"github.com/altruist-gg/altruist/internal/monitoring"
	"github.com/altruist-gg/altruist/internal/packet"
	"github.com/altruist-gg/altruist/internal/router"
	"github.com/altruist-gg/altruist/internal/spatial"
	"github.com/altruist-gg/altruist/internal/store"
	"github.com/altruist-gg/altruist/internal/syncmeta"
	"github.com/altruist-gg/altruist/internal/tick"
	"github.com/altruist-gg/altruist/internal/transport/ws"
	"github.com/altruist-gg/altruist/pkg/response"
)

// startupTimeout bounds how long required external services get to come up
// before the process exits non-zero.
const startupTimeout = time.Minute

// engineStaleAfter is how long the engine loop may go without advancing
// before the engine-loop readiness check reports it stalled.
const engineStaleAfter = 5 * time.Second

var healthCheckFlag = flag.Bool("healthcheck", false, "Run health check and exit")

func main() {
	flag.Parse()

	if *healthCheckFlag {
		if err := healthCheck(); err != nil {
			log.Fatal("health check failed: ", err)
		}
		fmt.Println("health check passed")
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	if err := logger.Init(logger.Config{
		Level:         cfg.LogLevel,
		Format:        cfg.LogFormat,
		ServiceName:   "altruist",
		Environment:   cfg.Environment,
		EnableConsole: true,
	}); err != nil {
		log.Fatal("failed to init logger: ", err)
	}
	log := logger.GetLogger()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	var redisClient *redis.Client
	var redisTier *store.RedisTier
	if cfg.BridgeEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		redisTier = store.NewRedisTier(redisClient, log)
	}

	checks := []monitoring.ComponentCheck{}
	if redisClient != nil {
		checks = append(checks, monitoring.ComponentCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	readiness := monitoring.NewReadiness(log, checks...)

	connStore := store.New(cfg.DefaultRoomCapacity, redisTier, log)

	codecRegistry := codec.NewRegistry()
	wireCodec := codec.NewJSONCodec(codecRegistry)

	syncEngine := syncmeta.NewEngine()
	registerEntityTypes(syncEngine)

	partitioner := spatial.WorldPartitioner{
		PartitionSize: cfg.WorldPartitionSize,
		CellSize:      cfg.WorldCellSize,
	}
	coordinator := spatial.NewGameWorldCoordinator()
	defaultWorld := spatial.NewGameWorldManager(spatial.World{Index: 0, Width: cfg.WorldWidth, Height: cfg.WorldHeight}, partitioner)
	if err := coordinator.Register(defaultWorld); err != nil {
		log.Fatal("failed to register default world: ", err)
	}

	engine := tick.New(tick.Options{
		EngineRate:  time.Duration(cfg.EngineRateMS) * time.Millisecond,
		PhysicsRate: time.Duration(float64(time.Second) / cfg.PhysicsRateHz),
		Readiness:   readiness,
		Log:         log,
		Metrics:     metrics,
	})
	engine.SetWorldStepper(coordinator)

	readiness.AddCheck(monitoring.ComponentCheck{
		Name: "engine-loop",
		Check: func(ctx context.Context) error {
			last := engine.LastTick()
			if last.IsZero() {
				return nil // loop hasn't started yet
			}
			if age := time.Since(last); age > engineStaleAfter {
				return fmt.Errorf("engine loop stalled for %s", age.Round(time.Millisecond))
			}
			return nil
		},
	})

	if err := engine.ScheduleTask("connection-cleanup", tick.Rate{Unit: tick.UnitSeconds, Value: 30}, func(ctx context.Context) error {
		removed := connStore.Cleanup(ctx)
		if removed > 0 {
			log.LogTickEvent("connection-cleanup", engine.CurrentTick(), logger.Fields{"removed": removed})
		}
		return nil
	}); err != nil {
		log.Fatal("failed to schedule connection cleanup: ", err)
	}

	var bridgeService *bridge.Bridge
	var bridgeCollaborator router.Bridge
	if cfg.BridgeEnabled() {
		processID := cfg.ProcessID
		if processID == "" {
			processID = fmt.Sprintf("altruist-%d", os.Getpid())
		}
		bridgeService = bridge.New(redisClient, wireCodec, processID, readiness, log, metrics)
		bridgeCollaborator = bridgeService
	}

	clientSender := router.NewClientSender(connStore, wireCodec, bridgeCollaborator, log, metrics)
	if bridgeService != nil {
		bridgeService.SetDeliverer(clientSender)
	}
	roomSender := router.NewRoomSender(connStore, clientSender)
	broadcastSender := router.NewBroadcastSender(connStore, clientSender)
	engineRouter := router.NewEngineRouter(engine, clientSender)
	synchronizator := router.NewClientSynchronizator(syncEngine, engine, broadcastSender)

	rateLimiter := middleware.NewConnRateLimiter(middleware.ConnRateLimitOptions{
		Enabled: cfg.RateRPS > 0,
		RPS:     cfg.RateRPS,
		Burst:   cfg.RateBurst,
	})

	gates := ws.NewGateRegistry()
	registerGates(gates, connStore, clientSender, roomSender, engineRouter, synchronizator, syncEngine, defaultWorld, log)
	wsServer := ws.NewServer(wireCodec, connStore, gates, rateLimiter, log, metrics)

	rootCtx, cancel := context.WithCancel(context.Background())

	if err := engine.RegisterCron(rootCtx, "@every 1m", func(ctx context.Context) error {
		log.WithFields(logger.Fields{
			"connections": len(connStore.AllIDs()),
			"rooms":       len(connStore.AllRooms()),
			"tick":        engine.CurrentTick(),
		}).Info("engine stats")
		return nil
	}); err != nil {
		log.Fatal("failed to register stats cron: ", err)
	}

	go engine.Run(rootCtx)
	go engine.RunPhysics(rootCtx)
	if bridgeService != nil {
		go func() {
			if err := bridgeService.Run(rootCtx); err != nil {
				if errors.IsType(err, errors.ErrorTypeFatalExternal) {
					log.Fatal("bridge retry policy exhausted, shutting down: ", err)
				}
				log.Error("bridge stopped", err, nil)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.WSPath, wsServer)

	httpEngine := gin.New()
	httpEngine.Use(gin.Recovery())
	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{cfg.AllowedOrigins}
	}
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type"}
	httpEngine.Use(cors.New(corsConfig))

	httpEngine.GET("/readyz", readiness.ReadyHandler)
	httpEngine.GET("/healthz", readiness.HealthHandler)
	httpEngine.GET("/livez", readiness.LiveHandler)
	httpEngine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	httpEngine.GET("/statusz", readiness.Middleware(), func(c *gin.Context) {
		response.Success(c, gin.H{
			"connections": len(connStore.AllIDs()),
			"rooms":       len(connStore.AllRooms()),
			"tick":        engine.CurrentTick(),
		})
	})

	wsSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpEngine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info(fmt.Sprintf("ws transport listening on %s%s", cfg.ListenAddr, cfg.WSPath))
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ws transport failed: ", err)
		}
	}()
	go func() {
		log.Info(fmt.Sprintf("http surface listening on %s", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http surface failed: ", err)
		}
	}()

	// Required external services must signal ready within the startup
	// window; otherwise the process exits non-zero before ever going Alive.
	if cfg.BridgeEnabled() {
		startupCtx, cancelStartup := context.WithTimeout(rootCtx, startupTimeout)
		err := waitForReady(startupCtx, redisClient)
		cancelStartup()
		if err != nil {
			log.Fatal("redis not ready within startup window: ", err)
		}
	}
	readiness.Set(monitoring.StateAlive, "startup complete")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	readiness.Set(monitoring.StateStarting, "shutting down")
	cancel()
	rateLimiter.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("ws transport forced shutdown", err, nil)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http surface forced shutdown", err, nil)
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Info("shutdown complete")
}

// avatar is the per-connection movable entity kept in delta-sync across
// clients. A real deployment registers its own game entities; this is the
// minimal shape every client-facing position update needs.
type avatar struct {
	connectionID string
	X, Y         float64
	Rotation     float64
}

func (a *avatar) ConnectionID() string { return a.connectionID }

// registerEntityTypes binds the core synced entity types to the sync
// metadata engine.
func registerEntityTypes(e *syncmeta.Engine) {
	e.Register("Avatar",
		syncmeta.FieldSpec{Name: "X", Frequency: 0, Get: func(v interface{}) interface{} { return v.(*avatar).X }},
		syncmeta.FieldSpec{Name: "Y", Frequency: 0, Get: func(v interface{}) interface{} { return v.(*avatar).Y }},
		syncmeta.FieldSpec{Name: "Rotation", Frequency: 0, SyncAlways: true, Get: func(v interface{}) interface{} { return v.(*avatar).Rotation }},
	)
}

// registerGates binds the core packet types to their handlers.
func registerGates(gates *ws.GateRegistry, connStore *store.Store, client *router.ClientSender, room *router.RoomSender, engineRouter *router.EngineRouter, synchronizator *router.ClientSynchronizator, syncEngine *syncmeta.Engine, world *spatial.GameWorldManager, log *logger.Logger) {
	var avatars sync.Map // connectionID -> *avatar

	must := func(err error) {
		if err != nil {
			log.Fatal("gate registration failed: ", err)
		}
	}

	must(gates.Register(packet.TypeHandshake, func(ctx context.Context, connectionID string, p packet.Packet) error {
		conn, ok := connStore.Get(connectionID)
		if !ok {
			return fmt.Errorf("handshake: connection %s not registered", connectionID)
		}
		hs := p.(*packet.HandshakePacket)
		conn.AuthDetails = hs.AuthDetails
		reply := &packet.SuccessPacket{Message: connectionID, SuccessType: "handshake"}
		reply.SetReceiver(connectionID)
		return client.Send(ctx, connectionID, reply)
	}))

	must(gates.Register(packet.TypeJoinGame, func(ctx context.Context, connectionID string, p packet.Packet) error {
		jg := p.(*packet.JoinGamePacket)
		roomID := jg.RoomID
		if roomID == "" {
			roomID = connStore.FindAvailableRoom(ctx).ID
		}
		joined := connStore.AddClientToRoom(ctx, connectionID, roomID)
		if joined == nil {
			reply := &packet.FailedPacket{Reason: "room full or not found", FailType: "join_failed"}
			reply.SetReceiver(connectionID)
			return client.Send(ctx, connectionID, reply)
		}

		av := &avatar{connectionID: connectionID}
		avatars.Store(connectionID, av)
		world.AddObject("Avatar", &spatial.ObjectMetadata{
			Type:       "Avatar",
			InstanceID: connectionID,
			RoomID:     joined.ID,
		}, 0)

		reply := &packet.SuccessPacket{Message: joined.ID, SuccessType: "joined"}
		reply.SetReceiver(connectionID)
		if err := client.Send(ctx, connectionID, reply); err != nil {
			return err
		}
		// Push the newcomer's full state so every peer has a baseline to
		// diff against.
		return synchronizator.Send(ctx, "Avatar", av, true)
	}))

	must(gates.Register(packet.TypeLeaveGame, func(ctx context.Context, connectionID string, p packet.Packet) error {
		roomID := connStore.LeaveRoom(ctx, connectionID)
		if roomID == "" {
			return nil
		}
		avatars.Delete(connectionID)
		world.RemoveObject("Avatar", connectionID)
		syncEngine.Forget("Avatar", connectionID)

		reply := &packet.SuccessPacket{Message: roomID, SuccessType: "left"}
		reply.SetReceiver(connectionID)
		return client.Send(ctx, connectionID, reply)
	}))

	must(gates.Register(packet.TypeMove, func(ctx context.Context, connectionID string, p packet.Packet) error {
		roomID, ok := connStore.FindRoomForClient(connectionID)
		if !ok {
			return nil
		}
		v, ok := avatars.Load(connectionID)
		if !ok {
			return nil
		}
		av := v.(*avatar)
		mv := p.(*packet.MovePacket)
		av.X, av.Y, av.Rotation = mv.X, mv.Y, mv.Rotation
		world.UpdateObjectPosition("Avatar", &spatial.ObjectMetadata{
			Type:       "Avatar",
			InstanceID: connectionID,
			RoomID:     roomID,
			Position:   spatial.Vec2{X: mv.X, Y: mv.Y},
			Rotation:   mv.Rotation,
		}, 0)

		if err := synchronizator.Send(ctx, "Avatar", av, false); err != nil {
			return err
		}
		// Acknowledge at tick rate, not packet rate: the engine-routed sender
		// collapses a flurry of moves into one ack per tick.
		ack := &packet.SuccessPacket{Message: roomID, SuccessType: "moved"}
		ack.SetReceiver(connectionID)
		engineRouter.Send(connectionID, ack)
		return nil
	}))

	must(gates.Register(packet.TypeRoom, func(ctx context.Context, connectionID string, p packet.Packet) error {
		roomID, ok := connStore.FindRoomForClient(connectionID)
		if !ok {
			reply := &packet.FailedPacket{Reason: "not in a room", FailType: "room_cast_failed"}
			reply.SetReceiver(connectionID)
			return client.Send(ctx, connectionID, reply)
		}
		rp := p.(*packet.RoomPacket)
		rp.RoomID = roomID
		_, err := room.Send(ctx, roomID, rp)
		return err
	}))
}

// waitForReady pings client once a second until it answers or ctx expires.
func waitForReady(ctx context.Context, client *redis.Client) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.NewFatalExternalError("redis", "startup window elapsed", err)
		case <-ticker.C:
		}
	}
}

func healthCheck() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost" + cfg.HTTPAddr + "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

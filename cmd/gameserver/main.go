// Package main implements the hexworld multiplayer game server.
//
// Architecture Overview:
// - One room owns the scene and ticks at a fixed rate (20Hz by default)
// - Clients connect over raw TCP or a WebSocket at /ws; both carry the same
//   framed byte stream
// - Every client request is validated and resolved by the authority, then
//   broadcast so all clients converge on the server's scene
// - The scene is saved to disk on shutdown and restored on startup
//
// Connection Flow:
// 1. Client connects and receives the greeting
// 2. Client sends ConnectionInit, server answers with its client id
// 3. Client sends SceneLoad, server streams the tile map and actors, then
//    spawns the client's actor
// 4. Client sends moves and tile edits, server answers with the results
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hexworld/server/config"
	"github.com/hexworld/server/internal/game"
	"github.com/hexworld/server/internal/logging"
	"github.com/hexworld/server/internal/network"
	"github.com/hexworld/server/internal/reconcile"
	"github.com/hexworld/server/internal/room"
	"github.com/hexworld/server/internal/store"
)

// sceneCacheBytes bounds the encoded scene chunks kept for joining clients.
const sceneCacheBytes = 64 << 20

const shutdownTimeout = 5 * time.Second

// GameServer is the main server instance. It accepts connections on both
// transports and hands every session to the room.
type GameServer struct {
	config   *config.ServerConfig
	room     *room.Room
	cache    *reconcile.SceneCache
	upgrader websocket.Upgrader
	log      *zap.Logger

	// ctx bounds sessions accepted over HTTP
	ctx context.Context
}

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	server, err := NewGameServer(cfg, log)
	if err != nil {
		log.Fatal("server setup failed", zap.Error(err))
	}
	defer server.Close()

	log.Info("hexworld game server",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("tick_rate", cfg.TickRate),
		zap.Int("max_peers", cfg.MaxPeers),
		zap.Int("npcs", cfg.NPCs),
		zap.Int64("seed", cfg.Seed),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server stopped")
}

// NewGameServer builds the scene, authority and room described by cfg.
func NewGameServer(cfg *config.ServerConfig, log *zap.Logger) (*GameServer, error) {
	cache, err := reconcile.NewSceneCache(sceneCacheBytes)
	if err != nil {
		return nil, err
	}

	scene := game.NewScene(config.Layout(), game.NewGenerator(cfg.Seed), log.Named("scene"))
	auth := reconcile.NewAuthority(scene, cache, log.Named("authority"))

	var st store.SceneStore
	if cfg.SceneFile != "" {
		fs := store.NewFileStore(cfg.SceneFile)
		log.Info("scene persistence enabled", zap.String("path", fs.Path()))
		st = fs
	}

	return &GameServer{
		config: cfg,
		room:   room.New(cfg, auth, st, log.Named("room")),
		cache:  cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CheckOrigin controls CORS for WebSocket connections.
			CheckOrigin: func(r *http.Request) bool {
				return cfg.EnableCORS
			},
		},
		log: log,
		ctx: context.Background(),
	}, nil
}

// Start runs the room, the TCP listener and the HTTP server until ctx is
// cancelled or one of them fails.
func (s *GameServer) Start(ctx context.Context) error {
	ln, err := network.Listen(net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)), s.log.Named("tcp"),
		network.WithSyncIdle(s.config.SyncIdle))
	if err != nil {
		return err
	}
	s.log.Info("listening", zap.String("transport", "tcp"), zap.Stringer("addr", ln.Addr()))

	g, ctx := errgroup.WithContext(ctx)
	s.ctx = ctx

	g.Go(func() error {
		return s.room.Run(ctx)
	})
	g.Go(func() error {
		return ln.Serve(ctx, s.room.AddSession)
	})

	if s.config.HTTPPort > 0 {
		srv := &http.Server{
			Addr:              net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.HTTPPort)),
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			s.log.Info("listening", zap.String("transport", "http"), zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "http server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// Background task: log server statistics every 5 minutes (only when active)
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				stats := s.room.Stats()
				if stats.Roster.Clients > 0 {
					s.log.Info("stats",
						zap.Int("clients", stats.Roster.Clients),
						zap.Int("actors", stats.Actors),
						zap.Int("tiles", stats.Tiles),
						zap.Uint64("ticks", stats.Ticks),
					)
				}
			}
		}
	})

	return g.Wait()
}

// Close releases the scene cache.
func (s *GameServer) Close() {
	s.cache.Close()
}

// Routes returns the HTTP handler.
func (s *GameServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.config.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			MaxAge:         300,
		}))
	}

	r.Get("/ws", s.handleWebSocket)  // game connections
	r.Get("/health", s.handleHealth) // health check for load balancers
	r.Get("/stats", s.handleStats)   // room statistics
	return r
}

// handleHealth responds to health check requests.
func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleStats returns the room statistics as JSON.
func (s *GameServer) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.room.Stats()); err != nil {
		s.log.Warn("stats encode failed", zap.Error(err))
	}
}

// handleWebSocket upgrades the request and hands the resulting session to
// the room. The session outlives the request.
func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := network.NewSession(network.NewWSConn(ws),
		network.WithGreeting(),
		network.WithSyncIdle(s.config.SyncIdle),
		network.WithLogger(s.log.Named("ws")),
	)
	s.log.Info("connection accepted", zap.String("remote", ws.RemoteAddr().String()), zap.String("session", session.ID()))
	session.Start(s.ctx)
	s.room.AddSession(session)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/engine"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/quiz"
	"github.com/victornm/livequiz/internal/registry"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
	"github.com/victornm/livequiz/internal/ws"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Cache struct {
			Addrs  []string
			Pass   string
			Prefix string
			TTL    time.Duration
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Mongo struct {
		URI      string
		Database string
	}

	Postgres struct {
		Audit struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Startup struct {
		Retries uint
		Delay   time.Duration
	}

	Session struct {
		LeaderboardLimit int
	}

	Log struct {
		// Level is one of debug, info, warn and error.
		Level string
	}

	Shutdown struct {
		Timeout time.Duration
	}
}

// DefaultConfig holds the values used for every key the config file leaves out.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Redis.Cache.Addrs = []string{"localhost:6379"}
	c.Redis.Cache.Prefix = "livequiz"
	c.Redis.Cache.TTL = time.Hour
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = "livequiz"
	c.Mongo.URI = "mongodb://localhost:27017"
	c.Mongo.Database = "livequiz"
	c.Startup.Retries = 5
	c.Startup.Delay = 5 * time.Second
	c.Session.LeaderboardLimit = 10
	c.Log.Level = "info"
	c.Shutdown.Timeout = 10 * time.Second
	return c
}

type Server struct {
	c Config

	eb       *event.Bus
	registry *registry.Registry

	infra struct {
		redis struct {
			cache  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		mongo    *mongo.Client
		postgres *pgxpool.Pool
	}

	service struct {
		quiz   *quiz.Service
		score  *score.Service
		engine *engine.Engine
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.registry = registry.New(registry.Config{EventBus: s.eb})

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initMongo(); err != nil {
		return fmt.Errorf("mongo: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

// retry runs connect until it succeeds or the configured attempts are exhausted, waiting a
// fixed delay between attempts.
func retry[T any](c Config, name string, connect func() (T, error)) (T, error) {
	tries := c.Startup.Retries
	if tries == 0 {
		tries = 5
	}
	delay := c.Startup.Delay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	return backoff.Retry(context.Background(), connect,
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn(fmt.Sprintf("server: connect %s failed, retrying in %s", name, next), "error", err)
		}),
	)
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		return retry(s.c, "redis", func() (redis.UniversalClient, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := r.Ping(ctx).Err(); err != nil {
				return nil, err
			}
			return r, nil
		})
	}

	var err error
	s.infra.redis.cache, err = connect(s.c.Redis.Cache.Addrs, s.c.Redis.Cache.Pass)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initMongo() (err error) {
	s.infra.mongo, err = retry(s.c, "mongo", func() (*mongo.Client, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		opts := options.Client().
			ApplyURI(s.c.Mongo.URI).
			SetMonitor(telemetry.MongoMonitor())

		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}

		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}

		return client, nil
	})

	return err
}

func (s *Server) initPostgres() (err error) {
	a := s.c.Postgres.Audit
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", a.User, a.Pass, a.Addr, a.Name))
	if err != nil {
		return err
	}

	s.infra.postgres, err = retry(s.c, "postgres", func() (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}

		return db, nil
	})

	return err
}

func (s *Server) initService() error {
	db := s.infra.mongo.Database(s.c.Mongo.Database)

	audit := score.NewPostgresAudit(s.infra.postgres)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := audit.Migrate(ctx); err != nil {
		return err
	}

	s.service.quiz = quiz.NewService(quiz.Config{
		Repository: quiz.NewMongoRepository(db),
	})

	s.service.score = score.NewService(score.Config{
		Leaderboard: leaderboard.NewService(leaderboard.Config{
			Redis:  s.infra.redis.cache,
			Prefix: s.c.Redis.Cache.Prefix,
		}),
		Audit:  audit,
		Redis:  s.infra.redis.cache,
		Prefix: s.c.Redis.Cache.Prefix,
	})

	s.service.engine = engine.New(engine.Config{
		EventBus: s.eb,
		Sessions: session.NewStore(session.Config{
			Durable: session.NewMongoStore(db),
			Cache:   session.NewRedisCache(s.infra.redis.cache, s.c.Redis.Cache.Prefix, s.c.Redis.Cache.TTL),
		}),
		Quizzes:          s.service.quiz,
		Score:            s.service.score,
		Registry:         s.registry,
		LeaderboardLimit: s.c.Session.LeaderboardLimit,
	})

	api.NewRelay(api.RelayConfig{
		EventBus:     s.eb,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:  e,
		Engine:  s.service.engine,
		Quizzes: s.service.quiz,
		WS:      ws.NewHandler(s.service.engine, ws.Config{}),
	})

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor(), telemetry.GRPCStreamInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

// Shutdown stops accepting requests, tells every live connection the server is going away
// and waits for pending events before closing the infra clients.
func (s *Server) Shutdown() {
	timeout := s.c.Shutdown.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.registry.Close(ctx)
	s.eb.Stop()

	if err := s.infra.redis.cache.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis cache failed", "error", err)
	}
	if err := s.infra.redis.pubsub.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis pubsub failed", "error", err)
	}
	if err := s.infra.mongo.Disconnect(ctx); err != nil {
		slog.ErrorContext(ctx, "server: disconnect mongo failed", "error", err)
	}
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}

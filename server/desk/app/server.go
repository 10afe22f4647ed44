package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	commonauth "desk_server/server/common/auth"
	"desk_server/server/common/infra/cache"
	"desk_server/server/common/infra/db"
	"desk_server/server/common/infra/mq"
	"desk_server/server/common/infra/object"
	commonlog "desk_server/server/common/log"
	"desk_server/server/desk/api"
	"desk_server/server/desk/realtime"
	"desk_server/server/desk/repository"
	"desk_server/server/desk/service"
)

type Server struct {
	HTTPServer *http.Server
	Gateway    *realtime.Gateway
	Desk       *service.Desk
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Publisher  mq.Publisher
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := &Server{Publisher: mq.NopPublisher{}}
	fail := func(err error) (*Server, error) {
		_ = s.closeBackends()
		return nil, err
	}

	store, err := s.openStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	opts := []service.Option{}
	var mirror realtime.PresenceMirror
	if cfg.RedisEnabled {
		s.Redis = cache.NewClient(cache.Config{Addr: cfg.RedisAddr})
		if err := cache.Ping(ctx, s.Redis); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		opts = append(opts, service.WithDeduper(service.NewRedisDeduper(s.Redis)))
		mirror = realtime.NewRedisPresenceMirror(s.Redis)
	}

	switch cfg.EventsBackend {
	case EventsAMQP:
		s.MQConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			return fail(fmt.Errorf("initialize lavinmq: %w", err))
		}
		publisher, err := mq.NewAMQPPublisher(s.MQConn)
		if err != nil {
			return fail(fmt.Errorf("initialize amqp publisher: %w", err))
		}
		s.Publisher = publisher
	case EventsKafka:
		s.Publisher = mq.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case EventsNone, "":
	default:
		return fail(fmt.Errorf("unknown EVENTS_BACKEND %q", cfg.EventsBackend))
	}
	opts = append(opts, service.WithPublisher(s.Publisher))

	if cfg.MinIOEnabled {
		bucket, err := object.NewMediaBucket(ctx, object.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return fail(fmt.Errorf("initialize minio: %w", err))
		}
		opts = append(opts, service.WithMediaSigner(bucket))
	}

	tokens := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)

	// The gateway authorizes ticket rooms through the desk and the desk pushes
	// through the gateway; the notifier is bound before any request is served.
	notifier := &gatewayNotifier{}
	desk := service.NewDesk(store, append(opts, service.WithNotifier(notifier))...)
	s.Gateway = realtime.NewGateway(tokens, desk, realtime.Config{
		SendBuffer: cfg.WSSendBuffer,
		Mirror:     mirror,
	}, commonlog.L().Named("gateway"))
	notifier.gw = s.Gateway
	s.Desk = desk

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	api.NewHandler(desk, s.Gateway, tokens).RegisterRoutes(r)

	s.HTTPServer = &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	commonlog.Infof("event=desk_server action=init status=ok store=%s events=%s redis=%t minio=%t",
		cfg.StoreDriver, cfg.EventsBackend, cfg.RedisEnabled, cfg.MinIOEnabled)
	return s, nil
}

func (s *Server) openStore(ctx context.Context, cfg Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case StoreMemory:
		return repository.NewMemoryStore(), nil
	case StorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.PostgresDSN, MaxConns: int32(cfg.PGMaxConns)})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.Pool = pool
		return repository.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// Shutdown stops accepting requests, drops every socket, waits for in-flight
// integration events and closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	if s.Gateway != nil {
		s.Gateway.Close()
	}
	if s.Desk != nil {
		drained := make(chan struct{})
		go func() {
			s.Desk.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			commonlog.Warnf("event=desk_server action=drain_events status=timeout err=%v", ctx.Err())
		}
	}
	if cerr := s.closeBackends(); err == nil {
		err = cerr
	}
	return err
}

func (s *Server) closeBackends() error {
	var firstErr error
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	return firstErr
}

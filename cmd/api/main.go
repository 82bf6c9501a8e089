// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"eventmap/internal/adapter/prefs"
	"eventmap/internal/adapter/storage"
	"eventmap/internal/config"
	"eventmap/internal/domain/identity"
	"eventmap/internal/domain/mapview"
	"eventmap/internal/logging"
	"eventmap/internal/server"
	geoService "eventmap/internal/service/geo"
	mapviewService "eventmap/internal/service/mapview"
	"eventmap/internal/service/notify"
	"eventmap/internal/service/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := storage.Migrate(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	natsConn, err := initNATS(cfg.NATS, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer natsConn.Close()

	prefsStore, err := prefs.Open(cfg.Prefs.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open preference store")
	}
	defer prefsStore.Close()

	// Initialize storage adapters
	eventStore := storage.NewEventStore(db)
	geocoder := storage.NewPostalCodeGeocoder(db)
	bus := notify.NewBusPublisher(natsConn, logger)

	// "Today" for past-event filtering is the display time zone's date
	now := func() time.Time { return time.Now().In(cfg.Geo.TimeZone) }

	// Initialize geospatial service
	geoSpatialService := geoService.NewGeoSpatialService(
		eventStore,
		geocoder,
		geoService.GeoSpatialConfig{
			DefaultRadiusKm:    cfg.Geo.DefaultRadiusKm(),
			ClusterThresholdKm: cfg.Geo.ClusterThreshold,
			ClusterMode:        cfg.Geo.ClusterMode,
		},
		logger,
	)

	clusterer := geoService.NewClusterer(cfg.Geo.ClusterMode)
	clusterer.ThresholdKm = cfg.Geo.ClusterThreshold

	// Sessions get their location from the client; the shared resolver only
	// supplies the fallback chain
	resolver := mapviewService.NewResolver(
		nil,
		nil,
		geocoder,
		mapviewService.ResolverConfig{
			GPSTimeout:      cfg.Geo.GPSTimeout,
			DefaultLocation: cfg.Geo.DefaultLocation,
		},
		logger,
	)

	coordinatorConfig := mapviewService.DefaultCoordinatorConfig()
	coordinatorConfig.DefaultRadiusKm = cfg.Geo.DefaultRadiusKm()
	coordinatorConfig.SearchAreaThresholdKm = cfg.MapView.SearchAreaThresholdKm

	sessionManager := mapviewService.NewManager(
		eventStore,
		resolver,
		clusterer,
		bus,
		mapviewService.ManagerConfig{
			StateTopic:         cfg.MapView.StateTopic,
			SessionTTL:         cfg.MapView.SessionTTL,
			MonitoringInterval: cfg.MapView.MonitoringInterval,
			Coordinator:        coordinatorConfig,
		},
		logger,
	)
	sessionManager.SetUserPrefs(func(userID string) mapview.KeyValueStore {
		return prefsStore.Scoped(userID)
	})

	// Signing out ends the user's map sessions
	authBroadcaster := session.NewBroadcaster(bus, cfg.MapView.AuthTopic, logger)
	authBroadcaster.Subscribe(func(change identity.AuthChange) {
		if change.State == identity.AuthSignedOut {
			closed := sessionManager.CloseUser(change.UserID)
			logger.Info().Str("user_id", change.UserID).Int("sessions", closed).Msg("closed sessions on sign-out")
		}
	})

	sessionManager.Start()

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, server.Dependencies{
		Events:     eventStore,
		Markers:    geoSpatialService,
		Geo:        geoSpatialService,
		Sessions:   sessionManager,
		Auth:       authBroadcaster,
		Prefs:      prefsStore,
		Subscriber: natsConn,
		Unit:       cfg.Geo.RadiusUnit,
		RadiusKm:   cfg.Geo.DefaultRadiusKm(),
		Location:   cfg.Geo.TimeZone,
		Now:        now,
		Logger:     logger,
	})

	// Start HTTP server
	go func() {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	logger.Info().Msg("Shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Stop session manager
	if err := sessionManager.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Session manager shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, logger zerolog.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.Name("eventmap-api"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}

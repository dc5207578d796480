package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/IvanOplesnin/TCPLocalChat/auth"
	"github.com/IvanOplesnin/TCPLocalChat/moderation"
	"github.com/IvanOplesnin/TCPLocalChat/repositories"
	"github.com/IvanOplesnin/TCPLocalChat/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and manages the server lifecycle, so
// that every defer executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Repositories
	userRepository, err := repositories.NewUserRepository(db)
	if err != nil {
		return fmt.Errorf("user repository: %w", err)
	}
	defer func() { _ = userRepository.Close() }()
	roomRepository, err := repositories.NewRoomRepository(db)
	if err != nil {
		return fmt.Errorf("room repository: %w", err)
	}
	defer func() { _ = roomRepository.Close() }()
	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages)

	// 4. Domain services
	moderator, err := moderation.NewModerator(config.CensoredWordList(), config.CharacterRune())
	if err != nil {
		return fmt.Errorf("moderator: %w", err)
	}
	tokens := auth.NewTokenService([]byte(config.SecretKey), config.AuthTokenDuration)

	registry := server.NewRegistry()
	router := server.NewRouter(roomRepository, registry, log)
	deps := server.Deps{
		Registry:    registry,
		Router:      router,
		Users:       userRepository,
		Rooms:       roomRepository,
		Messages:    messageRepository,
		Tokens:      tokens,
		Moderator:   &moderator,
		Log:         log,
		SinkBuffer:  config.ConnectionBufferSize,
		IdleTimeout: config.IdleTimeout,
	}

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Start serving
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv := server.NewServer(deps, address)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down gracefully...")
	srv.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

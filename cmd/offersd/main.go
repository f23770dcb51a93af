// Command offersd runs the offer-escrow API daemon.
//
// Configuration is environment-driven. The broker and the journal are both
// optional: without RABBITMQ_URL lifecycle events stay in-process, without
// POSTGRES_DSN resolved offers are not archived.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/calyxpay/lib-offers/offers"
	"github.com/calyxpay/lib-offers/offers/backoff"
	"github.com/calyxpay/lib-offers/offers/log"
	offershttp "github.com/calyxpay/lib-offers/offers/net/http"
	"github.com/calyxpay/lib-offers/offers/postgres"
	"github.com/calyxpay/lib-offers/offers/rabbitmq"
	"github.com/calyxpay/lib-offers/offers/server"
	"github.com/calyxpay/lib-offers/offers/transfer"
	offerszap "github.com/calyxpay/lib-offers/offers/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	level, err := log.ParseLevel(offers.GetenvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return fmt.Errorf("parse LOG_LEVEL: %w", err)
	}

	logger, err := offerszap.New(level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	ledger := transfer.NewLedger()
	allowances := transfer.NewAllowanceRegistry()

	engineOpts := []transfer.Option{transfer.WithLogger(logger)}

	manager := server.NewServerManager(logger)

	connectAttempts := offers.GetenvIntOrDefault("CONNECT_ATTEMPTS", 5)

	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		var conn *amqp.Connection

		err := backoff.Retry(ctx, connectAttempts, time.Second, func(_ context.Context) error {
			var dialErr error
			conn, dialErr = amqp.Dial(url)

			return dialErr
		})
		if err != nil {
			return fmt.Errorf("dial rabbitmq: %w", err)
		}

		channel, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open rabbitmq channel: %w", err)
		}

		publisher, err := rabbitmq.NewPublisher(
			rabbitmq.NewChannel(channel),
			offers.GetenvOrDefault("RABBITMQ_EXCHANGE", "offers"),
			offers.GetenvOrDefault("RABBITMQ_ROUTING_KEY", "offers.lifecycle"),
			rabbitmq.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("create publisher: %w", err)
		}

		engineOpts = append(engineOpts, transfer.WithPublisher(publisher))
		manager.WithCloser("rabbitmq", func(_ context.Context) error {
			if err := publisher.Close(); err != nil {
				return err
			}

			return conn.Close()
		})

		logger.Log(ctx, log.LevelInfo, "event publishing enabled",
			log.String("exchange", offers.GetenvOrDefault("RABBITMQ_EXCHANGE", "offers")))
	}

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		var conn *postgres.Connection

		err := backoff.Retry(ctx, connectAttempts, time.Second, func(ctx context.Context) error {
			var connectErr error
			conn, connectErr = postgres.Connect(ctx, dsn, postgres.WithLogger(logger))

			return connectErr
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}

		if err := conn.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}

		engineOpts = append(engineOpts, transfer.WithJournal(postgres.NewJournal(conn)))
		manager.WithCloser("postgres", func(_ context.Context) error {
			conn.Close()
			return nil
		})
	}

	engine := transfer.NewEngine(ledger, allowances, engineOpts...)

	app := fiber.New(fiber.Config{
		AppName:               "offersd",
		DisableStartupMessage: true,
	})

	app.Use(offershttp.WithCORS())
	app.Use(offershttp.WithLogging(logger))

	offershttp.NewOffersHandler(engine, ledger, allowances, logger).RegisterRoutes(app)

	address := offers.GetenvOrDefault("SERVER_ADDRESS", ":3000")

	return manager.WithHTTPServer(app, address).StartWithGracefulShutdown()
}

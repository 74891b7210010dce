package cmd

import (
	"context"
	"log"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/tranz-r/quote-engine/db/db"
	"github.com/tranz-r/quote-engine/db/mem"
	"github.com/tranz-r/quote-engine/db/pg"
	ev "github.com/tranz-r/quote-engine/events/events"
	"github.com/tranz-r/quote-engine/events/gcppubsub"
	"github.com/tranz-r/quote-engine/events/goch"
	"github.com/tranz-r/quote-engine/events/rabbit"
	"github.com/tranz-r/quote-engine/web"
)

func newDBWrapper(mode string) db.QuoteDBWrapper {
	switch mode {
	case "pg":
		gormDB, err := pg.InitPostgresGORM(pg.CreateDSN())
		if err != nil {
			log.Fatalf("Failed to initialize postgres: %v", err)
		}
		return pg.NewGORMQuoteDBWrapper(gormDB)
	case "mem":
		return mem.NewInMemoryQuoteDBWrapper()
	}
	log.Fatalf("Unknown db mode %q (want mem or pg)", mode)
	return nil
}

func newEventBus(mode ev.Mode) ev.QuoteEventBus {
	switch mode {
	case ev.ModeGoChan:
		return goch.NewGoChanQuoteEventBus(64)
	case ev.ModeRabbitMQ:
		conn := rabbit.NewRabbitConnection(rabbit.CreateAmqpURL())
		bus, err := rabbit.NewRabbitQuoteEventBus(conn)
		if err != nil {
			log.Fatalf("Failed to initialize rabbitmq bus: %v", err)
		}
		return bus
	case ev.ModeGCP:
		ctx := context.Background()
		client, err := pubsub.NewClient(ctx, gcppubsub.GetGCPProjectID())
		if err != nil {
			log.Fatalf("Failed to create pubsub client: %v", err)
		}
		bus, err := gcppubsub.NewGCPQuoteEventBus(ctx, client)
		if err != nil {
			log.Fatalf("Failed to initialize pubsub bus: %v", err)
		}
		return bus
	}
	log.Fatalf("Unknown bus mode %q", mode)
	return nil
}

func serverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the quote backend server",
		Long:  `This command starts the backend of record the quote engine synchronizes against.`,
		Run: func(cmd *cobra.Command, args []string) {
			isDev := cmd.Flags().Lookup("dev").Value.String() == "true"
			port := cmd.Flags().Lookup("port").Value.String()
			dbMode := cmd.Flags().Lookup("db").Value.String()
			busMode := cmd.Flags().Lookup("bus").Value.String()

			if !isDev {
				gin.SetMode(gin.ReleaseMode)
			}

			wrapper := newDBWrapper(dbMode)
			bus := newEventBus(ev.Mode(busMode))

			if err := web.Serve(":"+port, wrapper, bus); err != nil {
				log.Fatalf("Server stopped: %v", err)
			}
		},
	}

	cmd.Flags().Bool("dev", true, "Run in development mode")
	cmd.Flags().String("port", "8080", "Port to run the web server on")
	cmd.Flags().String("db", "mem", "Storage backend (mem, pg)")
	cmd.Flags().String("bus", "go_chan", "Event bus mode (go_chan, rabbitmq, gcp_pub_sub)")

	return cmd
}

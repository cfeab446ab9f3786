package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"console-realtime/auth"
	"console-realtime/contract"
	"console-realtime/domain"
	"console-realtime/fanout"
	"console-realtime/internal"
	"console-realtime/pubsub"
	"console-realtime/socket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and manages their lifecycle, so deferred
// teardowns execute before the process exits and errors flow out of one
// place.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Credentials
	bridge := auth.NewBridge(config.BearerToken, config.VendorID)
	if auth.Expired(bridge.BearerToken(), time.Now()) {
		log.Warn("Bearer credential is expired, channel authorization will be denied")
	}
	tenantID := bridge.VendorID()

	// 3. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Raw socket feed
	socketRegistry := fanout.NewRegistry(log)
	client := socket.NewClient(log, config.WSBaseURL, socketRegistry).
		WithReconnectDelay(config.ReconnectDelay).
		WithHeartbeatTimeout(config.HeartbeatTimeout)
	defer client.Teardown()

	socketSub := socketRegistry.Register(contract.Callbacks{
		OnNewMessage: func(p domain.ContactEventPayload) {
			log.Info("Socket message",
				"direction", p.Message.Direction, "phone", p.Phone, "status", p.Message.Status)
		},
		OnMessageStatus: func(e domain.StatusEvent) {
			log.Info("Socket status", "message_id", e.MessageID, "status", e.Status)
		},
	})
	defer socketRegistry.Unregister(socketSub)
	client.Connect(ctx, tenantID)

	// 5. Shared broadcast channel
	channelRegistry := fanout.NewRegistry(log)
	transport := pubsub.InitShared(log, config.PubSubURL)
	authorizer := pubsub.NewHTTPAuthorizer(log, config.AuthEndpoint, bridge)
	mux := pubsub.NewMultiplexer(log, channelRegistry, transport, authorizer)

	unsubscribe := mux.Subscribe(ctx, tenantID, contract.Callbacks{
		OnConnected: func() { log.Info("Channel subscribed", "tenant", tenantID) },
		OnNewMessage: func(p domain.ContactEventPayload) {
			log.Info("Channel message", "phone", p.Phone, "message_id", p.Message.ID)
		},
		OnContactUpdated: func(c domain.ContactSummary) {
			log.Info("Contact updated", "contact", c.ID)
		},
		OnMessageStatus: func(e domain.StatusEvent) {
			log.Info("Channel status", "message_id", e.MessageID, "status", e.Status)
		},
		OnVendorBroadcast: func(b domain.VendorBroadcast) {
			log.Info("Vendor broadcast",
				"contact", b.ContactUID, "new_message", b.IsNewIncomingMessage)
		},
		OnError: func(err error) { log.Warn("Channel error", "err", err) },
	})
	defer unsubscribe()

	// 6. Wait for Stop
	<-ctx.Done()
	log.Info("Shutting down gracefully...",
		"socket", client.Status().Indicator(), "buffered", len(client.Messages()))
	return nil
}

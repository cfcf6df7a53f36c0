package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"palaver/internal/auth"
	"palaver/internal/commands"
	"palaver/internal/config"
	"palaver/internal/gate"
	"palaver/internal/http"
	"palaver/internal/msgsync"
	"palaver/internal/poll"
	"palaver/internal/presence"
	"palaver/internal/push"
	"palaver/internal/reactions"
	"palaver/internal/registry"
	"palaver/internal/storage"
	"palaver/internal/typing"
	"palaver/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Username to create (creates user with random password and prints details)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, cfg)
	}

	// A missing or unopenable database is fatal; transient persistence
	// failures later are only logged.
	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	authService := auth.NewService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, store)

	tracker := presence.NewTracker()
	reg := registry.New(tracker)

	notifier := push.NewNotifier(store, tracker, push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.PushSubscriber,
	})

	accessGate := gate.New(tracker, reg, cfg.PrivateIdleTimeout)
	deletionPoll := poll.NewCoordinator(store, tracker, reg, cfg.DeleteLockout, cfg.PollConfirmCutoff)
	synchronizer := msgsync.New(ctx, store, reg, notifier)
	aggregator := reactions.NewAggregator(store, reg)
	typingRouter := typing.NewRouter(reg)

	hub := ws.NewHub(reg, tracker, typingRouter, synchronizer, aggregator, accessGate, deletionPoll, store)

	apiServer := http.NewAPIServer(authService, hub, tracker, store, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Background timers: daily last-seen wipe and private-mode idle revert.
	g.Go(func() error {
		tracker.RunJanitor(gCtx)
		return nil
	})
	g.Go(func() error {
		accessGate.Run(gCtx)
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}

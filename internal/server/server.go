package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sreejagatab/jagatab-realtime/internal/backoff"
	"github.com/sreejagatab/jagatab-realtime/internal/comment"
	"github.com/sreejagatab/jagatab-realtime/internal/hub"
	"github.com/sreejagatab/jagatab-realtime/internal/notification"
	"github.com/sreejagatab/jagatab-realtime/internal/presence"
	"github.com/sreejagatab/jagatab-realtime/internal/router"
	"github.com/sreejagatab/jagatab-realtime/internal/server/middleware"
	"github.com/sreejagatab/jagatab-realtime/internal/store"
	"github.com/sreejagatab/jagatab-realtime/pkg/config"
	"github.com/sreejagatab/jagatab-realtime/pkg/state"
	"github.com/sreejagatab/jagatab-realtime/pkg/state/registry"
	"github.com/sreejagatab/jagatab-realtime/pkg/transport"
)

// App wires the connection gateway, room hub, presence tracker and the
// comment/notification services into one process.
type App struct {
	logger   *slog.Logger
	config   *config.Config
	registry state.Registry
	hub      *hub.Hub
	presence *presence.Tracker
	comments *comment.Service
	notifier *notification.Service
	router   *router.EventRouter

	http *http.Server
	wg   sync.WaitGroup
	ctx  context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st *store.Store) *App {
	sessionRegistry := registry.NewInMemory(logger)
	roomHub := hub.New(sessionRegistry, logger)
	tracker := presence.NewTracker(roomHub, cfg.Presence.Debounce, cfg.Presence.SweepInterval, logger)

	retry := backoff.Policy{Attempts: cfg.Retry.Attempts, Delay: cfg.Retry.Backoff}
	commentSvc := comment.NewService(st.Comments, roomHub, retry, cfg.Comments.MaxLength, logger)
	notifySvc := notification.NewService(st.Notifications, sessionRegistry, retry, logger)
	commentSvc.SetNotifier(notifySvc)

	eventRouter := router.NewEventRouter(logger, sessionRegistry, tracker, commentSvc, notifySvc, roomHub, router.RateLimits{
		TypingPerMinute:   cfg.RateLimit.TypingPerMinute,
		CommentsPerMinute: cfg.RateLimit.CommentsPerMinute,
	})

	app := &App{
		logger:   logger,
		config:   cfg,
		registry: sessionRegistry,
		hub:      roomHub,
		presence: tracker,
		comments: commentSvc,
		notifier: notifySvc,
		router:   eventRouter,
		ctx:      rootCtx,
	}

	mux := http.NewServeMux()

	authed := func(h http.Handler) http.Handler {
		return middleware.Chain(h,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret),
		)
	}

	// Cycler closes the user's oldest session when the per-user cap is hit.
	cycler := func(userID string) {
		oldest, found := sessionRegistry.OldestSession(userID)
		if found {
			logger.Info("Cycling connection: closing oldest session", "userID", userID, "sessID", oldest.ID.String())
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws", middleware.Chain(http.HandlerFunc(app.upgradeHandler),
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(logger),
		middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret),
		middleware.NewConnectionLimiter(logger, sessionRegistry.SessionCount, cycler, cfg.Server.ConnectionLimit),
	))

	restMux := http.NewServeMux()
	notifyHTTP := notification.NewHTTPHandler(notifySvc, restIdentity, cfg.Store.ListLimit, logger)
	notifyHTTP.Mount(restMux)
	mux.Handle("/notifications", authed(restMux))
	mux.Handle("/notifications/", authed(restMux))

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

// restIdentity resolves the REST caller from the metadata the auth
// middleware filled in.
func restIdentity(r *http.Request) (string, bool) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || reqMeta.UserID == "" {
		return "", false
	}
	return reqMeta.UserID, true
}

// Run serves until the root context is cancelled, then shuts down.
func (a *App) Run() error {
	g, ctx := errgroup.WithContext(a.ctx)

	g.Go(func() error {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := a.presence.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.Shutdown()
	})

	return g.Wait()
}

// upgradeHandler completes the handshake: accept the socket, register the
// session, wire the router, and block until the connection dies.
func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || reqMeta.UserID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		a.ctx,
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout: a.config.Transport.ReadTimeout,
			SendBuffer:  a.config.Transport.SendBuffer,
			SendTimeout: a.config.Transport.SendTimeout,
		},
		a.logger,
	)

	sess := &state.Session{
		ID:        conn.ID(),
		UserID:    reqMeta.UserID,
		UserName:  reqMeta.UserName,
		Role:      reqMeta.Role,
		Transport: conn,
		CreatedAt: time.Now(),
	}
	if err := a.registry.Register(sess); err != nil {
		connLogger.Error("Failed to register session", slog.Any("error", err))
		conn.Close(err)
		return
	}

	conn.SetOnMessageHandler(a.router.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		a.teardownSession(connLogger, id)
	})

	connLogger.Info("User connection fully established", slog.String("sessID", sess.ID.String()))
	conn.Run()
	<-conn.Done()
}

// teardownSession is the single disconnect path, shared by clean closes,
// network loss and heartbeat timeouts: deregister from every room, emit
// stopped-typing where the session was mid-compose, drop limiter state, and
// reclaim emptied room workers.
func (a *App) teardownSession(logger *slog.Logger, sessID uuid.UUID) {
	rooms, err := a.registry.Deregister(sessID)
	if err != nil {
		logger.Error("Failed to deregister session", slog.Any("error", err))
		return
	}
	a.presence.StopAll(sessID, rooms)
	a.router.Forget(sessID)
	for _, roomID := range rooms {
		a.hub.ReleaseRoom(roomID)
	}
	logger.Info("Session deregistered", slog.String("sessID", sessID.String()))
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("Closing all active connections...")
	for _, sess := range a.registry.AllSessions() {
		sess.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup,
	// then drain the room workers.
	a.wg.Wait()
	a.hub.Close()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

// Notifier exposes the notification service for external triggers (likes,
// follows, system alerts raised elsewhere in the application).
func (a *App) Notifier() *notification.Service {
	return a.notifier
}

// Command live-notifier watches YouTube and Twitch channels for every tenant and posts
// a notification when a channel goes live, uploads a video or schedules a premiere.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the key/value store (memory, Postgres, Redis or SQLite).
//   - Builds the platform clients, probes and notification sinks.
//   - Runs one recurring poll per tenant listed in the tenants file, reloading it on change.
//   - Exposes the admin HTTP API with /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"github.com/onnwee/live-notifier/catalog"
	"github.com/onnwee/live-notifier/clock"
	"github.com/onnwee/live-notifier/config"
	"github.com/onnwee/live-notifier/crypto"
	"github.com/onnwee/live-notifier/httpclient"
	"github.com/onnwee/live-notifier/kv"
	"github.com/onnwee/live-notifier/notify"
	"github.com/onnwee/live-notifier/oauth"
	"github.com/onnwee/live-notifier/poller"
	"github.com/onnwee/live-notifier/probe"
	"github.com/onnwee/live-notifier/resolver"
	"github.com/onnwee/live-notifier/scheduler"
	"github.com/onnwee/live-notifier/server"
	"github.com/onnwee/live-notifier/telemetry"
	"github.com/onnwee/live-notifier/tenant"
	"github.com/onnwee/live-notifier/twitchapi"
	"github.com/onnwee/live-notifier/youtubeapi"
)

const pollTag = "poll"

// newChatRefresher seeds the stored bot token from the environment and keeps it fresh,
// dropping the chat connection after each refresh so the next post uses the new token.
func newChatRefresher(ctx context.Context, cfg *config.Config, store kv.Store, hc *http.Client, irc *notify.IRCPoster) (*oauth.Refresher, error) {
	tokStore := &oauth.Store{KV: store, Key: "oauth:twitch-chat"}
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		tokStore.Enc = enc
	} else {
		slog.Warn("ENCRYPTION_KEY not set - chat token stored unencrypted")
	}
	r := &oauth.Refresher{
		Store:    tokStore,
		Provider: "twitch",
		Interval: 5 * time.Minute,
		Window:   15 * time.Minute,
		Refresh: func(ctx context.Context, refreshToken string) (oauth.Token, error) {
			res, err := twitchapi.RefreshToken(ctx, hc, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
			if err != nil {
				return oauth.Token{}, err
			}
			return oauth.Token{
				AccessToken:  res.AccessToken,
				RefreshToken: res.RefreshToken,
				ExpiresAt:    twitchapi.ComputeExpiry(time.Now(), res.ExpiresIn),
				Scope:        strings.Join(res.Scope, " "),
			}, nil
		},
		OnRefresh: func(oauth.Token) { irc.Reset() },
	}
	// A TWITCH_OAUTH_TOKEN without expiry is refreshed on first use.
	seeded, err := r.Seed(ctx, oauth.Token{AccessToken: strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:"), RefreshToken: cfg.TwitchRefreshToken})
	if err != nil {
		return nil, err
	}
	slog.Info("twitch chat token refresher ready", slog.Bool("seeded", seeded))
	return r, nil
}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	policy, err := poller.ParseCommitPolicy(cfg.NotifyCommitPolicy)
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing is optional; without an endpoint spans are dropped.
	shutdown, err := telemetry.InitTracing(ctx, "live-notifier", "1.0.0", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	store, err := kv.Open(ctx, kv.Config{
		Driver:     cfg.StoreDriver,
		DSN:        cfg.DBDsn,
		RedisURL:   cfg.RedisURL,
		SQLitePath: cfg.SQLitePath,
		KeyPrefix:  "notifier:",
	})
	if err != nil {
		slog.Error("failed to open store", slog.String("driver", cfg.StoreDriver), slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()
	slog.Info("store opened", slog.String("driver", cfg.StoreDriver))

	clk := clock.Real{}

	// Outbound clients: one limiter per platform.
	ytHTTP := httpclient.New(httpclient.Options{Name: "youtube", RPS: cfg.PlatformRPS, Timeout: cfg.ProbeTimeout})
	twitchHTTP := httpclient.New(httpclient.Options{Name: "twitch", RPS: cfg.PlatformRPS, Timeout: cfg.ProbeTimeout})

	tokens := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret, HTTPClient: twitchHTTP}
	helix := &twitchapi.HelixClient{AppTokenSource: tokens, ClientID: cfg.TwitchClientID, HTTPClient: twitchHTTP}
	if cfg.TwitchHelixReady() {
		// Best-effort warm-up; the token is fetched again on first use if this fails.
		tctx, cancel := context.WithTimeout(ctx, 8*time.Second)
		if tok, err := tokens.Get(tctx); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
		}
		cancel()
	} else {
		slog.Warn("twitch credentials missing - twitch live checks and lookups disabled")
	}

	quota, err := youtubeapi.NewQuotaGuard(store, clk, cfg.QuotaResetSchedule)
	if err != nil {
		slog.Error("invalid QUOTA_RESET_SCHEDULE", slog.Any("err", err))
		os.Exit(1)
	}
	var data *youtubeapi.DataClient
	if cfg.YouTubeDataReady() {
		data, err = youtubeapi.NewDataClient(ctx, youtubeapi.Credentials{
			APIKey:       cfg.YTAPIKey,
			ClientID:     cfg.YTClientID,
			ClientSecret: cfg.YTClientSecret,
			RefreshToken: cfg.YTRefreshToken,
		}, ytHTTP)
		if err != nil {
			slog.Error("youtube data client", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		slog.Warn("youtube data api credentials missing - content checks and youtube lookups disabled")
	}

	ytContent := &probe.YouTubeContent{Quota: quota}
	if data != nil {
		ytContent.Data = data
	}

	cat := catalog.New(store)
	res := resolver.New(resolver.NewYouTubeData(data, quota), &resolver.TwitchHelix{Finder: helix})

	tenants, err := tenant.Load(cfg.TenantsFile)
	if err != nil {
		slog.Error("failed to load tenants", slog.String("path", cfg.TenantsFile), slog.Any("err", err))
		os.Exit(1)
	}

	router := notify.NewRouter()
	router.Register("webhook", &notify.WebhookPoster{HTTPClient: httpclient.New(httpclient.Options{Name: "webhook", Timeout: 15 * time.Second})})
	if cfg.TwitchChatReady() {
		irc := notify.NewIRCPoster(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
		defer func() { _ = irc.Close() }()
		if cfg.TwitchChatRefreshable() {
			refresher, err := newChatRefresher(ctx, cfg, store, twitchHTTP, irc)
			if err != nil {
				slog.Error("twitch chat token refresher", slog.Any("err", err))
				os.Exit(1)
			}
			irc.TokenFunc = refresher.AccessToken
			refresher.Start(ctx)
		}
		router.Register("twitch", irc)
	}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegramPoster(cfg.TelegramBotToken, "", httpclient.New(httpclient.Options{Name: "telegram", Timeout: 15 * time.Second}))
		if err != nil {
			slog.Error("telegram sink", slog.Any("err", err))
			os.Exit(1)
		}
		router.Register("telegram", tg)
	}
	slog.Info("notification sinks ready", slog.Any("schemes", router.Schemes()))

	engine := poller.New(poller.Options{
		Store:          store,
		Catalog:        cat,
		Tenants:        tenants,
		YouTubeLive:    &probe.YouTubeLive{Page: &youtubeapi.LivePage{HTTPClient: ytHTTP}},
		YouTubeContent: ytContent,
		TwitchLive:     &probe.TwitchLive{Helix: helix},
		Poster:         router,
		Clock:          clk,
		Cadence: poller.Cadence{
			LiveRecheck:     cfg.PollInterval,
			PremiereRecheck: cfg.PremiereRecheckInterval,
			IdleRecheck:     cfg.IdleRecheckInterval,
			ContentEvery:    cfg.ContentCheckInterval,
			PremiereHorizon: poller.DefaultCadence().PremiereHorizon,
		},
		Policy:        policy,
		DefaultLocale: cfg.DefaultLocale,
		ProbeTimeout:  cfg.ProbeTimeout,
	})

	// Tenants still on the legacy layout are converted before their first cycle.
	for _, id := range tenants.IDs() {
		if n, err := cat.MigrateLegacy(ctx, id); err != nil {
			slog.Warn("legacy subscription migration failed", slog.String("tenant", id), slog.Any("err", err))
		} else if n > 0 {
			slog.Info("legacy subscriptions migrated", slog.String("tenant", id), slog.Int("count", n))
		}
	}

	sched := scheduler.NewTimerScheduler(store, clk)
	polls := scheduler.NewRecurring(sched, clk, pollTag, cfg.PollInterval, func(ctx context.Context, tenantID string) error {
		_, err := engine.RunCycle(ctx, tenantID)
		return err
	})
	if err := polls.Start(ctx, tenants.IDs()); err != nil {
		slog.Error("failed to start poll schedule", slog.Any("err", err))
		os.Exit(1)
	}

	go func() {
		err := tenants.Watch(ctx, func(ids []string) {
			if err := polls.Sync(ctx, ids); err != nil {
				slog.Error("poll schedule sync failed", slog.Any("err", err))
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("tenants watcher stopped", slog.Any("err", err))
		}
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	deps := server.Deps{
		Store:    store,
		Catalog:  cat,
		Resolver: res,
		Engine:   engine,
		Polls:    polls,
		Admin:    server.Admin{Token: cfg.AdminToken, Username: cfg.AdminUsername, Password: cfg.AdminPassword},
		Limits:   server.RateLimit{Disabled: !cfg.RateLimitEnabled, Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow},
		CORS:     server.CORS{Permissive: cfg.CORSPermissive, AllowedOrigins: cfg.CORSAllowedOrigins},
		Ready: []server.ReadyCheck{{Name: "notifier", Fn: func(context.Context) error {
			if len(router.Schemes()) == 0 {
				return errors.New("no notification sinks registered")
			}
			return nil
		}}},
	}
	go func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Warn("systemd notify failed", slog.Any("err", err))
	} else if sent {
		slog.Info("systemd notified ready")
	}

	// Block until shutdown signal
	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	slog.Info("shutting down")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"boxdisplay/internal/boxapi"
	"boxdisplay/internal/config"
	"boxdisplay/internal/epd"
	appLog "boxdisplay/internal/log"
	"boxdisplay/internal/model"
	"boxdisplay/internal/notify"
	"boxdisplay/internal/render"
	"boxdisplay/internal/session"
	"boxdisplay/internal/web"
)

const version = "0.1.0"

// connectTimeout bounds how long boot waits on the notification source.
const connectTimeout = 15 * time.Second

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath string
	listen     string
	driver     string
	logLevel   string
	once       bool
	dump       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.driver != "" {
		conf.Display.Driver = flags.driver
	}
	level := conf.Log.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	appLog.Info("boxdisplay starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"api_base", conf.API.Base,
		"api_timeout", conf.API.TimeoutDuration(),
		"driver", conf.Display.Driver,
		"size", fmt.Sprintf("%dx%d", conf.Display.Width, conf.Display.Height),
		"full_every", conf.Refresh.FullEvery,
		"poll_cron", conf.Refresh.PollCron,
		"full_cron", conf.Refresh.FullCron,
		"notify", conf.Notify.Source,
		"once", flags.once,
		"dump", flags.dump,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("boxdisplay stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("boxdisplay exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/boxdisplay/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.driver, "driver", "", "Panel driver: auto, spi, cgo or mock (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch, render and display once, then sleep the panel and exit")
	flag.BoolVar(&cfg.dump, "dump", false, "Write the first rendered frame to display.preview_path")

	flag.Parse()

	return cfg
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	drv, err := epd.Open(epd.Options{
		Name:        conf.Display.Driver,
		Width:       conf.Display.Width,
		Height:      conf.Display.Height,
		PreviewPath: conf.Display.PreviewPath,
	})
	if err != nil {
		return err
	}

	rnd, err := render.New(render.Options{
		Width:        conf.Display.Width,
		Height:       conf.Display.Height,
		Title:        conf.Display.Title,
		IconPath:     conf.Display.IconPath,
		FontPath:     conf.Display.FontPath,
		BoldFontPath: conf.Display.BoldFontPath,
		MaxNameChars: conf.Display.MaxNameChars,
	})
	if err != nil {
		_ = drv.Close()
		return err
	}

	api, err := boxapi.New(conf.API.Base, conf.API.TimeoutDuration())
	if err != nil {
		_ = drv.Close()
		return err
	}

	sess := session.New(drv, rnd, api, conf.Refresh.FullEvery)
	sess.ShowMessage(session.MsgBooting)

	if flags.once {
		defer sess.Park()
		sess.Boot(ctx)
		if flags.dump {
			dumpPreview(sess, conf.Display.PreviewPath)
		}
		return nil
	}
	defer sess.Shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	// abort stops whatever the group already runs before an early return.
	abort := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	src, err := newSource(conf, sess, func() { readyOnce.Do(func() { close(ready) }) })
	if err != nil {
		return err
	}
	if src != nil {
		sess.ShowMessage(session.MsgConnecting)
		srcDone := make(chan struct{})
		g.Go(func() error {
			defer close(srcDone)
			if err := src.Run(gctx); err != nil {
				// No reconnect: polling keeps the display current.
				appLog.Error("notification source stopped, continuing with polling", err, "source", src.Name())
			}
			return nil
		})
		if !waitSourceReady(gctx, ready, srcDone, connectTimeout) {
			return abort(nil)
		}
	}

	sess.Boot(gctx)
	if flags.dump {
		dumpPreview(sess, conf.Display.PreviewPath)
	}

	sched, err := newCron(gctx, conf, sess)
	if err != nil {
		return abort(err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	g.Go(func() error { return sess.Run(gctx) })

	srv := web.NewServer(conf, sess).HTTPServer()
	g.Go(func() error {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// waitSourceReady blocks until the source subscribed, stopped or timed out.
// It reports false only when ctx ended first.
func waitSourceReady(ctx context.Context, ready, done <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ready:
	case <-done:
	case <-t.C:
		appLog.Warn("notification source not ready, booting anyway", "timeout", timeout)
	case <-ctx.Done():
		return false
	}
	return true
}

// newSource builds the configured notification listener, or nil when
// real-time updates are off.
func newSource(conf *config.Config, sess *session.Session, onReady func()) (notify.Source, error) {
	handler := func(ctx context.Context, id model.SlotID) {
		if err := sess.Notify(ctx, id); err != nil {
			appLog.Error("notify failed", err, "box", id)
		}
	}

	switch conf.Notify.Source {
	case notify.SourcePusher:
		if conf.Pusher.AppKey == "" {
			appLog.Warn("pusher.app_key not set, real-time updates disabled")
			return nil, nil
		}
		return notify.NewPusher(notify.PusherOptions{
			AppKey:  conf.Pusher.AppKey,
			Cluster: conf.Pusher.Cluster,
			Channel: conf.Pusher.Channel,
			Events:  conf.Pusher.Events,
			OnReady: onReady,
		}, handler)
	case notify.SourceMQTT:
		return notify.NewMQTT(notify.MQTTOptions{
			Broker:   conf.MQTT.Broker,
			Topic:    conf.MQTT.Topic,
			ClientID: conf.MQTT.ClientID,
			OnReady:  onReady,
		}, handler)
	default:
		appLog.Info("real-time updates disabled", "source", conf.Notify.Source)
		return nil, nil
	}
}

// newCron schedules the poll loop and the periodic forced full refresh.
func newCron(ctx context.Context, conf *config.Config, sess *session.Session) (*cron.Cron, error) {
	c := cron.New()

	if conf.Refresh.PollCron != "" {
		if _, err := c.AddFunc(conf.Refresh.PollCron, func() {
			appLog.Debug("poll tick")
			sess.Refresh(ctx, false)
		}); err != nil {
			return nil, fmt.Errorf("poll_cron: %w", err)
		}
	}
	if conf.Refresh.FullCron != "" {
		if _, err := c.AddFunc(conf.Refresh.FullCron, func() {
			appLog.Info("scheduled full refresh")
			sess.RequestRender(true)
		}); err != nil {
			return nil, fmt.Errorf("full_cron: %w", err)
		}
	}
	return c, nil
}

func dumpPreview(sess *session.Session, path string) {
	if path == "" {
		appLog.Warn("dump requested but display.preview_path is empty")
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		appLog.Error("dump: create dir failed", err, "path", path)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		appLog.Error("dump: create file failed", err, "path", path)
		return
	}
	defer f.Close()
	if err := sess.EncodePreview(f); err != nil {
		appLog.Error("dump: encode failed", err, "path", path)
		return
	}
	appLog.Info("preview written", "path", path)
}

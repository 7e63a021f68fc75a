// Command spotconnectd is a standalone reference binary wiring the dealer
// transport, command handler, device-state manager, playback-state manager,
// and playback orchestrator together with in-memory/local-file
// collaborators, so the core can be smoke-tested without a real front-end
// process attached (spec.md §4.13).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kardianos/service"

	"github.com/hollowresonance/spotconnect/internal/command"
	"github.com/hollowresonance/spotconnect/internal/config"
	"github.com/hollowresonance/spotconnect/internal/connectstate"
	"github.com/hollowresonance/spotconnect/internal/dealer"
	"github.com/hollowresonance/spotconnect/internal/events"
	"github.com/hollowresonance/spotconnect/internal/playback"
	"github.com/hollowresonance/spotconnect/internal/queue"
)

const (
	serviceName        = "spotconnectd"
	serviceDisplayName = "Spotify Connect Core Daemon"
	serviceDescription = "Dealer transport, Connect control plane, and playback orchestrator for a Spotify Connect device"
)

// daemon implements kardianos/service.Interface for headless lifecycle
// management, mirroring the teacher's Windows-service wrapper shape.
type daemon struct {
	cfg    *config.Options
	cancel context.CancelFunc
}

func (d *daemon) Start(s service.Service) error {
	go d.run()
	return nil
}

func (d *daemon) Stop(s service.Service) error {
	slog.Info("service stop requested")
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

func (d *daemon) run() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	defer cancel()

	if err := runDaemon(ctx, d.cfg); err != nil {
		slog.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (default: "+config.DefaultConfigPath+")")
		doInstall   = flag.Bool("install", false, "install as a system service")
		doUninstall = flag.Bool("uninstall", false, "uninstall the system service")
		doRun       = flag.Bool("run", false, "run in foreground (non-service mode)")
		tracksDir   = flag.String("tracks-dir", "./tracks", "directory of local .pcm files for the demo track source")
		bearerToken = flag.String("token", "", "static bearer token for the demo auth provider")
		dealerHost  = flag.String("dealer-host", "", "dealer host:port for the demo AP resolver")
	)
	flag.Parse()

	initLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	initLogger(cfg.LogLevel)

	svcConfig := &service.Config{
		Name:        serviceName,
		DisplayName: serviceDisplayName,
		Description: serviceDescription,
		Arguments:   []string{"-run"},
	}

	d := &daemon{cfg: cfg}
	svc, err := service.New(d, svcConfig)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	switch {
	case *doInstall:
		if err := svc.Install(); err != nil {
			slog.Error("failed to install service", "error", err)
			os.Exit(1)
		}
		fmt.Println("service installed:", serviceName)
		return

	case *doUninstall:
		if err := svc.Stop(); err != nil {
			slog.Warn("failed to stop service (may not be running)", "error", err)
		}
		if err := svc.Uninstall(); err != nil {
			slog.Error("failed to uninstall service", "error", err)
			os.Exit(1)
		}
		fmt.Println("service uninstalled:", serviceName)
		return

	case *doRun:
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		opts := runOptions{tracksDir: *tracksDir, bearerToken: *bearerToken, dealerHost: *dealerHost}
		if err := runDaemonWithDemoCollaborators(ctx, cfg, opts); err != nil {
			slog.Error("daemon exited with error", "error", err)
			os.Exit(1)
		}
		return

	default:
		if service.Interactive() {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			fmt.Println("spotconnectd running. Press Ctrl+C to stop.")
			opts := runOptions{tracksDir: *tracksDir, bearerToken: *bearerToken, dealerHost: *dealerHost}
			if err := runDaemonWithDemoCollaborators(ctx, cfg, opts); err != nil {
				fmt.Printf("daemon error: %v\n", err)
				fmt.Println("Press Enter to exit...")
				bufio.NewReader(os.Stdin).ReadBytes('\n')
				os.Exit(1)
			}
		} else {
			if err := svc.Run(); err != nil {
				slog.Error("service run failed", "error", err)
				os.Exit(1)
			}
		}
	}
}

type runOptions struct {
	tracksDir   string
	bearerToken string
	dealerHost  string
}

// runDaemon satisfies the service.Interface callback shape; it runs the
// demo collaborators with fixed options (tracks read from ./tracks).
func runDaemon(ctx context.Context, cfg *config.Options) error {
	return runDaemonWithDemoCollaborators(ctx, cfg, runOptions{tracksDir: "./tracks"})
}

// runDaemonWithDemoCollaborators wires every component together: dealer
// transport -> command handler -> {device-state, playback-state} ->
// orchestrator, using the fake/local-file collaborators in
// collaborators.go so the binary runs standalone (spec.md §4.13).
func runDaemonWithDemoCollaborators(ctx context.Context, cfg *config.Options, ro runOptions) error {
	logger := slog.Default()

	deviceID := uuid.NewString()

	auth := &staticAuthProvider{token: ro.bearerToken}
	resolver := &staticResolver{hosts: []string{ro.dealerHost}}
	if ro.dealerHost == "" {
		resolver.hosts = nil
	}

	dealerClient := dealer.NewClient(dealer.ClientOptions{
		PingInterval:          cfg.PingInterval,
		PongTimeout:           cfg.PongTimeout,
		EnableAutoReconnect:   cfg.EnableAutoReconnect,
		InitialReconnectDelay: cfg.InitialReconnectDelay,
		MaxReconnectDelay:     cfg.MaxReconnectDelay,
		MaxReconnectAttempts:  cfg.MaxReconnectAttempts,
	}, resolver, auth, logger)

	cmdHandler := command.NewHandler(dealerClient.Frames(), dealerClient.SendReply, cfg.CommandQueueCapacity, logger)

	stateManager := connectstate.NewManager(cfg.PositionChangeThreshold, logger)

	descriptor := connectstate.DeviceDescriptor{
		DeviceID:        deviceID,
		Name:            cfg.DeviceName,
		Type:            cfg.DeviceType,
		SoftwareVersion: cfg.SoftwareVersion,
		ClientID:        cfg.ClientID,
		SpircVersion:    "3.2.0",
		SupportedTypes:  []string{"audio/track", "audio/episode"},
		Volume:          uint32(cfg.InitialVolume),
		VolumeSteps:     cfg.VolumeSteps,
	}
	deviceManager := connectstate.NewDeviceManager(descriptor, "https://guc-spclient.spotify.com", auth, stateManager, logger)

	reporter := events.NewReporter(nil, deviceID, logger)

	orchestrator := playback.NewOrchestrator(playback.Options{
		TrackSource:   &localFileTrackSource{dir: ro.tracksDir},
		NewDecoder:    func() playback.Decoder { return &passthroughDecoder{} },
		NewProcessing: func() playback.Processing { return identityProcessing{} },
		Sink:          discardSink{},
		States:        stateManager,
		Reporter:      reporter,
		Logger:        logger,
	})

	orchestrator.Queue().OnNeedsMoreTracks(func() {
		logger.Debug("queue needs more tracks; no context resolver wired in the demo binary")
	})

	routeMessages(ctx, dealerClient, deviceManager, stateManager, logger)
	dispatchCommands(ctx, cmdHandler, orchestrator, logger)

	go cmdHandler.Run(ctx)

	logger.Info("spotconnectd starting", "device_id", deviceID)
	err := dealerClient.Run(ctx)
	logger.Info("spotconnectd stopped")
	return err
}

// routeMessages subscribes to the dealer's MESSAGE frames and feeds
// connection-id assignment, volume changes, and cluster updates to C7/C8.
func routeMessages(ctx context.Context, client *dealer.Client, deviceManager *connectstate.DeviceManager, stateManager *connectstate.Manager, logger *slog.Logger) {
	ch, cancel := client.Frames().Subscribe(64)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-ch:
				if !ok {
					return
				}
				if f.Type != dealer.FrameMessage {
					continue
				}
				handleMessage(ctx, f, deviceManager, stateManager, logger)
			}
		}
	}()
}

func handleMessage(ctx context.Context, f *dealer.Frame, deviceManager *connectstate.DeviceManager, stateManager *connectstate.Manager, logger *slog.Logger) {
	switch {
	case strings.HasPrefix(f.URI, "hm://pusher/v1/connections/"):
		connID := headerValue(f.Headers, "Spotify-Connection-Id")
		if connID == "" {
			logger.Warn("connection push message missing Spotify-Connection-Id header")
			return
		}
		if err := deviceManager.SetConnectionID(ctx, connID); err != nil {
			logger.Warn("failed to announce new connection", "error", err)
		}

	case f.URI == "hm://connect-state/v1/connect/volume":
		if err := deviceManager.HandleSetVolume(ctx, f.Payload); err != nil {
			logger.Warn("failed to handle set_volume", "error", err)
		}

	case f.URI == "hm://connect-state/v1/cluster":
		if _, err := stateManager.IngestCluster(f.Payload, time.Now().UnixMilli()); err != nil {
			logger.Warn("failed to ingest cluster update", "error", err)
		}
	}
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

var allCommandKinds = []command.Kind{
	command.Play, command.Pause, command.Resume, command.Seek,
	command.SkipNext, command.SkipPrev, command.SetShuffle,
	command.SetRepeatContext, command.SetRepeatTrack, command.SetOptions,
	command.SetQueue, command.AddToQueue, command.UpdateContext, command.Transfer,
}

// dispatchCommands subscribes one worker per command kind to the handler's
// fan-out and drives the orchestrator accordingly, replying to every
// command exactly once.
func dispatchCommands(ctx context.Context, handler *command.Handler, orchestrator *playback.Orchestrator, logger *slog.Logger) {
	for _, kind := range allCommandKinds {
		ch, cancel := handler.Subscribe(kind, 16)
		go func(kind command.Kind, ch <-chan *command.Command) {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case cmd, ok := <-ch:
					if !ok {
						return
					}
					orchestrator.SetLastCommandDevice(cmd.Envelope.SenderDeviceID)
					result := dispatchOne(ctx, orchestrator, cmd, logger)
					if cmd.Envelope.ReplyKey != "" {
						if err := handler.Replies().SendReply(cmd.Envelope.ReplyKey, result); err != nil {
							logger.Warn("failed to send reply", "error", err)
						}
					}
				}
			}
		}(kind, ch)
	}
}

func dispatchOne(ctx context.Context, o *playback.Orchestrator, cmd *command.Command, logger *slog.Logger) command.ReplyResult {
	var err error

	switch cmd.Kind {
	case command.Play:
		req := playback.PlayRequest{
			ContextURI:            cmd.ContextURI,
			SkipToIndex:           cmd.SkipToIndex,
			SkipToURI:             cmd.SkipToURI,
			SkipToUID:             cmd.SkipToUID,
			PositionMs:            cmd.PositionMs,
			ShuffleOverride:       cmd.ShuffleOverride,
			RepeatContextOverride: cmd.RepeatContextOverride,
			RepeatTrackOverride:   cmd.RepeatTrackOverride,
		}
		for _, t := range cmd.Tracks {
			req.Tracks = append(req.Tracks, playback.TrackRef{URI: t.URI, UID: t.UID})
		}
		err = o.Play(ctx, req)

	case command.Pause:
		err = o.Pause(ctx)
	case command.Resume:
		err = o.Resume(ctx)
	case command.Seek:
		if cmd.PositionMs == nil {
			return command.ContextPlayerError
		}
		err = o.Seek(ctx, *cmd.PositionMs)
	case command.SkipNext:
		err = o.SkipNext(ctx)
	case command.SkipPrev:
		err = o.SkipPrevious(ctx)
	case command.SetShuffle:
		if cmd.BoolValue != nil {
			o.SetShuffle(*cmd.BoolValue)
		}
	case command.SetRepeatContext:
		if cmd.BoolValue != nil {
			o.SetRepeatContext(*cmd.BoolValue)
		}
	case command.SetRepeatTrack:
		if cmd.BoolValue != nil {
			o.SetRepeatTrack(*cmd.BoolValue)
		}
	case command.SetOptions:
		if cmd.OptShuffling != nil {
			o.SetShuffle(*cmd.OptShuffling)
		}
		if cmd.OptRepeatContext != nil {
			o.SetRepeatContext(*cmd.OptRepeatContext)
		}
		if cmd.OptRepeatTrack != nil {
			o.SetRepeatTrack(*cmd.OptRepeatTrack)
		}
	case command.SetQueue:
		tracks := make([]playback.TrackRef, len(cmd.QueueURIs))
		for i, uri := range cmd.QueueURIs {
			tracks[i] = playback.TrackRef{URI: uri}
		}
		appendQueueTracks(o, tracks)
	case command.AddToQueue:
		appendQueueTracks(o, []playback.TrackRef{{URI: cmd.TrackURI}})
	case command.UpdateContext:
		logger.Debug("update_context received", "context_uri", cmd.ContextURI, "session_id", cmd.SessionID)
	case command.Transfer:
		logger.Debug("transfer command received", "bytes", len(cmd.TransferState))
	default:
		return command.DeviceDoesNotSupportCommand
	}

	if err != nil {
		logger.Warn("command failed", "kind", cmd.Kind, "error", err)
		return command.ContextPlayerError
	}
	return command.Success
}

func appendQueueTracks(o *playback.Orchestrator, refs []playback.TrackRef) {
	tracks := make([]queue.QueueTrack, len(refs))
	for i, r := range refs {
		tracks[i] = queue.QueueTrack{URI: r.URI, UID: r.UID, IsPlayable: true}
	}
	o.Queue().AppendTracks(tracks)
}

func initLogger(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

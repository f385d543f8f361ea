// Command boxgame is a headless port of ggrs's own box_game example: a
// handful of ships drifting under thrust and rotation input, run through
// whichever session type the config file asks for. It exists to exercise
// every public session in a real process rather than to be a game anyone
// plays; input is synthesized deterministically instead of read from a
// keyboard, so a match is fully reproducible from its config alone.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	ggrs "github.com/gschup/ggrs-sub000"
	"github.com/gschup/ggrs-sub000/session"
	"github.com/gschup/ggrs-sub000/transport"
)

const simulationFPS = 60

func main() {
	configPath := flag.String("config", "", "path to a boxgame TOML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boxgame: loading config: %v\n", err)
		os.Exit(1)
	}

	log, closeLog := newLogger(cfg)
	defer closeLog()

	metrics := startMetricsServer(cfg, log)

	if err := run(cfg, log, metrics); err != nil {
		log.Errorw("boxgame exited with an error", "error", err)
		os.Exit(1)
	}
}

// newLogger builds a zap.SugaredLogger that writes to stdout and to a
// lumberjack-rotated file, the same split the rest of this module's
// services use.
func newLogger(cfg Config) (*zap.SugaredLogger, func()) {
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogBackups,
		Compress:   true,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stdout), zapcore.DebugLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), zapcore.DebugLevel),
	)

	logger := zap.New(core)
	return logger.Sugar(), func() {
		_ = logger.Sync()
		_ = rotator.Close()
	}
}

// startMetricsServer registers a session.Metrics on its own registry and
// serves it over HTTP; nil is returned (and nothing listens) if the config
// leaves MetricsAddr empty.
func startMetricsServer(cfg Config, log *zap.SugaredLogger) *session.Metrics {
	if cfg.MetricsAddr == "" {
		return nil
	}

	reg := prometheus.NewRegistry()
	metrics := session.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server stopped", "error", err)
		}
	}()

	log.Infow("metrics server listening", "addr", cfg.MetricsAddr)
	return metrics
}

func run(cfg Config, log *zap.SugaredLogger, metrics *session.Metrics) error {
	switch cfg.Mode {
	case "p2p":
		return runP2P(cfg, log, metrics)
	case "synctest":
		return runSyncTest(cfg, log)
	case "spectator":
		return runSpectator(cfg, log)
	default:
		return fmt.Errorf("boxgame: unknown mode %q (want p2p, synctest, or spectator)", cfg.Mode)
	}
}

// resolveAddr turns a players/spectators config entry into a net.Addr,
// treating the literal string "local" as this process's own seat rather
// than a remote address to dial.
func resolveAddr(entry string) (net.Addr, bool, error) {
	if entry == "local" {
		return nil, true, nil
	}
	addr, err := net.ResolveUDPAddr("udp", entry)
	if err != nil {
		return nil, false, fmt.Errorf("boxgame: resolving address %q: %w", entry, err)
	}
	return addr, false, nil
}

func runP2P(cfg Config, log *zap.SugaredLogger, metrics *session.Metrics) error {
	if len(cfg.Players) == 0 {
		return errors.New("boxgame: p2p mode requires at least one entry in players")
	}

	socket, err := transport.Bind(uint16(cfg.ListenPort), log)
	if err != nil {
		return fmt.Errorf("boxgame: binding socket: %w", err)
	}
	defer socket.Close()

	builder := session.NewP2PBuilder[Input, BoxState](len(cfg.Players), socket, log).
		WithFPS(cfg.FPS).
		WithSparseSavingMode(cfg.SparseSaving).
		WithDisconnectTimeout(cfg.DisconnectTimeout).
		WithDisconnectNotifyDelay(cfg.DisconnectNotify).
		WithMetrics(metrics)

	if cfg.DesyncDetection {
		builder = builder.WithDesyncDetection(ggrs.DesyncDetection{Enabled: true, Interval: cfg.ChecksumEvery})
	}

	localHandle := ggrs.PlayerHandle(-1)
	for i, entry := range cfg.Players {
		addr, local, err := resolveAddr(entry)
		if err != nil {
			return err
		}
		handle := ggrs.PlayerHandle(i)
		if local {
			builder = builder.AddPlayer(ggrs.PlayerTypeLocal, handle, nil)
			localHandle = handle
		} else {
			builder = builder.AddPlayer(ggrs.PlayerTypeRemote, handle, addr)
		}
	}
	if localHandle < 0 {
		return errors.New(`boxgame: p2p mode requires exactly one players entry to be "local"`)
	}
	if cfg.InputDelay > 0 {
		builder = builder.WithInputDelay(cfg.InputDelay)
	}

	for i, entry := range cfg.Spectators {
		addr, _, err := resolveAddr(entry)
		if err != nil {
			return err
		}
		builder = builder.AddPlayer(ggrs.PlayerTypeSpectator, ggrs.PlayerHandle(len(cfg.Players)+i), addr)
	}

	sess, err := builder.StartSession()
	if err != nil {
		return fmt.Errorf("boxgame: starting session: %w", err)
	}

	state := NewBoxState(len(cfg.Players))
	loop(cfg, log, func() ([]ggrs.Event, ggrs.SessionState, ggrs.Frame, error) {
		if err := sess.AddLocalInput(localHandle, synthesizeInput(state.Frame)); err != nil {
			return nil, sess.CurrentState(), sess.CurrentFrame(), err
		}
		requests, err := sess.Advance()
		if err != nil {
			return nil, sess.CurrentState(), sess.CurrentFrame(), err
		}
		handleRequests(requests, &state)
		return sess.Poll(), sess.CurrentState(), sess.CurrentFrame(), nil
	})

	return nil
}

func runSyncTest(cfg Config, log *zap.SugaredLogger) error {
	numPlayers := len(cfg.Players)
	if numPlayers == 0 {
		numPlayers = 2
	}

	sess, err := session.NewSyncTestBuilder[Input, BoxState](numPlayers).StartSession()
	if err != nil {
		return fmt.Errorf("boxgame: starting synctest session: %w", err)
	}

	state := NewBoxState(numPlayers)
	for tick := 0; ; tick++ {
		inputs := make([]Input, numPlayers)
		for h := range inputs {
			inputs[h] = synthesizeInput(state.Frame + ggrs.Frame(h))
		}

		requests, err := sess.Advance(inputs)
		if err != nil {
			var mismatch ggrs.MismatchedChecksumError
			if errors.As(err, &mismatch) {
				log.Errorw("determinism check failed", "frame", mismatch.Frame)
			}
			return err
		}
		handleRequests(requests, &state)

		if tick%int(simulationFPS) == 0 {
			log.Infow("synctest tick", "frame", sess.CurrentFrame())
		}
		time.Sleep(time.Second / simulationFPS)
	}
}

func runSpectator(cfg Config, log *zap.SugaredLogger) error {
	if cfg.HostAddr == "" {
		return errors.New("boxgame: spectator mode requires host_addr")
	}
	hostAddr, err := net.ResolveUDPAddr("udp", cfg.HostAddr)
	if err != nil {
		return fmt.Errorf("boxgame: resolving host_addr: %w", err)
	}

	socket, err := transport.Bind(uint16(cfg.ListenPort), log)
	if err != nil {
		return fmt.Errorf("boxgame: binding socket: %w", err)
	}
	defer socket.Close()

	numPlayers := len(cfg.Players)
	if numPlayers == 0 {
		numPlayers = 2
	}

	sess := session.NewSpectator[Input, BoxState](numPlayers, socket, hostAddr, nil, log)
	state := NewBoxState(numPlayers)

	loop(cfg, log, func() ([]ggrs.Event, ggrs.SessionState, ggrs.Frame, error) {
		requests, err := sess.Advance()
		if err != nil && !errors.Is(err, ggrs.ErrPredictionThreshold) {
			return nil, sess.CurrentState(), sess.CurrentFrame(), err
		}
		handleRequests(requests, &state)
		return sess.Poll(), sess.CurrentState(), sess.CurrentFrame(), nil
	})

	return nil
}

// handleRequests executes a session's SaveRequest/LoadRequest/AdvanceRequest
// stream against state, exactly as the library's doc comments require:
// every request, in order, before the next Advance call.
func handleRequests(requests []ggrs.Request, state *BoxState) {
	for _, req := range requests {
		switch r := req.(type) {
		case ggrs.SaveRequest[BoxState]:
			r.Cell.Save(*state, state.checksum())
		case ggrs.LoadRequest[BoxState]:
			*state = r.Cell.Load()
		case ggrs.AdvanceRequest[Input]:
			state.Advance(r.Inputs)
		}
	}
}

// loop runs tick at a steady cfg.FPS cadence until tick returns an error
// other than ggrs.ErrPredictionThreshold or ggrs.ErrNotSynchronized,
// logging every event it surfaces along the way. It mirrors the
// accumulator pattern the original's macroquad main loop uses to keep
// ticks synchronized across peers without a dedicated timer goroutine.
func loop(cfg Config, log *zap.SugaredLogger, tick func() ([]ggrs.Event, ggrs.SessionState, ggrs.Frame, error)) {
	frameDuration := time.Second / time.Duration(cfg.FPS)
	var accumulator time.Duration
	last := time.Now()

	for {
		now := time.Now()
		accumulator += now.Sub(last)
		last = now

		for accumulator >= frameDuration {
			accumulator -= frameDuration

			events, state, frame, err := tick()
			for _, ev := range events {
				logEvent(log, ev)
			}
			if err != nil {
				if errors.Is(err, ggrs.ErrPredictionThreshold) {
					log.Debugw("frame skipped, waiting on remote input", "frame", frame)
					continue
				}
				if errors.Is(err, ggrs.ErrNotSynchronized) {
					continue
				}
				log.Errorw("advance failed", "error", err)
				return
			}
			if state == ggrs.SessionStateRunning && frame%(simulationFPS*5) == 0 {
				log.Infow("tick", "frame", frame)
			}
		}

		time.Sleep(time.Millisecond)
	}
}

func logEvent(log *zap.SugaredLogger, event ggrs.Event) {
	switch ev := event.(type) {
	case ggrs.SynchronizingEvent:
		log.Infow("synchronizing", "handle", ev.Handle, "count", ev.Count, "total", ev.Total)
	case ggrs.SynchronizedEvent:
		log.Infow("synchronized", "handle", ev.Handle)
	case ggrs.DisconnectedEvent:
		log.Warnw("player disconnected", "handle", ev.Handle)
	case ggrs.NetworkInterruptedEvent:
		log.Warnw("network interrupted", "handle", ev.Handle, "timeout", ev.DisconnectTimeout)
	case ggrs.NetworkResumedEvent:
		log.Infow("network resumed", "handle", ev.Handle)
	case ggrs.WaitRecommendationEvent:
		log.Debugw("wait recommended", "skip_frames", ev.SkipFrames)
	case ggrs.DesyncDetectedEvent:
		log.Errorw("desync detected", "frame", ev.Frame, "handle", ev.Handle,
			"local_checksum", ev.LocalChecksum, "remote_checksum", ev.RemoteChecksum)
	}
}

// synthesizeInput produces a deterministic, reproducible control pattern so
// a match can run headless without a keyboard: thrust for three frames out
// of four, turning in a slow back-and-forth sweep.
func synthesizeInput(frame ggrs.Frame) Input {
	var in Input
	if frame%4 != 0 {
		in |= InputUp
	}
	if (frame/30)%2 == 0 {
		in |= InputLeft
	} else {
		in |= InputRight
	}
	return in
}

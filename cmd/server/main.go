package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"skirmish.io/internal/persistence/indexdb"
	"skirmish.io/internal/persistence/ticklog"
	"skirmish.io/internal/sim/ingress"
	"skirmish.io/internal/sim/store"
	"skirmish.io/internal/sim/systems"
	"skirmish.io/internal/sim/tick"
	"skirmish.io/internal/sim/tuning"
	"skirmish.io/internal/transport/api"
	"skirmish.io/internal/transport/ws"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (optional; defaults apply when empty)")
		addr       = flag.String("addr", "", "http listen address (overrides net.addr)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides data.dir)")
		tickMS     = flag.Int("tick_ms", 0, "tick interval in milliseconds (overrides tick_interval_ms)")
		publicURL  = flag.String("public_url", "", "externally visible base url used in /register responses")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite tick index")
		disableLog = flag.Bool("disable_ticklog", false, "disable the compressed tick log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	applyFlags(&tune, *addr, *dataDir, *tickMS, *publicURL, *disableDB, *disableLog)
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	runID := uuid.NewString()
	logger.Printf("run %s: tick=%s queue=%d speed=%.3f", runID, tune.TickInterval(), tune.QueueCapacity, tune.UnitSpeed)

	eng := systems.NewEngine(tune.SystemsConfig())
	queue := ingress.New(tune.QueueCapacity)
	snaps := store.New(eng.Snapshot())

	rec, err := openRecorder(tune, runID, logger)
	if err != nil {
		logger.Fatalf("open records: %v", err)
	}
	defer rec.Close()

	driver := tick.NewDriver(eng, queue, snaps, tick.Config{Interval: tune.TickInterval()}, tick.Hooks{AfterStep: rec.AfterStep}, logger)

	hub := ws.NewHub(queue, snaps, ws.Config{
		ClientQueue:       tune.Net.ClientQueue,
		BroadcastInterval: tune.BroadcastInterval(),
		CommandsPerSecond: tune.Net.CommandsPerSecond,
		CommandBurst:      tune.Net.CommandBurst,
	}, logger)

	apiCfg := api.Config{
		Queue:             queue,
		Store:             snaps,
		Hub:               hub,
		Driver:            driver,
		PublicURL:         tune.Net.PublicURL,
		CommandsPerSecond: tune.Net.CommandsPerSecond,
		CommandBurst:      tune.Net.CommandBurst,
		EnableAdmin:       envBool("SKIRMISH_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		Logger:            logger,
	}
	if rec.index != nil {
		apiCfg.Index = rec.index
	}
	if rec.ticks != nil {
		apiCfg.TickLog = rec.ticks
	}
	if !apiCfg.EnableAdmin {
		logger.Printf("admin endpoints disabled (SKIRMISH_ENABLE_ADMIN_HTTP=false)")
	}

	ctx, cancel := signalContext()
	defer cancel()

	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		if err := driver.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("simulation stopped: %v", err)
		}
	}()
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              tune.Net.Addr,
		Handler:           api.New(apiCfg).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		hub.Close()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", tune.Net.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-simDone
	logger.Printf("stopped at tick %d", snaps.Tick())
}

func applyFlags(t *tuning.Tuning, addr, dataDir string, tickMS int, publicURL string, disableDB, disableLog bool) {
	if s := strings.TrimSpace(addr); s != "" {
		t.Net.Addr = s
	}
	if s := strings.TrimSpace(dataDir); s != "" {
		t.Data.Dir = s
	}
	if tickMS > 0 {
		t.TickIntervalMS = tickMS
	}
	if s := strings.TrimSpace(publicURL); s != "" {
		t.Net.PublicURL = strings.TrimRight(s, "/")
	}
	if disableDB {
		t.Data.IndexDB = false
	}
	if disableLog {
		t.Data.TickLog = false
	}
}

// recorder fans every completed tick out to the tick log and the index.
type recorder struct {
	ticks *ticklog.TickLogger
	index *indexdb.SQLiteIndex
}

func openRecorder(t tuning.Tuning, runID string, logger *log.Logger) (*recorder, error) {
	r := &recorder{}
	if t.Data.TickLog {
		r.ticks = ticklog.NewTickLogger(t.Data.Dir, runID, logger)
	}
	if t.Data.IndexDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(t.Data.Dir, "index.sqlite"), runID)
		if err != nil {
			return nil, err
		}
		r.index = idx
	}
	return r, nil
}

func (r *recorder) AfterStep(res tick.StepResult) {
	if r.ticks == nil && r.index == nil {
		return
	}
	entry := ticklog.EntryFromStep(res)
	if r.ticks != nil {
		r.ticks.Record(entry)
	}
	r.index.WriteTick(entry)
}

func (r *recorder) Close() {
	if r.ticks != nil {
		_ = r.ticks.Close()
	}
	if r.index != nil {
		_ = r.index.Close()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/infraprobe/xnuperf/internal/config"
	"github.com/infraprobe/xnuperf/internal/counters"
	"github.com/infraprobe/xnuperf/internal/kdebug"
	"github.com/infraprobe/xnuperf/internal/kpep"
	"github.com/infraprobe/xnuperf/internal/kperf"
	"github.com/infraprobe/xnuperf/internal/sampling"
	"github.com/infraprobe/xnuperf/pkg/logutil"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	logutil.InitLogger()

	logger := logutil.GetLogger()
	defer logger.Sync()

	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigch
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	cfg := config.LoadConfig()

	b, err := kperf.Bind()
	if err != nil {
		logger.Fatal("Error binding kperf frameworks", zap.Error(err))
	}

	catalog, err := kpep.Open(b)
	if err != nil {
		logger.Fatal("Error opening pmc database", zap.Error(err))
	}
	defer catalog.Close()

	events, err := catalog.ResolveAll(kpep.DefaultEvents())
	if err != nil {
		logger.Fatal("Error resolving events", zap.Error(err))
	}

	cc, err := counters.Build(b, catalog.DB(), events)
	if err != nil {
		logger.Fatal("Error building counter configuration", zap.Error(err))
	}

	switch cfg.Mode {
	case config.ModeTrace:
		runTrace(ctx, b, cc, cfg)
	default:
		runSelf(b, cc)
	}
}

// runSelf counts a workload on the current thread and reports the deltas.
func runSelf(b *kperf.Binding, cc *counters.Config) {
	logger := logutil.GetLogger()

	s := counters.NewSession(b, cc)
	if err := s.Configure(); err != nil {
		logger.Fatal("Error configuring counters", zap.Error(err))
	}
	if err := s.Start(); err != nil {
		logger.Fatal("Error starting counters", zap.Error(err))
	}

	workload()

	deltas, err := s.Stop()
	if err != nil {
		logger.Fatal("Error reading counters", zap.Error(err))
	}
	logger.Info("counters value", deltaFields(deltas)...)
}

// runTrace samples the target process (or all threads) over the configured
// window and reports per-thread deltas plus the grand total.
func runTrace(ctx context.Context, b *kperf.Binding, cc *counters.Config, cfg *config.Config) {
	logger := logutil.GetLogger()

	sess := sampling.NewSession(b, kdebug.NewChannel(b), cc, sampling.Options{
		TargetPID:    cfg.TargetPID,
		Duration:     cfg.Duration,
		SamplePeriod: cfg.SamplePeriod,
	})
	rep, err := sess.Run(ctx)
	if err != nil {
		logger.Fatal("Error running sampling session", zap.Error(err))
	}

	for _, t := range rep.Threads {
		fields := []zap.Field{
			zap.Uint64("tid", t.TID),
			zap.Float64("trace_time_s", float64(t.ElapsedNS)/1e9),
		}
		fields = append(fields, deltaFields(t.Deltas)...)
		logger.Info("thread counters", fields...)
	}
	logger.Info("all threads", deltaFields(rep.Total)...)
}

func deltaFields(deltas []counters.EventDelta) []zap.Field {
	fields := make([]zap.Field, 0, len(deltas))
	for _, d := range deltas {
		fields = append(fields, zap.Uint64(d.Alias, d.Value))
	}
	return fields
}

// workload is the code region measured in self mode.
func workload() {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < 100000; i++ {
		if r.Uint32()%2 == 1 {
			r.Uint32()
		}
	}
}

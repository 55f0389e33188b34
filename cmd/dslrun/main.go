// Command dslrun validates, compiles, migrates, and runs strategy scripts
// from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/strataquant/dslengine/cache"
	"github.com/strataquant/dslengine/config"
	"github.com/strataquant/dslengine/dsl/exec"
	"github.com/strataquant/dslengine/dsl/runtime"
	"github.com/strataquant/dslengine/internal/feed"
	"github.com/strataquant/dslengine/lib/telemetry"
	"github.com/strataquant/dslengine/series"
)

type paramFlags map[string]any

func (p paramFlags) String() string { return fmt.Sprintf("%v", map[string]any(p)) }

func (p paramFlags) Set(raw string) error {
	name, value, ok := strings.Cut(raw, "=")
	if !ok {
		return fmt.Errorf("parameter %q is not name=value", raw)
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		p[name] = n
		return nil
	}
	if b, err := strconv.ParseBool(value); err == nil {
		p[name] = b
		return nil
	}
	p[name] = value
	return nil
}

func main() {
	var (
		mode       = flag.String("mode", "run", "one of validate, compile, migrate, run")
		scriptPath = flag.String("script", "", "path to the strategy script")
		dataPath   = flag.String("data", "", "path to an OHLCV csv file (run mode)")
		configPath = flag.String("config", "", "optional yaml config file")
		fromVer    = flag.String("from", "", "script language version (migrate mode)")
		symbol     = flag.String("symbol", "", "instrument symbol")
		timeframe  = flag.String("timeframe", "", "bar interval label")
		params     = paramFlags{}
	)
	flag.Var(params, "param", "script parameter as name=value, repeatable")
	flag.Parse()

	logger := log.New(os.Stderr, "dslrun ", log.LstdFlags|log.Lmsgprefix)
	if err := run(*mode, *scriptPath, *dataPath, *configPath, *fromVer, *symbol, *timeframe, params, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(mode, scriptPath, dataPath, configPath, fromVer, symbol, timeframe string, params paramFlags, logger *log.Logger) error {
	if scriptPath == "" {
		return fmt.Errorf("-script is required")
	}
	source, err := os.ReadFile(scriptPath) // #nosec G304 -- operator provided path.
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	cfg := config.FromEnv()
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	store, err := buildStore(cfg.Cache)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := runtime.New(cfg, store, runtime.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(closeCtx)
	}()

	switch mode {
	case "validate":
		return emit(svc.Validate(ctx, string(source)))
	case "compile":
		res, err := svc.Compile(ctx, string(source))
		if err != nil {
			return err
		}
		return emit(res)
	case "migrate":
		if fromVer == "" {
			return fmt.Errorf("-from is required in migrate mode")
		}
		res, err := svc.Migrate(ctx, string(source), fromVer)
		if err != nil {
			return err
		}
		return emit(res)
	case "run":
		frame, err := loadFrame(dataPath)
		if err != nil {
			return err
		}
		opts := []exec.ContextOption{}
		if symbol != "" {
			opts = append(opts, exec.WithSymbol(symbol))
		}
		if timeframe != "" {
			opts = append(opts, exec.WithTimeframe(timeframe))
		}
		res, err := svc.Execute(ctx, string(source), frame, params, opts...)
		if err != nil {
			return err
		}
		return emitRun(res)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func buildStore(cfg config.CacheConfig) (cache.Store, error) {
	l1 := cache.NewMemory(cfg.Capacity)
	if cfg.Dir == "" {
		return l1, nil
	}
	l2, err := cache.NewBadger(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return cache.NewTiered(l1, l2, cache.WithBackfillTTL(cfg.TTL))
}

func loadFrame(dataPath string) (*series.Frame, error) {
	if dataPath == "" {
		return nil, fmt.Errorf("-data is required in run mode")
	}
	return feed.LoadCSV(dataPath)
}

func emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emitRun flattens the execution outcome into a printable report: the
// result series tail, commands, and resource usage.
func emitRun(res *runtime.ExecuteResult) error {
	type report struct {
		CorrelationID string          `json:"correlation_id"`
		CacheHit      bool            `json:"cache_hit"`
		ResultName    string          `json:"result_name,omitempty"`
		ResultLast    float64         `json:"result_last,omitempty"`
		ResultLength  int             `json:"result_length,omitempty"`
		Commands      []exec.TradeCommand `json:"commands,omitempty"`
		Iterations    int64           `json:"iterations"`
		MemoryUsed    int64           `json:"memory_used_bytes"`
		DurationMS    float64         `json:"duration_ms"`
	}
	out := report{
		CorrelationID: res.CorrelationID,
		CacheHit:      res.Compile != nil && res.Compile.CacheHit,
		Commands:      res.Result.Commands,
		Iterations:    res.Result.Iterations,
		MemoryUsed:    res.Result.MemoryUsed,
		DurationMS:    float64(res.Result.Duration.Microseconds()) / 1000,
	}
	if res.Result.Series != nil {
		out.ResultName = res.Result.Series.Name()
		out.ResultLast = res.Result.Series.Last()
		out.ResultLength = res.Result.Series.Len()
	}
	return emit(out)
}

// Command tism-sim boots a TISM kernel on SimPlatform with the example workload
// registered, runs until interrupted, and prints a summary of the metrics
// gathered along the way. Grounded on original_source/main.c's registration and
// dual-core bring-up sequence, and on cmd/ublk-mem/main.go's flag-and-signal
// command-line lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/mjklaren/tism"
	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/eventlog"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/obs"
	"github.com/mjklaren/tism/internal/platform"
	"github.com/mjklaren/tism/tasks/example"
	"github.com/mjklaren/tism/tasks/watchdog"
)

const (
	buttonGPIO  = 15
	blinkerGPIO = platform.GPIOOnboardLED
)

func main() {
	var (
		verbose = flag.Bool("v", false, "Log every task step, not just errors")
		runFor  = flag.Duration("run-for", 0, "Stop automatically after this long (0 = run until interrupted)")
	)
	flag.Parse()

	cfg := config.DefaultConfig()

	logCfg := eventlog.DefaultConfig()
	if !*verbose {
		logCfg.Level = eventlog.LevelErrorOnly
	}

	plat := platform.NewSimPlatform()

	sys, err := tism.New(plat, cfg, logCfg)
	if err != nil {
		log.Fatalf("tism: failed to initialize system: %v", err)
	}

	metrics := obs.NewMetrics()
	sys = sys.WithObserver(obs.NewMetricsObserver(metrics))

	if err := registerWorkload(sys, cfg); err != nil {
		log.Fatalf("tism: failed to register tasks: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *runFor > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, *runFor)
		defer timeoutCancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("tism: received shutdown signal")
		cancel()
	}()

	fmt.Println("tism: system starting, press Ctrl+C to stop...")
	start := time.Now()
	runErr := sys.Run(ctx)
	elapsed := time.Since(start)

	printSummary(metrics, elapsed)

	if runErr != nil {
		log.Fatalf("tism: system stopped with error: %v", runErr)
	}
	fmt.Println("tism: system stopped cleanly.")
}

// registerWorkload wires up the example application tasks: a button producer
// wired to GPIO 15, forwarding edges to an LED blinker that also runs its own
// software timer (original_source/ExampleTask1.c and ExampleTask2.c), plus the
// watchdog liveness checker (original_source/TISM_Watchdog.c).
func registerWorkload(sys *tism.System, cfg config.Config) error {
	blinker := example.NewBlinker(blinkerGPIO, message.Kind(buttonGPIO))
	if _, err := sys.RegisterTask("ExampleBlinker", cfg.PriorityNormal, blinker.Run); err != nil {
		return err
	}

	button := example.NewButton(buttonGPIO, 0, "ExampleBlinker")
	if _, err := sys.RegisterTask("ExampleButton", cfg.PriorityNormal, button.Run); err != nil {
		return err
	}

	wd := watchdog.New(cfg.WatchdogCheckInterval, cfg.WatchdogTaskTimeout)
	if _, err := sys.RegisterTask("ExampleWatchdog", cfg.PriorityLow, wd.Run); err != nil {
		return err
	}

	return nil
}

// printSummary reports the operational counters gathered over the run, in the
// same plain-stdout completion-report style as cmd/ublk-mem/main.go.
func printSummary(m *obs.Metrics, elapsed time.Duration) {
	fmt.Printf("\ntism: ran for %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  sweeps completed:    %d\n", m.Sweeps.Load())
	fmt.Printf("  task steps executed: %d\n", m.TasksExecuted.Load())
	fmt.Printf("  messages routed:     %d\n", m.MessagesRouted.Load())
	fmt.Printf("  messages dropped:    %d\n", m.MessagesDropped.Load())
	fmt.Printf("  IRQ events fired:    %d\n", m.IRQEventsFired.Load())
	fmt.Printf("  IRQ events bounced:  %d\n", m.IRQEventsBounced.Load())
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"rtkern/internal/job"
	"rtkern/internal/kernel"
	"rtkern/internal/sched"
	"rtkern/internal/sema"
)

func main() {
	cfgPath := flag.String("config", "config.yml", "path to the YAML config")
	duration := flag.Duration("duration", 2*time.Second, "how long to run the kernel")
	flag.Parse()

	// Read the configuration
	cfg, err := sched.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Loaded config: %+v\n", cfg)

	k := kernel.Boot(cfg)
	fmt.Printf("Boot %s\n", k.BootID())
	if cfg.TraceCSV != "" {
		if err := k.EnableCSVLogging(cfg.TraceCSV); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	traced := make(chan error, 1)
	go func() { traced <- k.Sched.Trace(context.Background(), os.Stdout) }()

	// Demo workload: a paced producer feeding two consumers, with a pair of
	// spinners soaking up whatever time is left.
	var st job.Stats
	items := sema.New(k.Sched, 0)
	k.Spawn("producer", 20, job.Producer(k, items, 50*time.Millisecond, &st), 0)
	k.Spawn("consumer-a", 10, job.Consumer(k, items, 120*time.Millisecond, 30*time.Millisecond, &st), 1)
	k.Spawn("consumer-b", 10, job.Consumer(k, items, 120*time.Millisecond, 30*time.Millisecond, &st), 2)
	k.Spawn("spin-a", 1, job.Spinner(k, 64, 20*time.Millisecond, &st), 0)
	k.Spawn("spin-b", 1, job.Spinner(k, 64, 20*time.Millisecond, &st), 0)

	k.Run(ctx)

	if err := <-traced; err != nil {
		fmt.Fprintln(os.Stderr, "trace:", err)
	}
	fmt.Printf("ticks=%d switches=%d dropped=%d missed=%d\n",
		k.Sched.Ticks(), k.Sched.Switches(), k.Sched.Dropped(), k.MissedTicks())
	fmt.Printf("produced=%d consumed=%d timed_out=%d spins=%d\n",
		st.Produced.Load(), st.Consumed.Load(), st.TimedOut.Load(), st.Spins.Load())
}

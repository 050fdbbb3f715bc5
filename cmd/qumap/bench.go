package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	qumap "github.com/arbitrary-number/qumap-go"
)

// BenchCommand runs a put/get benchmark against the store.
func BenchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "Run a put/get benchmark",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "ops",
				Aliases: []string{"n"},
				Usage:   "Operations per worker",
				Value:   1000,
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Concurrent workers",
				Value:   4,
			},
			&cli.IntFlag{
				Name:  "value-size",
				Usage: "Value size in bytes",
				Value: 128,
			},
			&cli.Float64Flag{
				Name:  "rate",
				Usage: "Total operations per second (0 = unlimited)",
				Value: 0,
			},
		},
		Action: runBench,
	}
}

func runBench(c *cli.Context) error {
	m, _, err := openMap(c)
	if err != nil {
		return err
	}
	defer m.Close()

	var (
		opsPerWorker = c.Int("ops")
		workers      = c.Int("workers")
		valueSize    = c.Int("value-size")
		opsPerSec    = c.Float64("rate")
	)

	var limiter *rate.Limiter
	if opsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opsPerSec), workers)
	}

	value := make([]byte, valueSize)
	for i := range value {
		value[i] = byte('a' + i%26)
	}

	var (
		puts      atomic.Uint64
		gets      atomic.Uint64
		failures  atomic.Uint64
		totalNs   atomic.Uint64
		wg        sync.WaitGroup
		startTime = time.Now()
	)

	ctx := c.Context

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			for i := 0; i < opsPerWorker; i++ {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return
					}
				}

				key := fmt.Sprintf("bench-%d-%d", worker, i)
				opStart := time.Now()

				if err := m.PutBinary(ctx, key, value); err != nil {
					failures.Add(1)
					continue
				}
				puts.Add(1)

				if _, err := m.Get(ctx, key); err != nil {
					failures.Add(1)
					continue
				}
				gets.Add(1)

				totalNs.Add(uint64(time.Since(opStart).Nanoseconds()))
			}
		}(w)
	}

	wg.Wait()
	elapsed := time.Since(startTime)

	total := puts.Load() + gets.Load()
	fmt.Printf("workers:        %d\n", workers)
	fmt.Printf("puts:           %d\n", puts.Load())
	fmt.Printf("gets:           %d\n", gets.Load())
	fmt.Printf("failures:       %d\n", failures.Load())
	fmt.Printf("elapsed:        %s\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Printf("throughput:     %.0f ops/s\n", float64(total)/elapsed.Seconds())
	}
	if pairs := puts.Load(); pairs > 0 {
		avg := time.Duration(totalNs.Load() / pairs)
		fmt.Printf("avg round-trip: %s\n", avg.Round(time.Microsecond))
	}

	return syncAndReport(ctx, m)
}

// syncAndReport flushes pending writes so benchmark data is durable.
func syncAndReport(ctx context.Context, m *qumap.Map) error {
	syncStart := time.Now()
	if err := m.Sync(ctx); err != nil {
		return err
	}
	fmt.Printf("final sync:     %s\n", time.Since(syncStart).Round(time.Millisecond))
	return nil
}

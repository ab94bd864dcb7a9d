package cli

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/steplee/babus/pkg/babus"
)

// benchSample is one observed end-to-end latency.
type benchSample struct {
	slot    string
	latency time.Duration
}

// BenchCmd drives the bus with the canonical mixed workload: a fast
// small-payload producer and a slow large-payload producer against one
// subscriber, measuring write-to-callback latency.
func BenchCmd(ov overrides) *Command {
	flags := flag.NewFlagSet("bench", flag.ContinueOnError)
	duration := flags.DurationP("duration", "d", 10*time.Second, "How long to run")
	imuHz := flags.Int("imu-hz", 1000, "Small-payload publish rate")
	imuSize := flags.Int("imu-size", 128, "Small payload size in bytes")
	imageHz := flags.Int("image-hz", 30, "Large-payload publish rate")
	imageSize := flags.Int("image-size", 1<<20, "Large payload size in bytes")
	out := flags.StringP("out", "o", "", "Write a CSV latency report to `path`")

	return &Command{
		Flags: flags,
		Usage: "bench <domain> [flags]",
		Short: "Run the mixed-rate latency benchmark",
		Long: `Run two producers (a fast small-payload "imu" slot and a slow
large-payload "image" slot) against one subscriber for the given
duration, then report per-slot delivery counts and latency percentiles.
Each payload embeds its publish timestamp; latency is measured at the
subscriber's callback.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errors.New("bench requires <domain>")
			}

			if *imuHz <= 0 || *imageHz <= 0 {
				return errors.New("publish rates must be positive")
			}

			// Payloads carry an 8-byte publish timestamp.
			if *imuSize < 8 || *imageSize < 8 {
				return errors.New("payload sizes must be at least 8 bytes")
			}

			opts := ov.options(args[0])
			if opts.SlotSize == 0 {
				opts.SlotSize = int64(*imageSize) + 512
			}

			dom, err := babus.Open(opts)
			if err != nil {
				return err
			}

			defer func() { _ = dom.Close() }()

			samples, writes, err := runBench(ctx, dom, benchConfig{
				duration:  *duration,
				imuHz:     *imuHz,
				imuSize:   *imuSize,
				imageHz:   *imageHz,
				imageSize: *imageSize,
			})
			if err != nil {
				return err
			}

			report := summarizeBench(samples, writes)

			o.Printf("%s", report.text())

			if *out != "" {
				writeErr := atomic.WriteFile(*out, strings.NewReader(report.csv()))
				if writeErr != nil {
					return fmt.Errorf("write report: %w", writeErr)
				}

				o.Printf("report written to %s\n", *out)
			}

			return nil
		},
	}
}

type benchConfig struct {
	duration  time.Duration
	imuHz     int
	imuSize   int
	imageHz   int
	imageSize int
}

// runBench publishes on both slots at their configured rates while one
// waiter consumes, until the duration elapses or ctx is cancelled.
func runBench(ctx context.Context, dom *babus.ClientDomain, cfg benchConfig) ([]benchSample, map[string]int, error) {
	imu, err := dom.Slot("imu")
	if err != nil {
		return nil, nil, err
	}

	image, err := dom.Slot("image")
	if err != nil {
		return nil, nil, err
	}

	w := babus.NewWaiter(dom)
	w.Subscribe(imu, true)
	w.Subscribe(image, true)

	benchCtx, cancel := context.WithTimeout(ctx, cfg.duration)
	defer cancel()

	writes := map[string]int{}

	var writesMu sync.Mutex

	var wg sync.WaitGroup

	producer := func(slot *babus.ClientSlot, hz, size int) {
		defer wg.Done()

		payload := make([]byte, size)
		tick := time.NewTicker(time.Second / time.Duration(hz))

		defer tick.Stop()

		for {
			select {
			case <-benchCtx.Done():
				return
			case <-tick.C:
				binary.LittleEndian.PutUint64(payload, uint64(time.Now().UnixNano()))

				if slot.Write(payload) != nil {
					return
				}

				writesMu.Lock()
				writes[slot.Name()]++
				writesMu.Unlock()
			}
		}
	}

	wg.Add(2)

	go producer(imu, cfg.imuHz, cfg.imuSize)
	go producer(image, cfg.imageHz, cfg.imageSize)

	var samples []benchSample

	for benchCtx.Err() == nil {
		waitErr := w.WaitExclusiveTimeout(100 * time.Millisecond)
		if waitErr != nil {
			if errors.Is(waitErr, babus.ErrDeadline) {
				continue
			}

			wg.Wait()

			return nil, nil, waitErr
		}

		now := time.Now().UnixNano()

		_, visitErr := w.ForEachNewSlot(func(v *babus.View) {
			if v.Len() < 8 {
				return
			}

			sent := int64(binary.LittleEndian.Uint64(v.Bytes()))
			samples = append(samples, benchSample{
				slot:    v.SlotName(),
				latency: time.Duration(now - sent),
			})
		})
		if visitErr != nil {
			wg.Wait()

			return nil, nil, visitErr
		}
	}

	wg.Wait()

	return samples, writes, nil
}

// benchReport aggregates latencies per slot.
type benchReport struct {
	rows []benchRow
}

type benchRow struct {
	slot                     string
	writes, delivered        int
	min, p50, p99, max, mean time.Duration
}

func summarizeBench(samples []benchSample, writes map[string]int) benchReport {
	bySlot := map[string][]time.Duration{}

	for _, s := range samples {
		bySlot[s.slot] = append(bySlot[s.slot], s.latency)
	}

	slots := make([]string, 0, len(writes))
	for slot := range writes {
		slots = append(slots, slot)
	}

	sort.Strings(slots)

	var report benchReport

	for _, slot := range slots {
		lat := bySlot[slot]

		row := benchRow{slot: slot, writes: writes[slot], delivered: len(lat)}

		if len(lat) > 0 {
			sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

			var total time.Duration
			for _, d := range lat {
				total += d
			}

			row.min = lat[0]
			row.p50 = lat[len(lat)/2]
			row.p99 = lat[len(lat)*99/100]
			row.max = lat[len(lat)-1]
			row.mean = total / time.Duration(len(lat))
		}

		report.rows = append(report.rows, row)
	}

	return report
}

func (r benchReport) text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%-10s %8s %10s %10s %10s %10s %10s %10s\n",
		"slot", "writes", "delivered", "min", "p50", "p99", "max", "mean")

	for _, row := range r.rows {
		fmt.Fprintf(&b, "%-10s %8d %10d %10s %10s %10s %10s %10s\n",
			row.slot, row.writes, row.delivered, row.min, row.p50, row.p99, row.max, row.mean)
	}

	return b.String()
}

func (r benchReport) csv() string {
	var b strings.Builder

	b.WriteString("slot,writes,delivered,min_ns,p50_ns,p99_ns,max_ns,mean_ns\n")

	for _, row := range r.rows {
		fmt.Fprintf(&b, "%s,%d,%d,%d,%d,%d,%d,%d\n",
			row.slot, row.writes, row.delivered,
			row.min.Nanoseconds(), row.p50.Nanoseconds(), row.p99.Nanoseconds(),
			row.max.Nanoseconds(), row.mean.Nanoseconds())
	}

	return b.String()
}

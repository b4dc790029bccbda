// Package backtest replays recorded market snapshots into the exchange
// view and the signal queue.
package backtest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/gregtusar/positrader/pkg/scheduler"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Snapshot is one line of a snapshot file.
type Snapshot struct {
	Time    time.Time                  `json:"time"`
	Prices  map[string]decimal.Decimal `json:"prices"`
	Signals []models.Signal            `json:"signals,omitempty"`
}

type Tickers interface {
	UpdateTicker(t models.Ticker)
}

type Signals interface {
	Push(signals ...models.Signal)
}

// TimeSetter is implemented by clocks that follow the replayed time.
type TimeSetter interface {
	Set(now time.Time)
}

type Options struct {
	Tickers Tickers
	Signals Signals
	Clock   TimeSetter
	Logger  *logrus.Logger
}

type Replayer struct {
	tickers Tickers
	signals Signals
	clock   TimeSetter
	logger  *logrus.Entry

	mu      sync.Mutex
	src     io.Closer
	scanner *bufio.Scanner
	line    int
	frames  int
	done    chan struct{}
	once    sync.Once
}

// Open replays the snapshot file at path.
func Open(path string, opts Options) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshots: %w", err)
	}
	return New(f, opts), nil
}

func New(r io.Reader, opts Options) *Replayer {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	rp := &Replayer{
		tickers: opts.Tickers,
		signals: opts.Signals,
		clock:   opts.Clock,
		logger:  opts.Logger.WithField("component", "backtest"),
		scanner: scanner,
		done:    make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		rp.src = c
	}
	return rp
}

// Step replays the next snapshot. It returns scheduler.ErrDone once the
// file is exhausted so the replay task stops.
func (r *Replayer) Step(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			r.logger.WithError(err).WithField("line", r.line).Warn("Skipping malformed snapshot")
			continue
		}
		r.apply(snap)
		return nil
	}
	if err := r.scanner.Err(); err != nil {
		r.finish()
		return fmt.Errorf("read snapshots at line %d: %w", r.line, err)
	}
	r.finish()
	r.logger.WithField("frames", r.frames).Info("Backtest replay complete")
	return scheduler.ErrDone
}

func (r *Replayer) apply(snap Snapshot) {
	if r.clock != nil && !snap.Time.IsZero() {
		r.clock.Set(snap.Time)
	}
	for pair, price := range snap.Prices {
		r.tickers.UpdateTicker(models.Ticker{
			Pair:      pair,
			BidPrice:  price,
			AskPrice:  price,
			LastPrice: price,
			Timestamp: snap.Time,
		})
	}
	if len(snap.Signals) > 0 && r.signals != nil {
		for i := range snap.Signals {
			if snap.Signals[i].Time.IsZero() {
				snap.Signals[i].Time = snap.Time
			}
		}
		r.signals.Push(snap.Signals...)
	}
	r.frames++
}

func (r *Replayer) finish() {
	r.once.Do(func() {
		if r.src != nil {
			_ = r.src.Close()
		}
		close(r.done)
	})
}

// Done is closed when the replay has ended.
func (r *Replayer) Done() <-chan struct{} {
	return r.done
}

func (r *Replayer) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

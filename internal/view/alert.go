package view

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultAlertShots    = 3
	DefaultAlertInterval = 2 * time.Second
)

// Alert rings a fixed number of shots spaced by an interval. A ring in
// progress checks its stop flag before every shot.
type Alert struct {
	out      io.Writer
	shots    int
	interval time.Duration

	mu      sync.Mutex
	current *atomic.Bool
	wg      sync.WaitGroup
}

func NewAlert(out io.Writer, shots int, interval time.Duration) *Alert {
	if shots <= 0 {
		shots = DefaultAlertShots
	}
	if interval <= 0 {
		interval = DefaultAlertInterval
	}
	return &Alert{out: out, shots: shots, interval: interval}
}

// Ring starts a new alert and stops the previous one.
func (a *Alert) Ring(msg string) {
	stop := &atomic.Bool{}

	a.mu.Lock()
	if a.current != nil {
		a.current.Store(true)
	}
	a.current = stop
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		for i := 0; i < a.shots; i++ {
			if i > 0 {
				time.Sleep(a.interval)
			}
			if stop.Load() {
				return
			}
			a.mu.Lock()
			fmt.Fprintf(a.out, "\a*** %s ***\n", msg)
			a.mu.Unlock()
		}
	}()
}

func (a *Alert) Stop() {
	a.mu.Lock()
	if a.current != nil {
		a.current.Store(true)
		a.current = nil
	}
	a.mu.Unlock()
}

// Close stops ringing and waits for pending shots to notice.
func (a *Alert) Close() {
	a.Stop()
	a.wg.Wait()
}

package core

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// KeepAlive writes a timestamp to w every interval so consoles that kill
// silent sessions leave a long wait alone.
type KeepAlive struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartKeepAlive begins writing to w every interval until Stop.
func StartKeepAlive(w io.Writer, interval time.Duration) *KeepAlive {
	k := &KeepAlive{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(k.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-k.stop:
				return
			case t := <-ticker.C:
				fmt.Fprintln(w, t.Format(time.UnixDate))
			}
		}
	}()
	return k
}

// Stop ends the ticker and waits for the writer goroutine to exit. Safe to call twice.
func (k *KeepAlive) Stop() {
	k.once.Do(func() { close(k.stop) })
	<-k.done
}

// Running reports whether the writer goroutine is still alive.
func (k *KeepAlive) Running() bool {
	select {
	case <-k.done:
		return false
	default:
		return true
	}
}

package bus

import (
	"context"
	"log"
	"sync"

	"breakout-scanner/internal/model"
)

// FanOut broadcasts analysis results from a single input channel to N output
// channels. If an output channel is full, the result is dropped for that
// consumer to prevent a slow consumer from blocking the analysis loop.
type FanOut struct {
	mu      sync.RWMutex
	outputs []subscriber
	bufSize int

	// OnDrop is called with the subscriber name when a result is dropped
	// for that consumer.
	OnDrop func(name string)
}

type subscriber struct {
	name string
	ch   chan model.AnalysisResult
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new named output channel. The name shows
// up in drop and saturation metrics.
func (f *FanOut) Subscribe(name string) <-chan model.AnalysisResult {
	ch := make(chan model.AnalysisResult, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, subscriber{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan model.AnalysisResult) {
	defer func() {
		f.mu.RLock()
		for _, sub := range f.outputs {
			close(sub.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, sub := range f.outputs {
				select {
				case sub.ch <- res:
				default:
					if f.OnDrop != nil {
						f.OnDrop(sub.name)
					} else {
						log.Printf("[bus] output %q full, dropping cycle %s", sub.name, res.CycleID)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports (length, capacity) for one subscriber channel.
// Used for reporting channel saturation percentage.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, sub := range f.outputs {
		stats[i] = ChannelStat{Name: sub.name, Len: len(sub.ch), Cap: cap(sub.ch)}
	}
	return stats
}

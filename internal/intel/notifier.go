package intel

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogNotifier implements plugin.Notifier by logging notifications. The
// desktop shell replaces it with a real notification sink; headless runs
// keep it.
type LogNotifier struct {
	log *logrus.Logger
}

// NewLogNotifier creates a notifier that logs at info level.
func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// ShowNotification logs one notification.
func (n *LogNotifier) ShowNotification(ctx context.Context, title, body string) error {
	if title == "" {
		return fmt.Errorf("notification title is required")
	}
	n.log.WithFields(logrus.Fields{
		"title": title,
		"body":  body,
	}).Info("notification")
	return nil
}

// FanoutNotifier delivers each notification to every sink. A failing sink
// does not stop delivery to the others; the first error is returned.
type FanoutNotifier struct {
	mu    sync.RWMutex
	sinks []func(ctx context.Context, title, body string) error
}

// NewFanoutNotifier creates an empty fanout.
func NewFanoutNotifier() *FanoutNotifier {
	return &FanoutNotifier{}
}

// AddSink registers a delivery target.
func (n *FanoutNotifier) AddSink(sink func(ctx context.Context, title, body string) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, sink)
}

// ShowNotification delivers to every sink.
func (n *FanoutNotifier) ShowNotification(ctx context.Context, title, body string) error {
	if title == "" {
		return fmt.Errorf("notification title is required")
	}

	n.mu.RLock()
	sinks := append([]func(ctx context.Context, title, body string) error(nil), n.sinks...)
	n.mu.RUnlock()

	var first error
	for _, sink := range sinks {
		if err := sink(ctx, title, body); err != nil && first == nil {
			first = err
		}
	}
	return first
}

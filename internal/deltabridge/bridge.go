// Package deltabridge forwards the orchestrator delta stream to NATS so
// other processes can follow a run.
package deltabridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultSubjectPrefix = "recon.deltas"

// Publisher is the subset of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source yields a delta subscription; service.DeltaBus satisfies it.
type Source interface {
	Subscribe(buffer int) (<-chan domain.Delta, func())
}

type Bridge struct {
	pub    Publisher
	prefix string
	logger *zap.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// New returns a bridge publishing to subjects under prefix. An empty prefix
// uses DefaultSubjectPrefix.
func New(pub Publisher, prefix string, logger *zap.Logger) *Bridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Bridge{pub: pub, prefix: prefix, logger: logger}
}

// Subject maps a delta type onto a NATS subject: "agent:start" becomes
// "<prefix>.agent.start", so "<prefix>.agent.>" follows agent lifecycle only.
func (b *Bridge) Subject(t domain.DeltaType) string {
	return b.prefix + "." + strings.ReplaceAll(string(t), ":", ".")
}

// Forward publishes one delta. Failures are counted and returned.
func (b *Bridge) Forward(d domain.Delta) error {
	data, err := json.Marshal(d)
	if err != nil {
		b.failed.Add(1)
		return fmt.Errorf("failed to marshal delta: %w", err)
	}
	if err := b.pub.Publish(b.Subject(d.Type), data); err != nil {
		b.failed.Add(1)
		return fmt.Errorf("failed to publish delta: %w", err)
	}
	b.published.Add(1)
	return nil
}

// Run forwards every delta from src until ctx is done or the subscription
// closes. Publish errors are logged and do not stop the loop.
func (b *Bridge) Run(ctx context.Context, src Source, buffer int) {
	ch, cancel := src.Subscribe(buffer)
	defer cancel()

	b.logger.Info("delta bridge started", zap.String("prefix", b.prefix))
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("delta bridge stopped",
				zap.Int64("published", b.published.Load()),
				zap.Int64("failed", b.failed.Load()),
			)
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			if err := b.Forward(d); err != nil {
				b.logger.Warn("delta not forwarded", zap.String("type", string(d.Type)), zap.Error(err))
			}
		}
	}
}

func (b *Bridge) Published() int64 { return b.published.Load() }
func (b *Bridge) Failed() int64    { return b.failed.Load() }

// Connect dials NATS with reconnect handling wired to logger.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("reconledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

package node

import (
	"context"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mimblenet/walletcore/internal/core/wallet"
	"github.com/mimblenet/walletcore/pkg/broadcaster"
)

const tipTopic = "tip"

// TipMonitor follows the node's ZeroMQ feed of chain tip changes and fans
// them out to wallet subscribers.
type TipMonitor struct {
	host   string
	broker *broadcaster.Broker[wallet.BlockStateID]
	log    *zap.Logger
}

func NewTipMonitor(host string, log *zap.Logger) *TipMonitor {
	if !strings.HasPrefix(host, "tcp://") {
		host = "tcp://" + host
	}
	return &TipMonitor{
		host:   host,
		broker: broadcaster.NewBroker[wallet.BlockStateID](),
		log:    log.Named("tipmon"),
	}
}

func (m *TipMonitor) Subscribe() chan wallet.BlockStateID {
	return m.broker.Subscribe()
}

func (m *TipMonitor) Unsubscribe(ch chan wallet.BlockStateID) {
	m.broker.Unsubscribe(ch)
}

func (m *TipMonitor) Stop() {
	m.broker.Stop()
}

// Start blocks receiving tip messages until ctx is cancelled. Frames are
// topic + JSON payload {height, hash}.
func (m *TipMonitor) Start(ctx context.Context) error {
	go m.broker.Start(ctx)

	sub := zmq4.NewSub(ctx)
	defer sub.Close()

	if err := sub.Dial(m.host); err != nil {
		return errors.Wrapf(err, "could not dial %s", m.host)
	}
	if err := sub.SetOption(zmq4.OptionSubscribe, tipTopic); err != nil {
		return errors.Wrap(err, "could not subscribe")
	}
	m.log.Info("following tip feed", zap.String("host", m.host))

	for {
		msg, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "tip recv")
		}
		if len(msg.Frames) < 2 {
			continue
		}

		var tip tipResponse
		if err := sonic.Unmarshal(msg.Frames[1], &tip); err != nil {
			m.log.Warn("malformed tip message", zap.Error(err))
			continue
		}
		id, err := blockStateFromWire(tip)
		if err != nil {
			m.log.Warn("malformed tip message", zap.Error(err))
			continue
		}
		m.log.Debug("new tip", zap.Uint64("height", uint64(id.Height)))
		m.broker.Publish(id)
	}
}

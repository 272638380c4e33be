package node

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mimblenet/walletcore/internal/core/wallet"
	"github.com/mimblenet/walletcore/pkg/broadcaster"
)

const bbsTopic = "bbs"

type bbsWireMsg struct {
	Address string `json:"address"`
	Payload string `json:"payload"`
}

// BbsMessage is one opaque peer message relayed through the node's bulletin
// board, addressed to one of our wallet addresses.
type BbsMessage struct {
	To      wallet.WalletID
	Payload []byte
}

// SendBbsMsg drops an opaque payload on the node's bulletin board for the
// given address.
func (c *Client) SendBbsMsg(ctx context.Context, to wallet.WalletID, payload []byte) error {
	body := bbsWireMsg{
		Address: hex.EncodeToString(to[:]),
		Payload: base64.StdEncoding.EncodeToString(payload),
	}
	resp, err := c.cli.R().
		SetContext(ctx).
		SetBody(body).
		Post("/bbs")
	if err != nil {
		return errors.Wrap(err, "send bbs message")
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusAccepted {
		return errors.Errorf("send bbs message: unexpected status %d", resp.StatusCode())
	}
	return nil
}

// BbsMonitor follows the node's ZeroMQ feed of bulletin board messages for
// our addresses and fans them out to subscribers.
type BbsMonitor struct {
	host   string
	broker *broadcaster.Broker[BbsMessage]
	log    *zap.Logger
}

func NewBbsMonitor(host string, log *zap.Logger) *BbsMonitor {
	if !strings.HasPrefix(host, "tcp://") {
		host = "tcp://" + host
	}
	return &BbsMonitor{
		host:   host,
		broker: broadcaster.NewBroker[BbsMessage](),
		log:    log.Named("bbsmon"),
	}
}

func (m *BbsMonitor) Subscribe() chan BbsMessage {
	return m.broker.Subscribe()
}

func (m *BbsMonitor) Unsubscribe(ch chan BbsMessage) {
	m.broker.Unsubscribe(ch)
}

func (m *BbsMonitor) Stop() {
	m.broker.Stop()
}

// Start blocks receiving bbs messages until ctx is cancelled. Frames are
// topic + JSON payload {address, payload}.
func (m *BbsMonitor) Start(ctx context.Context) error {
	go m.broker.Start(ctx)

	sub := zmq4.NewSub(ctx)
	defer sub.Close()

	if err := sub.Dial(m.host); err != nil {
		return errors.Wrapf(err, "could not dial %s", m.host)
	}
	if err := sub.SetOption(zmq4.OptionSubscribe, bbsTopic); err != nil {
		return errors.Wrap(err, "could not subscribe")
	}
	m.log.Info("following bbs feed", zap.String("host", m.host))

	for {
		msg, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "bbs recv")
		}
		if len(msg.Frames) < 2 {
			continue
		}

		var wire bbsWireMsg
		if err := sonic.Unmarshal(msg.Frames[1], &wire); err != nil {
			m.log.Warn("malformed bbs message", zap.Error(err))
			continue
		}
		out, err := bbsFromWire(wire)
		if err != nil {
			m.log.Warn("malformed bbs message", zap.Error(err))
			continue
		}
		m.broker.Publish(out)
	}
}

func bbsFromWire(wire bbsWireMsg) (BbsMessage, error) {
	addr, err := hex.DecodeString(wire.Address)
	if err != nil || len(addr) != 33 {
		return BbsMessage{}, errors.New("bad bbs address")
	}
	payload, err := base64.StdEncoding.DecodeString(wire.Payload)
	if err != nil {
		return BbsMessage{}, errors.Wrap(err, "bad bbs payload")
	}
	var out BbsMessage
	copy(out.To[:], addr)
	out.Payload = payload
	return out, nil
}

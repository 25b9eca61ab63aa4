package bus

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/n0needt0/go-goodies/log"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/udp-bridge/config"
)

// NATSClient publishes on NATS subjects and keeps the twin documents in a
// JetStream key-value bucket.
type NATSClient struct {
	config *config.Config
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue

	// serializes read-merge-write of the reported document
	reportMu sync.Mutex
}

// NewNATSClient returns an unconnected client
func NewNATSClient(cfg *config.Config) *NATSClient {
	return &NATSClient{config: cfg}
}

func (c *NATSClient) connectionOptions() []nats.Option {
	busCfg := c.config.Bus

	opts := []nats.Option{
		nats.Name(busCfg.ClientName),
		nats.MaxReconnects(busCfg.MaxReconnects),
		nats.ReconnectWait(c.config.GetReconnectWait()),
		nats.Timeout(c.config.GetPublishTimeout()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	if busCfg.Token != "" {
		opts = append(opts, nats.Token(busCfg.Token))
	}
	if busCfg.Username != "" {
		opts = append(opts, nats.UserInfo(busCfg.Username, busCfg.Password))
	}

	return opts
}

// Connect dials the server and, when the twin is enabled, opens the bucket
func (c *NATSClient) Connect(ctx context.Context) error {
	conn, err := nats.Connect(c.config.Bus.URL, c.connectionOptions()...)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to NATS at %s", c.config.Bus.URL)
	}
	c.conn = conn

	log.Infof("connected to NATS at %s", conn.ConnectedUrl())

	if !c.config.Bus.Twin.Enabled {
		return nil
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return errors.Wrap(err, "failed to open JetStream context")
	}
	c.js = js

	kv, err := js.KeyValue(ctx, c.config.Bus.Twin.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      c.config.Bus.Twin.Bucket,
			Description: "desired and reported configuration for " + c.config.App.Name,
			History:     5,
		})
	}
	if err != nil {
		return errors.Wrapf(err, "failed to open twin bucket %s", c.config.Bus.Twin.Bucket)
	}
	c.kv = kv

	return nil
}

// Publish sends msg on the subject named by channel
func (c *NATSClient) Publish(ctx context.Context, channel string, msg Message) error {
	if c.conn == nil || c.conn.IsClosed() {
		return ErrClosed
	}

	natsMsg := nats.NewMsg(channel)
	natsMsg.Data = msg.Data
	for k, v := range msg.Headers {
		natsMsg.Header.Set(k, v)
	}

	if err := c.conn.PublishMsg(natsMsg); err != nil {
		return errors.Wrapf(err, "publish to %s", channel)
	}

	if c.config.Bus.ConfirmPublish {
		if err := c.conn.FlushWithContext(ctx); err != nil {
			return errors.Wrapf(err, "flush after publish to %s", channel)
		}
	}

	return nil
}

func (c *NATSClient) Desired(ctx context.Context) ([]byte, error) {
	if c.kv == nil {
		return nil, nil
	}

	entry, err := c.kv.Get(ctx, c.config.Bus.Twin.DesiredKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "kv get %s", c.config.Bus.Twin.DesiredKey)
	}

	return entry.Value(), nil
}

// WatchDesired registers a key watch and pumps desired document changes
// onto the returned channel until ctx is done. Deletes and purges are not
// configuration and are skipped.
func (c *NATSClient) WatchDesired(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, 16)

	if c.kv == nil {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	}

	watcher, err := c.kv.Watch(ctx, c.config.Bus.Twin.DesiredKey, jetstream.UpdatesOnly())
	if err != nil {
		return nil, errors.Wrapf(err, "kv watch %s", c.config.Bus.Twin.DesiredKey)
	}

	go func() {
		defer close(out)
		defer func() {
			if err := watcher.Stop(); err != nil {
				log.Debugf("stopping desired watcher: %v", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}
				select {
				case out <- entry.Value():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *NATSClient) Report(ctx context.Context, reported map[string]interface{}) error {
	if c.kv == nil {
		return nil
	}

	c.reportMu.Lock()
	defer c.reportMu.Unlock()

	key := c.config.Bus.Twin.ReportedKey

	doc := map[string]interface{}{}
	entry, err := c.kv.Get(ctx, key)
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
	case err != nil:
		return errors.Wrapf(err, "kv get %s", key)
	default:
		if err := sonic.Unmarshal(entry.Value(), &doc); err != nil {
			log.Warnf("replacing unreadable reported document: %v", err)
			doc = map[string]interface{}{}
		}
	}

	for k, v := range reported {
		doc[k] = v
	}
	doc["$lastUpdated"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := sonic.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode reported document")
	}

	if _, err := c.kv.Put(ctx, key, data); err != nil {
		return errors.Wrapf(err, "kv put %s", key)
	}

	return nil
}

// Close drains pending publishes and closes the connection
func (c *NATSClient) Close() {
	if c.conn == nil || c.conn.IsClosed() {
		return
	}
	if err := c.conn.Drain(); err != nil {
		log.Errorf("failed to drain NATS connection: %v", err)
		c.conn.Close()
	}
}

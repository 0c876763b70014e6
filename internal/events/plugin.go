package events

import (
	"context"

	"github.com/soyeahso/bizagent/internal/hooks"
	"github.com/soyeahso/bizagent/internal/logging"
	"github.com/soyeahso/bizagent/internal/plugin"
)

// PluginID identifies the broker publisher in the plugin registry.
const PluginID = "amqp-events"

type publisherPlugin struct {
	cfg   AMQPConfig
	dial  func(AMQPConfig, *logging.Logger) (Publisher, error)
	hooks *hooks.Manager
	pub   Publisher
}

// NewPlugin returns a plugin that connects to the broker on Init and
// publishes settled transactions until Close.
func NewPlugin(cfg AMQPConfig) plugin.Plugin {
	return &publisherPlugin{
		cfg: cfg,
		dial: func(cfg AMQPConfig, log *logging.Logger) (Publisher, error) {
			return NewAMQPPublisher(cfg, log)
		},
	}
}

func (p *publisherPlugin) ID() string { return PluginID }

func (p *publisherPlugin) Init(_ context.Context, api plugin.API) error {
	pub, err := p.dial(p.cfg, api.Log)
	if err != nil {
		return err
	}
	p.pub = pub
	p.hooks = api.Hooks
	Register(api.Hooks, pub, api.Log)
	return nil
}

func (p *publisherPlugin) Close() error {
	if p.pub == nil {
		return nil
	}
	for _, event := range []string{hooks.EventTransactionDone, hooks.EventTransactionCanceled} {
		p.hooks.Off(event, HandlerName)
	}
	err := p.pub.Close()
	p.pub = nil
	return err
}

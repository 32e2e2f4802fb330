// File: messenger/module.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// fx wiring: provides *Messenger and binds its lifecycle to the app.

package messenger

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/config"
	"github.com/momentics/hioload-xmsgr/control"
	"github.com/momentics/hioload-xmsgr/transport"
)

// Module provides a *Messenger started and stopped with the fx app.
var Module = fx.Module("messenger",
	fx.Provide(Provide),
	fx.Invoke(registerLifecycle),
)

// Params are the fx inputs of Provide.
type Params struct {
	fx.In
	Config     *config.Config
	Transport  api.Transport
	Dispatcher api.Dispatcher
	Logger     *zap.Logger           `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
	Name       api.EntityName        `optional:"true"`
}

// Provide builds a messenger from fx params.
func Provide(p Params) (*Messenger, error) {
	opts := []Option{WithLogger(p.Logger), WithName(p.Name)}
	if p.Config != nil && p.Config.Metrics.Enabled {
		mt, err := control.NewMetrics(p.Registerer, p.Config.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithMetrics(mt))
	}
	return New(p.Config, p.Transport, p.Dispatcher, opts...)
}

func registerLifecycle(lc fx.Lifecycle, m *Messenger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if addr := m.Config().BindAddr; addr != "" {
				a, err := transport.ParseAddr(addr, m.Nonce())
				if err != nil {
					return err
				}
				if err := m.Bind(a); err != nil {
					return err
				}
			}
			return m.Start()
		},
		OnStop: func(context.Context) error {
			return m.Shutdown()
		},
	})
}

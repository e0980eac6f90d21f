// Package bootstrap runs the service lifecycle: components start in
// registration order, configure callbacks wire the business layer, a
// startup summary is printed, and a signal or context cancellation triggers
// graceful shutdown in reverse order.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(engineComponent)
//	app.RegisterComponent(server.NewComponent(srv))
//	app.OnConfigure(func(ctx context.Context, a *bootstrap.App[*AppConfig]) error {
//	    return routes(a, srv)
//	})
//	err = app.Run(ctx)
package bootstrap

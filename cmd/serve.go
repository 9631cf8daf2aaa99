package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/synadia-labs/workload-probe/internal/service"
	"github.com/synadia-labs/workload-probe/internal/tracer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fetch and run over HTTP and NATS",
	Long: `Serve starts the HTTP API when http.enabled is set and registers the
WorkloadProbe NATS micro service when a NATS URL is configured, either in the
config file or through the NEX_WORKLOAD_NATS_* variables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configFlag)
		if err != nil {
			return err
		}
		defer a.close()

		return serve(cmd.Context(), a)
	},
}

func serve(ctx context.Context, a *app) error {
	log := a.log
	cfg := a.cfg

	if !cfg.Http.Enabled && cfg.Workloads.NatsUrl == "" {
		return errors.New("nothing to serve: enable http or set a nats url")
	}

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("error setting up tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Http.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Error().Err(err).Msg("error shutting down tracer")
		}
	}()

	ctx, cancel := context.WithCancel(log.WithContext(ctx))
	defer cancel()

	errCh := make(chan error, 1)

	if cfg.Http.Enabled {
		srv, err := service.NewHTTPServer(ctx, &cfg.Http, a.insp, log)
		if err != nil {
			return fmt.Errorf("error creating http server: %w", err)
		}
		go func() {
			if err := srv.Start(); err != nil {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()
		defer func() {
			// abort in-flight requests so their process groups are killed
			cancel()
			sctx, scancel := context.WithTimeout(context.Background(), cfg.Http.ShutdownTimeout)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Error().Err(err).Msg("error shutting down http server")
			}
		}()
	}

	if w := cfg.Workloads; w.NatsUrl != "" {
		if w.SaveCreds && w.NatsJwt != "" {
			path, err := w.WriteCreds("")
			if err != nil {
				return err
			}
			log.Info().Str("path", path).Msg("nats creds file written")
		}

		opts := []nats.Option{nats.Name(service.Name)}
		if w.NatsJwt != "" {
			opts = append(opts, nats.UserJWTAndSeed(w.NatsJwt, w.NatsNkey))
		}
		nc, err := nats.Connect(w.NatsUrl, opts...)
		if err != nil {
			return fmt.Errorf("error connecting to nats: %w", err)
		}
		defer nc.Close()

		svc, err := service.StartNATSMicro(ctx, nc, a.insp, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Stop(); err != nil {
				log.Error().Err(err).Msg("error stopping nats micro service")
			}
		}()
	}

	log.Info().Msgf("%s started", service.Name)
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	cancel()
	log.Info().Msgf("%s stopped", service.Name)
	return err
}

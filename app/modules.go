package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/server"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"

	"github.com/zachfi/airband/modules/search"
	"github.com/zachfi/airband/modules/station"
	"github.com/zachfi/airband/pkg/discord"
	"github.com/zachfi/airband/pkg/radiobrowser"
	"github.com/zachfi/airband/pkg/transcode"
)

const (
	Server string = "server"

	Discord string = "discord"
	Station string = "station"
	Search  string = "search"

	All string = "all"
)

func (a *App) setupModuleManager() error {
	mm := modules.NewManager(kitlog.NewLogfmtLogger(os.Stderr))
	mm.RegisterModule(Server, a.initServer, modules.UserInvisibleModule)

	mm.RegisterModule(Discord, a.initDiscord, modules.UserInvisibleModule)
	mm.RegisterModule(Station, a.initStation)
	mm.RegisterModule(Search, a.initSearch)

	mm.RegisterModule(All, nil)

	deps := map[string][]string{
		// Server:       nil,
		Discord: nil,
		Station: {Server, Discord},
		Search:  {Server},

		All: {Station, Search},
	}

	for mod, targets := range deps {
		if err := mm.AddDependency(mod, targets...); err != nil {
			return err
		}
	}

	a.ModuleManager = mm

	return nil
}

func (a *App) initDiscord() (services.Service, error) {
	sess, err := discord.NewSession(a.cfg.Discord, &a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init discord session")
	}

	a.discord = sess

	up := func(_ context.Context) error { return sess.Open() }
	down := func(_ error) error { return sess.Close() }

	return services.NewIdleService(up, down), nil
}

func (a *App) initStation() (services.Service, error) {
	resolver := radiobrowser.New(a.cfg.Station.DirectoryURL)
	manager := transcode.NewManager(a.cfg.Station.Transcode, &a.logger)

	s, err := station.New(
		a.cfg.Station,
		a.logger,
		resolver,
		&transcoderAdapter{manager: manager},
		&voiceAdapter{sess: a.discord},
		a.discord,
	)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init "+Station)
	}

	return s, nil
}

func (a *App) initSearch() (services.Service, error) {
	s, err := search.New(a.cfg.Search, a.logger, a.Server.HTTP)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init "+Search)
	}

	return s, nil
}

// transcoderAdapter narrows *transcode.Manager to the station module's
// Transcoder interface.
type transcoderAdapter struct {
	manager *transcode.Manager
}

func (t *transcoderAdapter) Start(ctx context.Context, streamURL string) (station.Process, error) {
	p, err := t.manager.Start(ctx, streamURL)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// voiceAdapter narrows *discord.Session to the station module's Voice
// interface.
type voiceAdapter struct {
	sess *discord.Session
}

func (v *voiceAdapter) Join(ctx context.Context, channelID string) (io.WriteCloser, error) {
	conn, err := v.sess.JoinVoice(ctx, channelID)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (a *App) initServer() (services.Service, error) {
	a.cfg.Server.MetricsNamespace = metricsNamespace
	a.cfg.Server.ExcludeRequestInLog = true
	a.cfg.Server.RegisterInstrumentation = true
	a.cfg.Server.Log = kitlog.NewLogfmtLogger(os.Stderr)

	server, err := server.New(a.cfg.Server)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create server")
	}

	servicesToWaitFor := func() []services.Service {
		svs := []services.Service(nil)
		for m, s := range a.serviceMap {
			// Server should not wait for itself.
			if m != Server {
				svs = append(svs, s)
			}
		}

		return svs
	}

	a.Server = server

	serverDone := make(chan error, 1)

	runFn := func(ctx context.Context) error {
		go func() {
			defer close(serverDone)
			serverDone <- server.Run()
		}()

		select {
		case <-ctx.Done():
			return nil
		case err := <-serverDone:
			if err != nil {
				return err
			}

			return fmt.Errorf("server stopped unexpectedly")
		}
	}

	stoppingFn := func(_ error) error {
		// wait until all modules are done, and then shutdown server.
		for _, s := range servicesToWaitFor() {
			_ = s.AwaitTerminated(context.Background())
		}

		// shutdown HTTP and gRPC servers (this also unblocks Run)
		server.Shutdown()

		// if not closed yet, wait until server stops.
		<-serverDone
		slog.Info("server stopped")
		return nil
	}

	return services.NewBasicService(nil, runFn, stoppingFn), nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/rs/zerolog"
)

const (
	Name   = "WorkloadProbe"
	Prefix = "PROBE"
)

const (
	badRequestCode  = "400"
	unavailableCode = "503"
)

type microHandler func(ctx context.Context, r micro.Request, insp Inspector)

// MicroService exposes the inspector as a NATS micro service.
type MicroService struct {
	svc micro.Service

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// StartNATSMicro registers the PING, FETCH and RUN endpoints. Requests are
// handled concurrently and inherit ctx, so cancelling it aborts in-flight work.
func StartNATSMicro(ctx context.Context, nc *nats.Conn, insp Inspector, log zerolog.Logger) (*MicroService, error) {
	svc, err := micro.AddService(nc, micro.Config{
		Name:        Name,
		Description: "NATS micro service to fetch URLs and run commands inside a NEX workload.",
		Version:     "0.1.0",
	})
	if err != nil {
		return nil, fmt.Errorf("error creating nats micro service: %w", err)
	}

	m := &MicroService{svc: svc}

	endpoints := []struct {
		name    string
		handler microHandler
		request string
	}{
		{"PING", ping, ""},
		{"FETCH", fetchURL, `{"url": "string", "takeScreenshot": "bool"}`},
		{"RUN", runCommand, `{"commandLine": "string"}`},
	}

	for _, ep := range endpoints {
		err = svc.AddEndpoint(
			ep.name,
			m.logHandler(ctx, log, insp, ep.handler),
			micro.WithEndpointSubject(fmt.Sprintf("%s.%s", Prefix, ep.name)),
			micro.WithEndpointMetadata(map[string]string{
				"request": ep.request,
			}),
		)
		if err != nil {
			svc.Stop()
			return nil, fmt.Errorf("error adding %s endpoint: %w", ep.name, err)
		}
	}

	log.Info().Str("name", Name).Str("prefix", Prefix).Msg("nats micro service started")
	return m, nil
}

// Stop unsubscribes the endpoints and waits for in-flight requests. The
// subscriptions drain in the background, so requests that still arrive are
// refused rather than started.
func (m *MicroService) Stop() error {
	m.refuseNew()
	err := m.svc.Stop()
	m.wg.Wait()
	return err
}

func (m *MicroService) refuseNew() {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()
}

// track registers a request unless the service is stopping.
func (m *MicroService) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		return false
	}
	m.wg.Add(1)
	return true
}

func (m *MicroService) logHandler(ctx context.Context, log zerolog.Logger, insp Inspector, fn microHandler) micro.Handler {
	return micro.HandlerFunc(func(r micro.Request) {
		reqLog := log.With().
			Str("request_id", uuid.New().String()).
			Str("subject", r.Subject()).
			Logger()
		reqLog.Info().Msg("received request")

		if !m.track() {
			reqLog.Warn().Msg("service stopping, request refused")
			if err := r.Error(unavailableCode, "service is stopping", nil); err != nil {
				reqLog.Error().Err(err).Msg("error response failed")
			}
			return
		}
		go func() {
			defer m.wg.Done()
			fn(reqLog.WithContext(ctx), r, insp)
		}()
	})
}

func ping(ctx context.Context, r micro.Request, insp Inspector) {
	err := r.Respond([]byte(insp.Ping()))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("ping response error")
	}
}

func fetchURL(ctx context.Context, r micro.Request, insp Inspector) {
	var req FetchRequest
	err := json.Unmarshal(r.Data(), &req)
	if err == nil && strings.TrimSpace(req.URL) == "" {
		err = fmt.Errorf("url is required")
	}
	if err != nil {
		respondError(ctx, r, fmt.Errorf("fetch request error: %w", err))
		return
	}

	err = r.RespondJSON(insp.FetchURL(ctx, req))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("fetch response error")
	}
}

func runCommand(ctx context.Context, r micro.Request, insp Inspector) {
	var req RunCommandRequest
	err := json.Unmarshal(r.Data(), &req)
	if err == nil && strings.TrimSpace(req.CommandLine) == "" {
		err = fmt.Errorf("command is required")
	}
	if err != nil {
		respondError(ctx, r, fmt.Errorf("run request error: %w", err))
		return
	}

	err = r.RespondJSON(insp.RunCommand(ctx, req.CommandLine))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("run response error")
	}
}

func respondError(ctx context.Context, r micro.Request, err error) {
	log := zerolog.Ctx(ctx)
	log.Warn().Err(err).Msg("bad request")
	if rerr := r.Error(badRequestCode, err.Error(), nil); rerr != nil {
		log.Error().Err(rerr).Msg("error response failed")
	}
}

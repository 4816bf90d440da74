// Package grpc exposes the standard gRPC health-checking service. The
// overall service is SERVING while at least one exchange feed is connected,
// each exchange also has its own arbibot.feed.<exchange> service.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"arbibot/internal/core"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix names the per-exchange health services
const ServicePrefix = "arbibot.feed."

// HealthService tracks connection status events in a grpc health server
type HealthService struct {
	logger core.ILogger
	health *health.Server
	server *grpc.Server

	mu        sync.Mutex
	connected map[string]bool
}

// NewHealthService registers every exchange as NOT_SERVING until its feed
// reports a connection.
func NewHealthService(exchanges []string, logger core.ILogger) *HealthService {
	s := &HealthService{
		logger:    logger.WithField("component", "grpc_health"),
		health:    health.NewServer(),
		server:    grpc.NewServer(),
		connected: make(map[string]bool),
	}
	grpc_health_v1.RegisterHealthServer(s.server, s.health)

	for _, ex := range exchanges {
		s.connected[ex] = false
		s.health.SetServingStatus(ServicePrefix+ex, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// Update applies one connection status change
func (s *HealthService) Update(st core.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected[st.Exchange] = st.Connected
	s.health.SetServingStatus(ServicePrefix+st.Exchange, servingStatus(st.Connected))

	anyUp := false
	for _, up := range s.connected {
		if up {
			anyUp = true
			break
		}
	}
	s.health.SetServingStatus("", servingStatus(anyUp))
}

func servingStatus(up bool) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if up {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}

// Watch feeds connection status events from the bus until ctx is done
func (s *HealthService) Watch(ctx context.Context, bus core.IEventBus) {
	sub := bus.Subscribe(64, core.TopicConnectionStatus)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if st, ok := ev.Payload.(core.ConnectionStatus); ok {
				s.Update(st)
			}
		}
	}
}

// Serve listens on port until ctx is cancelled
func (s *HealthService) Serve(ctx context.Context, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("grpc health listen: %w", err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener until ctx is cancelled
func (s *HealthService) ServeListener(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	s.logger.Info("Starting gRPC health service", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc health serve: %w", err)
	}
	return nil
}

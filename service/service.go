package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/config"
	"github.com/saiset-co/sai-cache/sai"
	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Service runs a cache container until it is stopped or the process
// receives SIGINT, SIGTERM or SIGQUIT.
type Service struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	state     atomic.Value
	signals   bool
	container *sai.Container
}

type Option func(*Service)

// WithoutSignals leaves process signals alone; the service then only stops
// through Stop or its parent context.
func WithoutSignals() Option {
	return func(s *Service) {
		s.signals = false
	}
}

func NewService(ctx context.Context, configPath string, opts ...Option) (*Service, error) {
	if configPath == "" {
		return nil, types.Errorf(types.ErrConfigNotFound, "config path is empty")
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, types.Errorf(types.ErrConfigNotFound, "%s: %v", configPath, err)
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, err
	}

	return NewServiceWithConfig(ctx, configManager, opts...)
}

func NewServiceWithConfig(ctx context.Context, configManager types.ConfigManager, opts ...Option) (*Service, error) {
	container, err := sai.New(ctx, configManager)
	if err != nil {
		return nil, types.WrapError(err, "failed to build container")
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	service := &Service{
		ctx:       serviceCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		signals:   true,
		container: container,
	}

	for _, opt := range opts {
		opt(service)
	}

	service.state.Store(StateStopped)
	return service, nil
}

func (s *Service) Container() *sai.Container {
	return s.container
}

// Start blocks until the service is stopped. The container is destroyed
// before Start returns.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.container.Logger().Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.container.Logger().Error("Service run panic", zap.Stack(string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	log := s.container.Logger()
	log.Info("Starting service")

	if err := s.container.Start(); err != nil {
		s.setState(StateStopped)
		s.cancel()
		_ = s.container.Destroy()
		close(s.done)
		return types.WrapError(err, "failed to start container")
	}

	s.setState(StateRunning)
	if s.signals {
		s.setupSignalHandling()
	}

	s.wg.Add(1)
	go s.contextMonitor()

	log.Info("Service started successfully")

	<-s.done

	err := s.container.Destroy()
	if err != nil {
		log.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	return err
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	s.container.Logger().Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.container.Logger().Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.container.Logger().Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.container.Logger().Warn("Service shutdown: context deadline exceeded")
	default:
		s.container.Logger().Info("Service shutdown: context done")
	}
}

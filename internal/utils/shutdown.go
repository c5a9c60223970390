package utils

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type ShutdownManager struct {
	cancelFunc    context.CancelFunc
	shutdownTasks []func(context.Context) error
	mu            sync.Mutex
	once          sync.Once
	done          chan struct{}
	timeout       time.Duration
	log           *Logger
}

func NewShutdownManager(ctx context.Context, log *Logger) (context.Context, *ShutdownManager) {
	ctx, cancel := context.WithCancel(ctx)
	manager := &ShutdownManager{
		cancelFunc: cancel,
		done:       make(chan struct{}),
		timeout:    15 * time.Second,
		log:        log,
	}
	return ctx, manager
}

// Register adds a task. Tasks run in reverse registration order, so a
// dependency registered first is released last.
func (sm *ShutdownManager) Register(task func(context.Context) error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownTasks = append(sm.shutdownTasks, task)
}

func (sm *ShutdownManager) StartListening() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			sm.log.Info("[SHUTDOWN] Received signal", "signal", sig.String())
			sm.Shutdown()
		case <-sm.done:
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown cancels the root context and runs every task once.
func (sm *ShutdownManager) Shutdown() {
	sm.once.Do(func() {
		sm.cancelFunc()

		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()

		sm.mu.Lock()
		tasks := append([]func(context.Context) error(nil), sm.shutdownTasks...)
		sm.mu.Unlock()

		for i := len(tasks) - 1; i >= 0; i-- {
			if err := tasks[i](ctx); err != nil {
				sm.log.Error("[SHUTDOWN] Error during shutdown", "error", err)
			}
		}

		sm.log.Info("[SHUTDOWN] Graceful shutdown complete")
		close(sm.done)
	})
}

// Done is closed after every task has run.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

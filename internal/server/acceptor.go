// Package server implements C7's TCP accept loop, grounded on
// Caesarsage-distributed-system/chatroom-with-broadcast's net.Listen/
// Accept/per-connection-goroutine shape, blended with the teacher's
// cmd/server/main.go graceful-shutdown idiom (signal.NotifyContext,
// context.WithTimeout).
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"chatcore/config"
	"chatcore/internal/registry"
	"chatcore/internal/service"
	"chatcore/internal/session"
	"chatcore/pkg/logger"
)

// Acceptor owns the chat protocol's TCP listener and spawns one Handler
// goroutine per accepted connection.
type Acceptor struct {
	listener net.Listener
	nextID   atomic.Int64

	auth *service.AuthService
	chat *service.ChatService
	reg  *registry.Registry

	cfg config.ServerConfig
	wg  sync.WaitGroup
}

func NewAcceptor(cfg config.ServerConfig, auth *service.AuthService, chat *service.ChatService, reg *registry.Registry) (*Acceptor, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	return &Acceptor{
		listener: listener,
		auth:     auth,
		chat:     chat,
		reg:      reg,
		cfg:      cfg,
	}, nil
}

// Addr returns the bound listener address, useful when cfg.Port is 0.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Serve blocks accepting connections until ctx is cancelled or the
// listener is closed, then waits for every handler goroutine and returns
// nil. Other accept errors are logged and accepting continues.
func (a *Acceptor) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = a.listener.Close()
	}()

	logger.Info("chat TCP acceptor listening", zap.String("addr", a.listener.Addr().String()))

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				a.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				a.wg.Wait()
				return nil
			}
			logger.Warn("accept failed", zap.Error(err))
			continue
		}

		clientID := a.nextID.Add(1)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			handler := session.NewHandler(clientID, conn, a.auth, a.chat, a.reg, a.cfg.ReadIdleTimeout)
			handler.Run(ctx)
		}()
	}
}

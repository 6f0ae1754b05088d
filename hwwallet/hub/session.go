// Copyright 2017 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/karalabe/hid"
	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/ledger"
	"github.com/sunyihoo/hwsigner/hwwallet/signer"
	"github.com/sunyihoo/hwsigner/hwwallet/transport"
	"github.com/sunyihoo/hwsigner/hwwallet/xpub"
	"github.com/sunyihoo/hwsigner/log"
)

// heartbeatTimeout bounds a single health check exchange.
const heartbeatTimeout = 10 * time.Second

// ErrSessionOpen is returned if a session is opened twice.
var ErrSessionOpen = errors.New("session already open")

// Config contains the settings of a device session.
type Config struct {
	Heartbeat time.Duration    // Health check interval, zero disables health checks
	Network   *chaincfg.Params // Network of resolved extended keys, mainnet if nil
	Logger    log.Logger       // Session logger, the root logger if nil
}

// Session is the explicitly owned context of one device connection. It
// serializes every device exchange, so that a signing run or a key batch never
// interleaves with other traffic, and optionally checks the device health in
// the background, tearing the session down if the device stops answering.
// Session 是一个设备连接的显式拥有的上下文。
type Session struct {
	driver   hwwallet.Driver
	hub      *Hub // Hub to block enumeration on, nil for non-USB devices
	cfg      Config
	resolver *xpub.Resolver
	log      log.Logger

	healthQuit chan chan error

	// Communication requires the driver to stay open, so obtaining the
	// commsLock must be done after having a read lock on stateLock, and
	// communication must never hold the write lock.
	commsLock chan struct{} // Mutex (buf=1) for the device comms, nil if closed
	stateLock sync.RWMutex  // Protects read and write access to the session internals
}

// NewSession creates a closed session managing the driver.
func NewSession(driver hwwallet.Driver, cfg Config) *Session {
	if cfg.Network == nil {
		cfg.Network = &chaincfg.MainNetParams
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New("family", driver.Family())
	}
	s := &Session{driver: driver, cfg: cfg, log: cfg.Logger}
	s.resolver = xpub.NewResolver(exchangeFunc(s.exchange), cfg.Network)
	return s
}

// OpenSession opens a session with a Ledger attached over USB.
func (hub *Hub) OpenSession(ctx context.Context, info hid.DeviceInfo, cfg Config, tcfg transport.Config) (*Session, error) {
	s := NewSession(ledger.NewHIDDriver(info, tcfg), cfg)
	s.hub = hub
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Open connects the device and starts the health checks.
func (s *Session) Open(ctx context.Context) error {
	s.stateLock.Lock() // State lock is enough since there's no connection yet at this point
	defer s.stateLock.Unlock()

	if s.commsLock != nil {
		return ErrSessionOpen
	}
	if err := s.driver.Open(ctx); err != nil {
		return err
	}
	s.commsLock = make(chan struct{}, 1)
	s.commsLock <- struct{}{} // Enable lock

	if s.cfg.Heartbeat > 0 {
		s.healthQuit = make(chan chan error)
		go s.heartbeat()
	}
	return nil
}

// heartbeat is a health check loop for the device to periodically verify
// whether it is still present or if it malfunctioned.
func (s *Session) heartbeat() {
	s.log.Debug("Device health-check started")
	defer s.log.Debug("Device health-check stopped")

	// Execute heartbeat checks until termination or error
	var (
		errc chan error
		err  error
	)
	for errc == nil && err == nil {
		// Wait until termination is requested or the heartbeat cycle arrives
		select {
		case errc = <-s.healthQuit:
			// Termination requested
			continue
		case <-time.After(s.cfg.Heartbeat):
			// Heartbeat time
		}
		// Execute a tiny data exchange to see responsiveness
		s.stateLock.RLock()
		if s.commsLock == nil {
			s.stateLock.RUnlock()
			continue
		}
		<-s.commsLock // Don't lock state while pinging the device
		ctx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
		err = s.driver.Heartbeat(ctx)
		cancel()
		s.commsLock <- struct{}{}
		s.stateLock.RUnlock()

		if err != nil {
			s.stateLock.Lock() // Lock state to tear the session down
			s.close()
			s.stateLock.Unlock()
		}
	}
	// In case of error, wait for termination
	if err != nil {
		s.log.Warn("Device health-check failed", "err", err)
		errc = <-s.healthQuit
	}
	errc <- err
}

// Close stops the health checks and disconnects the device.
func (s *Session) Close() error {
	// Ensure the health checker terminates
	s.stateLock.RLock()
	hQuit := s.healthQuit
	s.stateLock.RUnlock()

	var herr error
	if hQuit != nil {
		errc := make(chan error)
		hQuit <- errc
		herr = <-errc // Save for later, we *must* close the device
	}
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	s.healthQuit = nil
	if err := s.close(); err != nil {
		return err
	}
	return herr
}

// close is the internal session closer that terminates the device connection.
// It assumes the state lock is held.
func (s *Session) close() error {
	if s.commsLock == nil {
		return nil
	}
	s.commsLock = nil
	return s.driver.Close()
}

// Status returns the textual status of the device.
func (s *Session) Status() (string, error) {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()

	status, err := s.driver.Status()
	if err != nil {
		return status, err
	}
	if s.commsLock == nil {
		return "Closed", nil
	}
	return status, nil
}

// Do runs fn with exclusive access to the device. It waits for any other
// operation to finish first, or for the context to be cancelled.
func (s *Session) Do(ctx context.Context, fn func(dev hwwallet.Exchanger) error) error {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()

	if s.commsLock == nil {
		return hwwallet.ErrSessionClosed
	}
	select {
	case <-s.commsLock:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { s.commsLock <- struct{}{} }()

	if s.hub != nil {
		s.hub.beginComms()
		defer s.hub.endComms()
	}
	return fn(s.driver)
}

// exchange runs a single exchange with exclusive device access.
func (s *Session) exchange(ctx context.Context, method string, params hwwallet.Value) (res hwwallet.Value, err error) {
	err = s.Do(ctx, func(dev hwwallet.Exchanger) error {
		res, err = dev.Exchange(ctx, method, params)
		return err
	})
	return res, err
}

// SignTransaction signs every input of the transaction, holding the device
// for the whole signing run.
func (s *Session) SignTransaction(ctx context.Context, tx *hwwallet.Transaction) ([]string, error) {
	var sigs []string
	err := s.Do(ctx, func(dev hwwallet.Exchanger) (err error) {
		sigs, err = signer.SignTransaction(ctx, dev, tx)
		return err
	})
	return sigs, err
}

// SignMessage signs a text message with the key at path.
func (s *Session) SignMessage(ctx context.Context, path hwwallet.DerivationPath, message string) (string, error) {
	var sig string
	err := s.Do(ctx, func(dev hwwallet.Exchanger) (err error) {
		sig, err = signer.SignMessage(ctx, dev, path, message)
		return err
	})
	return sig, err
}

// ExtendedKey resolves the extended public key of a path, served from the
// session cache when possible.
func (s *Session) ExtendedKey(ctx context.Context, path hwwallet.DerivationPath) (string, error) {
	return s.resolver.ExtendedKey(ctx, path)
}

// ExtendedKeys resolves a batch of extended public keys in order.
func (s *Session) ExtendedKeys(ctx context.Context, paths []hwwallet.DerivationPath) ([]string, error) {
	return s.resolver.ExtendedKeys(ctx, paths)
}

// exchangeFunc adapts a function to the hwwallet.Exchanger interface.
type exchangeFunc func(ctx context.Context, method string, params hwwallet.Value) (hwwallet.Value, error)

func (f exchangeFunc) Exchange(ctx context.Context, method string, params hwwallet.Value) (hwwallet.Value, error) {
	return f(ctx, method, params)
}

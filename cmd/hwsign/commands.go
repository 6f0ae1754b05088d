// Copyright 2024 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sunyihoo/hwsigner/hwwallet"
	"github.com/sunyihoo/hwsigner/hwwallet/hub"
	"github.com/sunyihoo/hwsigner/hwwallet/jade"
	"github.com/sunyihoo/hwsigner/hwwallet/ledger"
	"github.com/sunyihoo/hwsigner/hwwallet/transport"
	"github.com/sunyihoo/hwsigner/internal/version"
	"github.com/urfave/cli/v2"
)

var (
	listCommand = &cli.Command{
		Action: listDevices,
		Name:   "list",
		Usage:  "List the attached devices of the configured kind",
		Description: `
Lists the Ledger devices attached over USB, or the first device advertising
the device service over Bluetooth.`,
	}
	infoCommand = &cli.Command{
		Action: deviceInfo,
		Name:   "info",
		Usage:  "Open the device and print its status",
	}
	xpubCommand = &cli.Command{
		Action:    extendedKeys,
		Name:      "xpub",
		Usage:     "Print the extended public keys of derivation paths",
		ArgsUsage: "<path> [<path>...]",
		Description: `
Resolves the BIP-32 extended public key of every path, one per line, in the
order given. Paths use the m/84'/0'/0' notation.`,
	}
	signTxCommand = &cli.Command{
		Action:    signTransaction,
		Name:      "signtx",
		Usage:     "Sign every input of a transaction",
		ArgsUsage: "<txfile|->",
		Description: `
Reads the unsigned transaction as JSON and prints the signatures of its inputs
as a JSON array of hex strings, in input order.`,
	}
	signMsgCommand = &cli.Command{
		Action:    signMessage,
		Name:      "signmsg",
		Usage:     "Sign a text message",
		ArgsUsage: "<path> <message>",
	}
	versionCommand = &cli.Command{
		Action: printVersion,
		Name:   "version",
		Usage:  "Print version numbers",
	}
)

// withSession runs fn on a session with the configured device, closing the
// session afterwards. Interrupts cancel the running operation.
func withSession(ctx *cli.Context, fn func(ctx context.Context, s *hub.Session) error) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	opctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(opctx, &cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(opctx, s)
}

func listDevices(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	switch cfg.Device.Kind {
	case kindLedgerHID:
		usb, err := hub.NewLedgerHub()
		if err != nil {
			return err
		}
		for _, info := range usb.Devices() {
			fmt.Fprintf(ctx.App.Writer, "%s\t%s %s\t%s\n", info.Path, info.Manufacturer, info.Product, info.Serial)
		}
		return nil

	case kindLedgerBLE, kindJadeBLE:
		adapter, err := enableAdapter()
		if err != nil {
			return err
		}
		service := ledger.Profile.Service
		if cfg.Device.Kind == kindJadeBLE {
			service = jade.Profile.Service
		}
		scanCtx, cancel := context.WithTimeout(ctx.Context, cfg.Transport.ScanTimeout)
		defer cancel()

		p, err := transport.ScanBLE(scanCtx, adapter, service, cfg.Device.Address)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "%s\t%s\t%d dBm\n", p.Address.String(), p.Name, p.RSSI)
		return nil
	}
	fmt.Fprintln(ctx.App.Writer, cfg.Device.URL)
	return nil
}

func deviceInfo(ctx *cli.Context) error {
	return withSession(ctx, func(_ context.Context, s *hub.Session) error {
		status, err := s.Status()
		fmt.Fprintln(ctx.App.Writer, status)
		return err
	})
}

func extendedKeys(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("missing derivation path")
	}
	paths := make([]hwwallet.DerivationPath, ctx.NArg())
	for i, arg := range ctx.Args().Slice() {
		path, err := hwwallet.ParseDerivationPath(arg)
		if err != nil {
			return fmt.Errorf("path %q: %v", arg, err)
		}
		paths[i] = path
	}
	return withSession(ctx, func(opctx context.Context, s *hub.Session) error {
		keys, err := s.ExtendedKeys(opctx, paths)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Fprintln(ctx.App.Writer, key)
		}
		return nil
	})
}

func signTransaction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected exactly one transaction file")
	}
	tx, err := readTransaction(ctx.Args().First())
	if err != nil {
		return err
	}
	return withSession(ctx, func(opctx context.Context, s *hub.Session) error {
		sigs, err := s.SignTransaction(opctx, tx)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(sigs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(ctx.App.Writer, string(out))
		return nil
	})
}

// readTransaction decodes the transaction JSON in file, or on stdin for "-".
func readTransaction(file string) (*hwwallet.Transaction, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, err
	}
	tx := new(hwwallet.Transaction)
	if err := json.Unmarshal(data, tx); err != nil {
		return nil, fmt.Errorf("invalid transaction: %v", err)
	}
	return tx, nil
}

func signMessage(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return errors.New("expected a derivation path and a message")
	}
	path, err := hwwallet.ParseDerivationPath(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	return withSession(ctx, func(opctx context.Context, s *hub.Session) error {
		sig, err := s.SignMessage(opctx, path, ctx.Args().Get(1))
		if err != nil {
			return err
		}
		fmt.Fprintln(ctx.App.Writer, sig)
		return nil
	})
}

func printVersion(ctx *cli.Context) error {
	fmt.Fprint(ctx.App.Writer, version.Info(clientIdentifier))
	return nil
}

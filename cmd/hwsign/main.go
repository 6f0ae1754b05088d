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

// hwsign is a command-line front-end for signing with hardware wallets.
package main

import (
	"fmt"
	"os"

	"github.com/sunyihoo/hwsigner/internal/debug"
	"github.com/sunyihoo/hwsigner/internal/flags"
	"github.com/urfave/cli/v2"
)

const clientIdentifier = "hwsign" // Client identifier used in logs and version output

func newApp() *cli.App {
	app := flags.NewApp("the hardware wallet signing tool")
	app.Flags = flags.Merge(
		deviceFlags,
		transportFlags,
		signingFlags,
		[]cli.Flag{configFileFlag},
		debug.Flags,
	)
	app.Commands = []*cli.Command{
		listCommand,
		infoCommand,
		xpubCommand,
		signTxCommand,
		signMsgCommand,
		dumpConfigCommand,
		versionCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		flags.MigrateGlobalFlags(ctx)
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

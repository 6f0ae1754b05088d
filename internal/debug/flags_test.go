// Copyright 2025 The go-ethereum Authors
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

package debug

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/hwsigner/log"
	"github.com/urfave/cli/v2"
)

func runSetup(args ...string) error {
	app := cli.NewApp()
	app.Flags = Flags
	app.Action = func(ctx *cli.Context) error {
		if err := Setup(ctx); err != nil {
			return err
		}
		log.Info("Device channel opened", "chunk", 128)
		log.Debug("Hidden at default verbosity")
		Exit()
		return nil
	}
	return app.Run(append([]string{"test"}, args...))
}

func TestSetupLogFile(t *testing.T) {
	defer log.SetDefault(log.NewLogger(log.DiscardHandler()))

	file := filepath.Join(t.TempDir(), "logs", "hwsign.log")
	require.NoError(t, runSetup("--log.file", file, "--log.format", "json"))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Device channel opened"`)
	assert.Contains(t, string(data), `"chunk":128`)
	assert.NotContains(t, string(data), "Hidden at default verbosity")
}

func TestSetupErrors(t *testing.T) {
	defer log.SetDefault(log.NewLogger(log.DiscardHandler()))

	assert.EqualError(t, runSetup("--log.format", "xml"), "unknown log format: xml")
	assert.Error(t, runSetup("--log.vmodule", "hub=notalevel"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	assert.Equal(t, filepath.Join(home, "cpu.prof"), expandHome("~/cpu.prof"))
	assert.Equal(t, filepath.Clean("/tmp/a/../cpu.prof"), expandHome("/tmp/a/../cpu.prof"))
}

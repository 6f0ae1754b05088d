// Copyright 2017 The go-ethereum Authors
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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"
	"github.com/sunyihoo/hwsigner/hwwallet/hub"
	"github.com/sunyihoo/hwsigner/hwwallet/transport"
	"github.com/sunyihoo/hwsigner/hwwallet/xpub"
	"github.com/sunyihoo/hwsigner/internal/flags"
	"github.com/sunyihoo/hwsigner/log"
	"github.com/urfave/cli/v2"
)

// Device kinds selectable with --device.
const (
	kindLedgerHID = "ledger-hid"
	kindLedgerBLE = "ledger-ble"
	kindJadeBLE   = "jade-ble"
	kindJadeWS    = "jade-ws"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
	deviceKindFlag = &cli.StringFlag{
		Name:     "device",
		Usage:    "Device kind (ledger-hid|ledger-ble|jade-ble|jade-ws)",
		Value:    defaultConfig.Device.Kind,
		Category: flags.DeviceCategory,
	}
	devicePathFlag = &cli.StringFlag{
		Name:     "device.path",
		Usage:    "USB HID path of the device to open, the first one found if empty",
		Category: flags.DeviceCategory,
	}
	deviceAddressFlag = &cli.StringFlag{
		Name:     "device.address",
		Usage:    "Bluetooth address of the device to open, the first one advertising if empty",
		Category: flags.DeviceCategory,
	}
	deviceURLFlag = &cli.StringFlag{
		Name:     "device.url",
		Usage:    "WebSocket URL of the device bridge (jade-ws)",
		Category: flags.DeviceCategory,
	}
	chunkFlag = &cli.IntFlag{
		Name:     "transport.chunk",
		Usage:    "Maximum write chunk size unless the link negotiates one",
		Value:    defaultConfig.Transport.MaxChunk,
		Category: flags.TransportCategory,
	}
	timeoutFlag = &cli.DurationFlag{
		Name:     "transport.timeout",
		Usage:    "Maximum time to wait for a device response",
		Value:    defaultConfig.Transport.Timeout,
		Category: flags.TransportCategory,
	}
	scanTimeoutFlag = &cli.DurationFlag{
		Name:     "transport.scantimeout",
		Usage:    "Maximum time to scan for a Bluetooth device",
		Value:    defaultConfig.Transport.ScanTimeout,
		Category: flags.TransportCategory,
	}
	networkFlag = &cli.StringFlag{
		Name:     "network",
		Usage:    "Bitcoin network of extended keys (mainnet|testnet|regtest)",
		Value:    defaultConfig.Session.Network,
		Category: flags.SigningCategory,
	}
	heartbeatFlag = &cli.DurationFlag{
		Name:     "heartbeat",
		Usage:    "Device health check interval, 0 disables",
		Value:    defaultConfig.Session.Heartbeat,
		Category: flags.SigningCategory,
	}

	deviceFlags    = []cli.Flag{deviceKindFlag, devicePathFlag, deviceAddressFlag, deviceURLFlag}
	transportFlags = []cli.Flag{chunkFlag, timeoutFlag, scanTimeoutFlag}
	signingFlags   = []cli.Flag{networkFlag, heartbeatFlag}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type deviceConfig struct {
	Kind    string
	Path    string `toml:",omitempty"`
	Address string `toml:",omitempty"`
	URL     string `toml:",omitempty"`
}

type transportConfig struct {
	MaxChunk    int
	Timeout     time.Duration
	ScanTimeout time.Duration
}

type sessionConfig struct {
	Network   string
	Heartbeat time.Duration
}

type hwsignConfig struct {
	Device    deviceConfig
	Transport transportConfig
	Session   sessionConfig
}

var defaultConfig = hwsignConfig{
	Device: deviceConfig{Kind: kindLedgerHID},
	Transport: transportConfig{
		MaxChunk:    transport.DefaultMaxChunk,
		Timeout:     transport.DefaultTimeout,
		ScanTimeout: 30 * time.Second,
	},
	Session: sessionConfig{Network: "mainnet"},
}

func loadConfig(file string, cfg *hwsignConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the defaults, then the config file, then applies the
// command line flags on top.
func makeConfig(ctx *cli.Context) (hwsignConfig, error) {
	cfg := defaultConfig
	// Each device kind is reached through exactly one locator
	if err := flags.CheckExclusive(ctx, devicePathFlag, deviceAddressFlag, deviceURLFlag); err != nil {
		return cfg, err
	}
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(deviceKindFlag.Name) {
		cfg.Device.Kind = ctx.String(deviceKindFlag.Name)
	}
	if ctx.IsSet(devicePathFlag.Name) {
		cfg.Device.Path = ctx.String(devicePathFlag.Name)
	}
	if ctx.IsSet(deviceAddressFlag.Name) {
		cfg.Device.Address = ctx.String(deviceAddressFlag.Name)
	}
	if ctx.IsSet(deviceURLFlag.Name) {
		cfg.Device.URL = ctx.String(deviceURLFlag.Name)
	}
	if ctx.IsSet(chunkFlag.Name) {
		cfg.Transport.MaxChunk = ctx.Int(chunkFlag.Name)
	}
	if ctx.IsSet(timeoutFlag.Name) {
		cfg.Transport.Timeout = ctx.Duration(timeoutFlag.Name)
	}
	if ctx.IsSet(scanTimeoutFlag.Name) {
		cfg.Transport.ScanTimeout = ctx.Duration(scanTimeoutFlag.Name)
	}
	if ctx.IsSet(networkFlag.Name) {
		cfg.Session.Network = ctx.String(networkFlag.Name)
	}
	if ctx.IsSet(heartbeatFlag.Name) {
		cfg.Session.Heartbeat = ctx.Duration(heartbeatFlag.Name)
	}
	return cfg, cfg.validate()
}

func (cfg *hwsignConfig) validate() error {
	switch cfg.Device.Kind {
	case kindLedgerHID, kindLedgerBLE, kindJadeBLE:
	case kindJadeWS:
		if cfg.Device.URL == "" {
			return fmt.Errorf("device kind %s needs --%s", kindJadeWS, deviceURLFlag.Name)
		}
	default:
		return fmt.Errorf("unknown device kind %q", cfg.Device.Kind)
	}
	if _, err := xpub.NetworkParams(cfg.Session.Network); err != nil {
		return err
	}
	if cfg.Transport.MaxChunk < 0 || cfg.Transport.Timeout < 0 {
		return errors.New("transport limits must not be negative")
	}
	return nil
}

func (cfg *hwsignConfig) transport() transport.Config {
	return transport.Config{
		MaxChunk: cfg.Transport.MaxChunk,
		Timeout:  cfg.Transport.Timeout,
		Logger:   log.New("device", cfg.Device.Kind),
	}
}

func (cfg *hwsignConfig) session() hub.Config {
	net, _ := xpub.NetworkParams(cfg.Session.Network)
	return hub.Config{
		Heartbeat: cfg.Session.Heartbeat,
		Network:   net,
		Logger:    log.New("device", cfg.Device.Kind),
	}
}

var dumpConfigCommand = &cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Export configuration values in a TOML format",
	ArgsUsage:   "<dumpfile (optional)>",
	Description: `Export configuration values in TOML format (to stdout by default).`,
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	var dump io.Writer = ctx.App.Writer
	if ctx.NArg() > 0 {
		f, err := os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		dump = f
	}
	_, err = dump.Write(out)
	return err
}

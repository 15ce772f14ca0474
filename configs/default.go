// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package configs holds ready-made Broker wiring for the common case of a
// single plain-TCP listener with no authentication.
package configs

import (
	"fmt"

	mqtt "github.com/mateuszsury/beehiveMQTT"
	"github.com/mateuszsury/beehiveMQTT/auth"
	"github.com/mateuszsury/beehiveMQTT/listeners"
)

// ConfigureBrokerWithDefault returns a Broker with default Options, a
// single TCP listener bound to opts.BindAddr:opts.Port, and anonymous
// access allowed on every topic.
func ConfigureBrokerWithDefault(opts *mqtt.Options) (*mqtt.Broker, error) {
	broker := mqtt.New(opts, auth.AllowAll{})

	addr := fmt.Sprintf(":%d", 1883)
	if opts != nil && opts.Port != 0 {
		addr = fmt.Sprintf("%s:%d", opts.BindAddr, opts.Port)
	}

	tcp, err := listeners.NewTCP("tcp1", addr)
	if err != nil {
		return nil, err
	}
	if err := broker.AddListener(tcp); err != nil {
		return nil, err
	}

	return broker, nil
}

// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	mqtt "github.com/mateuszsury/beehiveMQTT"
	"github.com/mateuszsury/beehiveMQTT/auth"
	"github.com/mateuszsury/beehiveMQTT/listeners"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	authPath := flag.String("auth", "", "path to a YAML auth ledger; anonymous access if unset")
	statusAddr := flag.String("status-addr", "", "optional address to serve a JSON status snapshot, e.g. :8080")
	flag.Parse()

	color.New(color.FgMagenta).Println("beehiveMQTT broker initializing...")

	opts, err := mqtt.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	var broker *mqtt.Broker
	if *authPath != "" {
		data, err := os.ReadFile(*authPath)
		if err != nil {
			log.Fatal(err)
		}
		dict, err := auth.NewDictionary(data)
		if err != nil {
			log.Fatal(err)
		}
		broker = mqtt.New(opts, dict)
	} else {
		broker = mqtt.New(opts, auth.AllowAll{})
	}

	addr := ":1883"
	if opts != nil && opts.Port != 0 {
		addr = fmt.Sprintf("%s:%d", opts.BindAddr, opts.Port)
	}
	tcp, err := listeners.NewTCP("tcp1", addr)
	if err != nil {
		log.Fatal(err)
	}
	if err := broker.AddListener(tcp); err != nil {
		log.Fatal(err)
	}

	if *statusAddr != "" {
		status := listeners.NewHTTPStatus("status", *statusAddr, func() any { return broker.Snapshot() })
		if err := broker.AddListener(status); err != nil {
			log.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		color.New(color.BgRed).Println("  caught signal, shutting down  ")
		cancel()
	}()

	color.New(color.BgMagenta).Println("  started  ")
	if err := broker.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
	color.New(color.BgGreen).Println("  finished  ")
}

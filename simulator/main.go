package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kilianp07/bloodlink/core/model"
)

func main() {
	cfg := parseFlags()
	if err := (&cfg).Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	donors := GeneratePopulation(cfg)
	if cfg.Export != "" {
		if err := writeExport(cfg.Export, donors); err != nil {
			log.Fatalf("export: %v", err)
		}
		return
	}
	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	strat := RandomResponder{DropRate: cfg.DropRate, IgnoreRate: cfg.IgnoreRate, AcceptRate: cfg.AcceptRate}
	runDonors(ctx, donors, cfg, strat)
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.IntVar(&cfg.Count, "count", 10, "number of donors")
	flag.Float64Var(&cfg.Center.Lat, "lat", 48.8566, "latitude of the population center")
	flag.Float64Var(&cfg.Center.Lon, "lon", 2.3522, "longitude of the population center")
	flag.Float64Var(&cfg.SpreadKm, "spread", 20, "radius of the population in km")
	flag.DurationVar(&cfg.ReceiptLatency, "receipt-latency", 200*time.Millisecond, "delay before acknowledging an alert")
	flag.Float64Var(&cfg.DropRate, "drop-rate", 0, "probability that an alert is never acknowledged")
	flag.Float64Var(&cfg.IgnoreRate, "ignore-rate", 0.2, "probability that an alert gets no answer")
	flag.Float64Var(&cfg.AcceptRate, "accept-rate", 0.3, "probability that an answered alert is accepted")
	flag.DurationVar(&cfg.ResponseDelay, "response-delay", 5*time.Second, "delay before answering an alert")
	flag.DurationVar(&cfg.AvailabilityInterval, "availability-interval", 0, "availability update interval")
	flag.StringVar(&cfg.Export, "export", "", "write the population to this donor file and exit")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.Parse()
	return cfg
}

func writeExport(path string, donors []model.Donor) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ExportPopulation(fh, donors); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

func runDonors(ctx context.Context, donors []model.Donor, cfg Config, strat ResponseStrategy) {
	var wg sync.WaitGroup
	for _, d := range donors {
		b, err := newMQTTClient(cfg.Broker, "sim-"+d.ID)
		if err != nil {
			log.Printf("%s: %v", d.ID, err)
			continue
		}
		s := NewSimulatedDonor(d, b, strat)
		s.ReceiptLatency = cfg.ReceiptLatency
		s.ResponseDelay = cfg.ResponseDelay
		s.AvailabilityInterval = cfg.AvailabilityInterval
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.Close()
			if err := s.Run(ctx); err != nil {
				log.Printf("%s: %v", d.ID, err)
			}
		}()
	}
	wg.Wait()
}

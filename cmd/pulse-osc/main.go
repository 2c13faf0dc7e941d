// Command pulse-osc bridges a Pulsoid heart-rate widget stream to OSC
// parameters on a local application (VRChat avatar parameters by default).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dwren/pulse-osc/internal/config"
	"github.com/dwren/pulse-osc/internal/osc"
	"github.com/dwren/pulse-osc/internal/pulsoid"
	"github.com/dwren/pulse-osc/internal/session"
	"github.com/dwren/pulse-osc/internal/status"
	"github.com/dwren/pulse-osc/internal/telemetry"
	"github.com/dwren/pulse-osc/internal/web"
)

func main() {
	widgetFile := flag.String("widget-file", "widget_id.txt", "File containing the widget UUID")
	widgetID := flag.String("widget-id", "", "Widget UUID (overrides --widget-file)")
	configPath := flag.String("config", "osc_parameters.json", "OSC parameter mapping file (generated with defaults if missing)")
	oscHost := flag.String("osc-host", "127.0.0.1", "OSC destination host")
	oscPort := flag.Int("osc-port", 9000, "OSC destination port")
	rpcURL := flag.String("rpc-url", pulsoid.DefaultRPCURL, "Widget resolution RPC endpoint")
	broker := flag.String("mqtt-broker", "", "MQTT broker for telemetry (empty to disable)")
	httpAddr := flag.String("http", "", "HTTP status address, e.g. :8037 (empty to disable)")

	flag.Parse()

	if err := run(*widgetFile, *widgetID, *configPath, *oscHost, *oscPort, *rpcURL, *broker, *httpAddr); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(widgetFile, widgetID, configPath, oscHost string, oscPort int, rpcURL, broker, httpAddr string) error {
	id, err := loadWidgetID(widgetFile, widgetID)
	if err != nil {
		return err
	}

	specs, err := loadSpecs(configPath)
	if err != nil {
		return err
	}
	log.Printf("loaded %d OSC parameters", len(specs))

	sink := osc.NewUDPSink(oscHost, oscPort)
	defer sink.Close()

	var publisher telemetry.Publisher
	var telemetryStatus telemetry.ConnectionStatus
	if broker != "" {
		real, err := telemetry.NewRealPublisher(broker)
		if err != nil {
			// Telemetry is optional infrastructure; a dead broker must
			// not keep heart rate off the avatar.
			log.Printf("telemetry disabled, cannot reach broker: %v", err)
		} else {
			publisher = real
			telemetryStatus = real
			defer real.Close()
		}
	}

	oscTarget := fmt.Sprintf("%s:%d", oscHost, oscPort)
	tracker := status.NewTracker(time.Now(), status.Config{
		WidgetID:  id,
		OSCTarget: oscTarget,
		Broker:    broker,
		HTTPAddr:  httpAddr,
		RPCURL:    rpcURL,
	})

	if publisher != nil {
		snap := tracker.Snapshot()
		startup := telemetry.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		}
	}

	if httpAddr != "" {
		srv := web.New(httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", httpAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("started: widget=%s osc=%s rpc=%s", id, oscTarget, rpcURL)

	runner := session.NewRunner(session.RunnerConfig{
		WidgetID:        id,
		Specs:           specs,
		Resolver:        pulsoid.NewRPCResolver(rpcURL),
		Dialer:          pulsoid.WebsocketDialer{},
		Sink:            sink,
		Telemetry:       publisher,
		TelemetryStatus: telemetryStatus,
		Tracker:         tracker,
	})
	err = runner.Run(ctx)

	if publisher != nil {
		snap := tracker.Snapshot()
		shutdown := telemetry.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "SHUTDOWN",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", "signal"),
		}
		if perr := publisher.PublishSystem(shutdown); perr != nil {
			log.Printf("failed to publish shutdown event: %v", perr)
		}
	}
	return err
}

// loadWidgetID returns the widget UUID from the flag or the ID file.
// A missing or malformed identifier is a fatal startup condition, caught
// before any network activity.
func loadWidgetID(widgetFile, override string) (string, error) {
	id := override
	if id == "" {
		data, err := os.ReadFile(widgetFile)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("widget ID file %q not found: create it with your widget UUID", widgetFile)
			}
			return "", fmt.Errorf("read widget ID: %w", err)
		}
		id = strings.TrimSpace(string(data))
	}
	if !pulsoid.ValidWidgetID(id) {
		return "", fmt.Errorf("widget ID %q is not a lowercase hyphenated UUID", id)
	}
	return id, nil
}

// loadSpecs reads and validates the parameter file. When the file does
// not exist, the documented defaults are written there for the user to
// edit and used immediately; no restart needed.
func loadSpecs(path string) ([]config.ParameterSpec, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := os.WriteFile(path, config.DefaultJSON(), 0o644); werr != nil {
			log.Printf("could not write default config %q: %v", path, werr)
		} else {
			log.Printf("no config at %q, wrote defaults", path)
		}
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	specs, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return specs, nil
}

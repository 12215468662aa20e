// Command iap2accessoryd runs the accessory-side iAP2 link and control
// session over every configured transport, authenticating and
// identifying itself to each connected device and exposing a
// diagnostic API over the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"iap2accessory/analytics"
	"iap2accessory/app"
	"iap2accessory/config"
	"iap2accessory/coprocessor"
	"iap2accessory/csm/catalogue"
	"iap2accessory/server"
	"iap2accessory/session"
	"iap2accessory/tracelog"
	"iap2accessory/transport"
	"iap2accessory/transportregistry"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, major rewrites
// Minor (0.y.0): New features, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	os.MkdirAll(cfg.Data.Path, 0755)
	logFile, err := os.OpenFile(cfg.Data.Path+"/iap2accessoryd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		log.SetOutput(logFile)
	}

	log.Infof("Starting iap2accessoryd v%s", Version)
	log.Infof("  trace path: %s", cfg.Trace.Path)
	log.Infof("  data path: %s", cfg.Data.Path)
	log.Infof("  server port: %d", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	traceLog := tracelog.NewWriter(cfg.Trace.Path, cfg.Trace.RetentionDays)
	tracker := analytics.NewTracker(cfg.Data.Path)

	coproc := openCoprocessor(cfg.Coprocessor)

	manager := session.NewManager(cfg.Link.MaxOutgoing, traceLog, tracker)

	registry := transportregistry.NewRegistry(cfg.Data.Path)
	for _, t := range cfg.Transports {
		registry.Add(t.Name, t.Path, t.Kind)
	}
	registry.OnChange(func(transports map[string]*transportregistry.Transport) {
		for name, t := range transports {
			if !t.Online {
				manager.StopSession(name)
				continue
			}
			if manager.GetSession(name) == nil {
				manager.StartSession(name, dialerFor(t))
			}
		}
	})
	for name, t := range registry.List() {
		manager.StartSession(name, dialerFor(t))
		go runApp(ctx, manager, name, coproc, referenceIdentity(name))
	}

	srv := server.New(cfg.Server.Port, manager, tracker, traceLog, Version)

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				traceLog.Cleanup()
			}
		}
	}()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// dialerFor builds a session.Dialer that opens a Transport's backing
// device. Every known kind is a raw byte pipe once opened; only the
// open call differs.
func dialerFor(t *transportregistry.Transport) session.Dialer {
	path := t.Path
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		switch t.Kind {
		case "serial", "usb", "bluetooth":
			return transport.OpenSerial(path)
		default:
			return nil, fmt.Errorf("transport: unknown kind %q", t.Kind)
		}
	}
}

// openCoprocessor attaches to the configured MFi authentication
// coprocessor, or falls back to an in-memory mock when no device path
// is configured (development, CI, bench testing without hardware).
func openCoprocessor(cfg config.CoprocessorConfig) coprocessor.Coprocessor {
	if cfg.DevicePath == "" {
		log.Warn("no coprocessor device configured, using mock authentication")
		return &coprocessor.Mock{Cert: []byte("mock-certificate")}
	}
	c, err := coprocessor.Open(cfg.DevicePath, cfg.Address)
	if err != nil {
		log.Errorf("failed to open coprocessor %s: %v, falling back to mock", cfg.DevicePath, err)
		return &coprocessor.Mock{Cert: []byte("mock-certificate")}
	}
	return c
}

// referenceIdentity builds the IdentificationInformation the daemon
// presents to every device on a named link. A real integration would
// load this from the daemon's configuration per accessory model.
func referenceIdentity(name string) *catalogue.IdentificationInformation {
	return &catalogue.IdentificationInformation{
		Name:                          name,
		ModelIdentifier:               "iap2accessoryd",
		Manufacturer:                  "reference",
		SerialNumber:                  name,
		FirmwareVersion:               Version,
		HardwareVersion:               "1.0",
		PowerProvidingCapability:      catalogue.PowerProvidingCapabilityNone,
		MaximumCurrentDrawnFromDevice: 0,
		CurrentLanguage:               "en",
		SupportedLanguage:             []string{"en"},
	}
}

// runApp drives the application-layer handshake every time name
// reaches StateNormal, for as long as ctx lives. A link that drops
// mid-handshake or mid-session is re-authenticated and re-identified
// from scratch on its next reconnect, matching a real device's
// behavior of re-running both handshakes after any transport drop.
func runApp(ctx context.Context, manager *session.Manager, name string, coproc coprocessor.Coprocessor, identity *catalogue.IdentificationInformation) {
	wasConnected := false
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s := manager.GetSession(name)
		if s == nil {
			wasConnected = false
			continue
		}
		connected := s.Snapshot().Connected
		if connected && !wasConnected {
			a := app.New(manager, name, coproc, identity)
			if err := a.Run(ctx); err != nil {
				log.Warnf("app: %s: %v", name, err)
			}
		}
		wasConnected = connected
	}
}

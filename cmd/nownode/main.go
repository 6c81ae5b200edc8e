package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/speters/nowtank/pkg/config"
	"github.com/speters/nowtank/pkg/display"
	"github.com/speters/nowtank/pkg/espnow"
	"github.com/speters/nowtank/pkg/hw"
	"github.com/speters/nowtank/pkg/menu"
	"github.com/speters/nowtank/pkg/node"
	"github.com/speters/nowtank/pkg/store"
)

var cfgFile = flag.String("c", "nownode.json5", "node config `file`")
var linkTo = flag.String("l", "", "override the link: socket://[host]:[port] for TCP, [serialDevice] for a serial dongle or sim:// for the in-memory medium")
var httpServe = flag.String("s", "", "start http console at [bindtohost][:]port (controller and sim)")
var printMAC = flag.Bool("mac", false, "print the dongle's station address and exit")
var verbose = flag.Bool("v", false, "verbose logging")

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

// To be set via go build -ldflags "-X main.buildVersion=$(git describe --dirty) -X main.buildDate=$(date -u +%FT%TZ)"
var buildVersion = "unspecified"
var buildDate = "unknown"

// reconnectDelay is the pause before re-opening a lost dongle link
const reconnectDelay = 12 * time.Second

func main() {
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("Config %v: %v", *cfgFile, err)
	}
	if *linkTo != "" {
		cfg.Link = *linkTo
	}

	if *printMAC {
		b := connectBridge(cfg)
		a, err := b.LocalAddress()
		b.Close()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(a)
		return
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan os.Signal, 1)
	signal.Notify(done,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		s := <-done
		log.Infof("Got %v, shutting down", s)

		if *memprofile != "" {
			f, err := os.Create(*memprofile)
			if err != nil {
				log.Fatal("could not create memory profile: ", err)
			}
			runtime.GC() // get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Fatal("could not write memory profile: ", err)
			}
			f.Close()
		}
		cancel()
	}()

	log.Infof("nownode %v (%v) starting as %v", buildVersion, buildDate, cfg.Role)

	if cfg.Role == config.RoleSim {
		err = runSim(ctx, cfg)
	} else {
		err = run(ctx, cfg)
	}
	if err != nil && err != context.Canceled {
		log.Error(err)
	}
}

// connectBridge opens the dongle link; failure is fatal
func connectBridge(cfg *config.Config) *espnow.Bridge {
	b := espnow.NewBridge()
	b.SetBaud(cfg.Baud)
	if err := b.Connect(cfg.Link); err != nil {
		log.Fatal(err)
	}
	return b
}

// keepConnected re-opens the dongle link whenever it drops and registers the
// standing peers of link again
func keepConnected(ctx context.Context, b *espnow.Bridge, link *espnow.Link) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.Done:
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
		if err := b.Reconnect(); err != nil {
			log.Error(err)
			continue
		}
		log.Infof("Reconnected")
		if err := link.Restore(); err != nil {
			log.Errorf("Restoring peers: %v", err)
		}
	}
}

func openRadio(cfg *config.Config) espnow.Radio {
	if cfg.Link == config.SimLink {
		log.Warnf("Link %v: node is alone on an in-memory medium", cfg.Link)
		return espnow.NewAir().Radio(espnow.Address{0x02, 0, 0, 0, 0, 0x01})
	}
	b := connectBridge(cfg)
	a, err := b.LocalAddress()
	if err != nil {
		log.Fatalf("%v: %v", espnow.ErrLinkInit, err)
	}
	log.Infof("Station address %v", a)
	return b
}

func openStore(cfg *config.Config) store.Store {
	s, err := cfg.OpenStore()
	if err != nil {
		log.Fatalf("Store: %v", err)
	}
	return s
}

func openButton(cfg *config.Config) menu.Button {
	if cfg.Pins.Button == "" {
		log.Warnf("No button pin configured, use the http console")
		return &hw.VirtualButton{}
	}
	b, err := hw.OpenButton(cfg.Pins.Button, cfg.ButtonActiveLow())
	if err != nil {
		log.Fatalf("Button: %v", err)
	}
	return b
}

func sinkFor(cfg *config.Config) display.Sink {
	if cfg.Display == "stdout" {
		return display.WriterSink{W: os.Stdout}
	}
	return display.LogSink{}
}

func run(ctx context.Context, cfg *config.Config) error {
	radio := openRadio(cfg)
	link := espnow.NewLink(radio)
	defer link.Close()
	if b, ok := radio.(*espnow.Bridge); ok {
		go keepConnected(ctx, b, link)
	}
	go func() {
		if err := link.Run(ctx); err != nil && err != context.Canceled {
			log.Errorf("Link: %v", err)
		}
	}()

	switch cfg.Role {
	case config.RoleController:
		queue := display.NewQueue()
		ctrl, err := node.NewController(link, queue, controllerConfig(cfg))
		if err != nil {
			return err
		}
		serveConsole(ctrl.Menu(), queue, cfg)
		return ctrl.Run(ctx, openButton(cfg), sinkFor(cfg))

	case config.RoleSensor:
		var ranger hw.Ranger
		if cfg.Pins.Trigger == "" || cfg.Pins.Echo == "" {
			log.Warnf("No range sensor pins configured, reporting a fixed distance")
			ranger = hw.Fixed(50)
		} else {
			r, err := hw.OpenHCSR04(cfg.Pins.Trigger, cfg.Pins.Echo)
			if err != nil {
				log.Fatalf("Range sensor: %v", err)
			}
			ranger = r
		}
		return node.NewSensor(link, ranger, openStore(cfg), sensorConfig(cfg)).Run(ctx)

	case config.RoleSwitch:
		var out node.Output = &hw.VirtualOutput{}
		if cfg.Pins.Output != "" {
			o, err := hw.OpenOutput(cfg.Pins.Output)
			if err != nil {
				log.Fatalf("Output: %v", err)
			}
			out = o
		}
		sw := node.NewSwitch(link, out, openButton(cfg), openStore(cfg), node.SwitchConfig{Vocabulary: cfg.Vocabulary()})
		return sw.Run(ctx)
	}
	return fmt.Errorf("role %q can not run on its own", cfg.Role)
}

func controllerConfig(cfg *config.Config) node.ControllerConfig {
	c := node.ControllerConfig{
		Targets:    cfg.MenuTargets(),
		Standing:   cfg.Standing,
		Vocabulary: cfg.Vocabulary(),
	}
	if len(cfg.Verbs.Start) > 0 {
		c.StartVerb = cfg.Verbs.Start[0]
	}
	if len(cfg.Verbs.Stop) > 0 {
		c.StopVerb = cfg.Verbs.Stop[0]
	}
	return c
}

func sensorConfig(cfg *config.Config) node.SensorConfig {
	return node.SensorConfig{
		Controller:  cfg.Controller,
		Vocabulary:  cfg.Vocabulary(),
		Period:      cfg.Period(),
		MinDistance: cfg.MinDistanceCM,
		AckGeometry: cfg.AckGeometry,
		ToggleGate:  cfg.ToggleGate,
	}
}

// serveConsole starts the http console when -s or the config asks for it
func serveConsole(m *menu.Menu, queue *display.Queue, cfg *config.Config) {
	addr := *httpServe
	if addr == "" {
		addr = cfg.Listen
	}
	if addr == "" {
		return
	}
	// accept :[portnum] as well as [portnum]
	if i, err := strconv.Atoi(addr); err == nil {
		addr = fmt.Sprintf(":%d", i)
	}

	h := &http.Server{Addr: addr, Handler: newRouter(&console{menu: m, display: queue, vocab: cfg.Vocabulary()})}
	go func() { log.Error(h.ListenAndServe()) }()
	log.Infof("Console listening on %v", addr)
}

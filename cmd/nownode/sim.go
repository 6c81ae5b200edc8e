package main

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/speters/nowtank/pkg/config"
	"github.com/speters/nowtank/pkg/display"
	"github.com/speters/nowtank/pkg/espnow"
	"github.com/speters/nowtank/pkg/hw"
	"github.com/speters/nowtank/pkg/menu"
	"github.com/speters/nowtank/pkg/node"
	"github.com/speters/nowtank/pkg/store"
)

var (
	simController = espnow.Address{0xF0, 0xF5, 0xBD, 0x54, 0xEB, 0x50}
	simSensor     = espnow.Address{0x68, 0xB6, 0xB3, 0x54, 0xB4, 0xC4}
	simSwitch     = espnow.Address{0x68, 0xB6, 0xB3, 0x52, 0xF4, 0x90}
)

// simTank is a slowly draining tank as seen by the range sensor
var simTank = []hw.Reading{
	{CM: 40}, {CM: 42}, {CM: 45}, {Err: hw.ErrTimeout}, {CM: 48}, {CM: 12}, {CM: 50},
}

// runSim runs a controller, a tank sensor and a switch on one in-memory
// medium. The controller is driven through the http console.
func runSim(ctx context.Context, cfg *config.Config) error {
	air := espnow.NewAir()
	var wg sync.WaitGroup

	startLink := func(addr espnow.Address) *espnow.Link {
		l := espnow.NewLink(air.Radio(addr))
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Run(ctx)
		}()
		return l
	}

	st := store.Store(store.NewMemStore())
	if cfg.Store.Backend != "memory" {
		st = openStore(cfg)
	}

	sensor := node.NewSensor(startLink(simSensor), hw.NewScripted(simTank...), st, node.SensorConfig{
		Controller:  simController,
		Vocabulary:  cfg.Vocabulary(),
		Period:      cfg.Period(),
		MinDistance: cfg.MinDistanceCM,
		AckGeometry: true,
	})
	sw := node.NewSwitch(startLink(simSwitch), &hw.VirtualOutput{}, &hw.VirtualButton{}, st, node.SwitchConfig{Vocabulary: cfg.Vocabulary()})

	targets := cfg.MenuTargets()
	if len(targets) == 0 {
		targets = []menu.Target{
			{Label: "Tinaco", Address: simSensor},
			{Label: "Luz", Address: simSwitch},
		}
	}
	ctrlCfg := controllerConfig(cfg)
	ctrlCfg.Targets = targets
	queue := display.NewQueue()
	ctrl, err := node.NewController(startLink(simController), queue, ctrlCfg)
	if err != nil {
		return err
	}
	serveConsole(ctrl.Menu(), queue, cfg)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sensor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sw.Run(ctx)
	}()

	log.Infof("Simulation: controller %v, sensor %v, switch %v", simController, simSensor, simSwitch)
	err = ctrl.Run(ctx, &hw.VirtualButton{}, sinkFor(cfg))
	wg.Wait()
	return err
}

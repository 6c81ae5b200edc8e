package node

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/speters/nowtank/pkg/command"
	"github.com/speters/nowtank/pkg/display"
	"github.com/speters/nowtank/pkg/espnow"
	"github.com/speters/nowtank/pkg/menu"
)

type ControllerConfig struct {
	Targets []menu.Target
	// Standing registers every target once instead of around each send
	Standing   bool
	Vocabulary command.Vocabulary
	StartVerb  string
	StopVerb   string
}

// Controller runs the selection menu and shows whatever the nodes send
type Controller struct {
	cfg     ControllerConfig
	link    Link
	menu    *menu.Menu
	display *display.Queue
}

func NewController(link Link, queue *display.Queue, cfg ControllerConfig) (*Controller, error) {
	if cfg.Vocabulary.Start == nil && cfg.Vocabulary.Stop == nil && cfg.Vocabulary.Toggle == nil {
		cfg.Vocabulary = command.DefaultVocabulary
	}
	m, err := menu.New(cfg.Targets, link, queue)
	if err != nil {
		return nil, err
	}
	if cfg.StartVerb != "" {
		m.Start = command.Verb(command.Start, cfg.StartVerb)
	}
	if cfg.StopVerb != "" {
		m.Stop = command.Verb(command.Stop, cfg.StopVerb)
	}

	if cfg.Standing {
		for _, t := range cfg.Targets {
			if err := link.Register(t.Address); err != nil {
				log.Warnf("Target %v: %v", t.Label, err)
			}
		}
	}
	return &Controller{cfg: cfg, link: link, menu: m, display: queue}, nil
}

// Menu gives access to the menu requests, e.g. for a console
func (c *Controller) Menu() *menu.Menu {
	return c.menu
}

// Run starts the display and menu tasks and renders received frames until
// ctx is done or the link closes
func (c *Controller) Run(ctx context.Context, button menu.Button, sink display.Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.display.Run(ctx, sink)
	}()

	c.menu.Init()
	go func() {
		defer wg.Done()
		c.menu.Run(ctx, button)
	}()

	err := c.receive(ctx)
	cancel()
	wg.Wait()
	return err
}

func (c *Controller) receive(ctx context.Context) error {
	packets := c.link.Packets()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-packets:
			if !ok {
				return espnow.ErrClosed
			}
			c.render(p)
		}
	}
}

// render shows a received frame as it was sent, whatever it holds
func (c *Controller) render(p espnow.Packet) {
	if len(p.Payload) == 0 {
		return
	}
	text := command.Clip(p.Payload, command.ControllerFrame)
	f, err := c.cfg.Vocabulary.Decode(p.Payload, command.ControllerFrame)
	switch {
	case err != nil:
		log.Errorf("From %v: %v", p.From, err)
	case f.Kind == command.SetTank:
		log.Infof("%v confirmed tank %dx%d cm", p.From, f.Diameter, f.Height)
	default:
		log.Infof("From %v: %q", p.From, text)
	}
	c.display.Push(text)
}

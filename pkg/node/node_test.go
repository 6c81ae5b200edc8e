package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/speters/nowtank/pkg/display"
	"github.com/speters/nowtank/pkg/espnow"
	"github.com/speters/nowtank/pkg/hw"
	"github.com/speters/nowtank/pkg/menu"
	"github.com/speters/nowtank/pkg/store"
	"github.com/speters/nowtank/pkg/tank"
)

var (
	controllerAddr = espnow.Address{0xF0, 0xF5, 0xBD, 0x54, 0xEB, 0x50}
	sensorAddr     = espnow.Address{0x68, 0xB6, 0xB3, 0x54, 0xB4, 0xC4}
	switchAddr     = espnow.Address{0x68, 0xB6, 0xB3, 0x52, 0xF4, 0x90}
)

type sent struct {
	to      espnow.Address
	payload string
}

// fakeLink records sends and registrations; packets are injected by the test
type fakeLink struct {
	mu         sync.Mutex
	sends      []sent
	registered []espnow.Address
	packets    chan espnow.Packet
}

func newFakeLink() *fakeLink {
	return &fakeLink{packets: make(chan espnow.Packet, 10)}
}

func (l *fakeLink) Register(addr espnow.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registered = append(l.registered, addr)
	return nil
}

func (l *fakeLink) SendTo(addr espnow.Address, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends = append(l.sends, sent{addr, string(payload)})
	return nil
}

func (l *fakeLink) Packets() <-chan espnow.Packet { return l.packets }

func (l *fakeLink) sent() []sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sent(nil), l.sends...)
}

func (l *fakeLink) reset() {
	l.mu.Lock()
	l.sends = nil
	l.mu.Unlock()
}

// failStore fails every operation
type failStore struct{}

var errStore = errors.New("flash worn out")

func (failStore) Open(string) (store.Handle, error) { return nil, errStore }

func packet(payload string) espnow.Packet {
	return espnow.Packet{From: controllerAddr, Payload: []byte(payload)}
}

func TestSensorGate(t *testing.T) {
	link := newFakeLink()
	ranger := hw.NewScripted(hw.Reading{CM: 50})
	s := NewSensor(link, ranger, store.NewMemStore(), SensorConfig{Controller: controllerAddr})

	if len(link.registered) != 1 || link.registered[0] != controllerAddr {
		t.Errorf("registered %v, want the controller", link.registered)
	}

	s.tick()
	if ranger.Calls() != 0 || len(link.sent()) != 0 {
		t.Fatal("closed gate measured or sent")
	}

	steps := []struct {
		payload string
		want    bool
	}{
		{"Litros:12.00 L", false},
		{"hola", false},
		{"START", true},
		{"Litros:12.00 L", true},
		{"TANK:50,bad", true},
		{"DATO", true},
		{"STOP", false},
		{"DELE", true},
		{"NAA", false},
	}
	for _, st := range steps {
		s.dispatch(packet(st.payload))
		if s.gate != st.want {
			t.Fatalf("gate %v after %q, want %v", s.gate, st.payload, st.want)
		}
	}
}

func TestSensorToggleGate(t *testing.T) {
	s := NewSensor(newFakeLink(), hw.Fixed(50), store.NewMemStore(), SensorConfig{Controller: controllerAddr, ToggleGate: true})
	s.dispatch(packet("DATO"))
	if !s.gate {
		t.Fatal("DATO did not open the gate")
	}
	s.dispatch(packet("DATO"))
	if s.gate {
		t.Fatal("DATO did not close the gate")
	}
}

func TestSensorTelemetry(t *testing.T) {
	link := newFakeLink()
	ranger := hw.NewScripted(
		hw.Reading{CM: 50},
		hw.Reading{Err: hw.ErrTimeout},
		hw.Reading{CM: 20},
		hw.Reading{CM: 130},
	)
	s := NewSensor(link, ranger, store.NewMemStore(), SensorConfig{Controller: controllerAddr})
	s.dispatch(packet("START"))

	want := []string{"Litros:517.29 L", "", "", "Litros:0.00 L"}
	for i, w := range want {
		link.reset()
		s.tick()
		got := link.sent()
		if w == "" {
			if len(got) != 0 {
				t.Errorf("cycle %d sent %v, want nothing", i, got)
			}
			continue
		}
		if len(got) != 1 || got[0] != (sent{controllerAddr, w}) {
			t.Errorf("cycle %d sent %v, want %q", i, got, w)
		}
	}
	if !s.gate {
		t.Error("suppressed cycles closed the gate")
	}
}

func TestSensorSetTank(t *testing.T) {
	link := newFakeLink()
	st := store.NewMemStore()
	s := NewSensor(link, hw.Fixed(50), st, SensorConfig{Controller: controllerAddr, AckGeometry: true})

	s.dispatch(packet("TANK:150,200"))

	if s.geometry != (tank.Geometry{DiameterCM: 150, HeightCM: 200}) {
		t.Errorf("geometry %+v", s.geometry)
	}
	if s.gate {
		t.Error("TANK opened the gate")
	}
	if got := link.sent(); len(got) != 1 || got[0] != (sent{controllerAddr, "TANK:150,200"}) {
		t.Errorf("ack %v", got)
	}
	g, err := store.LoadGeometry(st)
	if err != nil || g != s.geometry {
		t.Errorf("stored geometry %+v, %v", g, err)
	}

	s.dispatch(packet("START"))
	link.reset()
	s.tick()
	if got := link.sent(); len(got) != 1 || got[0].payload != "Litros:2650.72 L" {
		t.Errorf("telemetry with new geometry %v", got)
	}
}

func TestSensorSetTankMalformed(t *testing.T) {
	link := newFakeLink()
	s := NewSensor(link, hw.Fixed(50), store.NewMemStore(), SensorConfig{Controller: controllerAddr, AckGeometry: true})

	for _, in := range []string{"TANK:50,bad", "TANK:4294967393,120"} {
		s.dispatch(packet(in))
		if s.geometry != tank.Default() {
			t.Errorf("%q changed geometry to %+v", in, s.geometry)
		}
		if len(link.sent()) != 0 {
			t.Errorf("sent %v for %q", link.sent(), in)
		}
	}
}

func TestSensorStoreFailure(t *testing.T) {
	link := newFakeLink()
	s := NewSensor(link, hw.Fixed(50), failStore{}, SensorConfig{Controller: controllerAddr, AckGeometry: true})
	if s.geometry != tank.Default() {
		t.Errorf("geometry %+v without a store, want defaults", s.geometry)
	}

	s.dispatch(packet("TANK:150,200"))
	if s.geometry != (tank.Geometry{DiameterCM: 150, HeightCM: 200}) {
		t.Errorf("in-memory geometry not updated: %+v", s.geometry)
	}
	if len(link.sent()) != 0 {
		t.Errorf("acknowledged an unsaved geometry: %v", link.sent())
	}
}

func TestSwitch(t *testing.T) {
	link := newFakeLink()
	st := store.NewMemStore()
	store.SaveOutput(st, true)
	out := &hw.VirtualOutput{}
	wall := &hw.VirtualButton{}

	s := NewSwitch(link, out, wall, st, SwitchConfig{})
	if !out.On() {
		t.Fatal("output not restored")
	}

	s.dispatch(packet("DATO"))
	if out.On() {
		t.Error("DATO did not switch off")
	}
	if on, _ := store.LoadOutput(st); on {
		t.Error("state not persisted")
	}
	s.dispatch(packet("START"))
	if out.On() {
		t.Error("START switched the output")
	}

	wall.Set(true)
	s.poll()
	if out.On() {
		t.Error("unconfirmed switch change accepted")
	}
	s.poll()
	if !out.On() {
		t.Error("confirmed switch change ignored")
	}
	s.poll()
	if !out.On() {
		t.Error("steady switch toggled again")
	}

	wall.Set(false)
	s.poll()
	wall.Set(true)
	s.poll()
	if !out.On() {
		t.Error("bounce toggled the output")
	}
}

type recordSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordSink) Render(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return nil
}

func (s *recordSink) has(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l == text {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %v", what)
}

// TestOverTheAir runs a controller and a sensor on a shared medium
func TestOverTheAir(t *testing.T) {
	air := espnow.NewAir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sensorLink := espnow.NewLink(air.Radio(sensorAddr))
	go sensorLink.Run(ctx)
	sensor := NewSensor(sensorLink, hw.Fixed(50), store.NewMemStore(), SensorConfig{
		Controller: controllerAddr,
		Period:     10 * time.Millisecond,
	})
	go sensor.Run(ctx)

	ctrlLink := espnow.NewLink(air.Radio(controllerAddr))
	go ctrlLink.Run(ctx)
	ctrl, err := NewController(ctrlLink, display.NewQueue(), ControllerConfig{
		Targets: []menu.Target{{Label: "Placa_1", Address: sensorAddr}, {Label: "Placa_2", Address: switchAddr}},
	})
	if err != nil {
		t.Fatal(err)
	}
	sink := &recordSink{}
	go ctrl.Run(ctx, &hw.VirtualButton{}, sink)

	waitFor(t, "initial label", func() bool { return sink.has("Placa_1") })

	rctx, rcancel := context.WithTimeout(ctx, time.Second)
	defer rcancel()
	if err := ctrl.Menu().Press(rctx, 600*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "telemetry", func() bool { return sink.has("Litros:517.29 L") })

	st, err := ctrl.Menu().Snapshot(rctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode != menu.Viewing || st.Index != 0 {
		t.Errorf("menu %+v", st)
	}
}

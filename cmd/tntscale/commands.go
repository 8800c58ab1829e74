package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/chaz8081/tntscale/internal/backend"
	"github.com/chaz8081/tntscale/internal/ble"
	"github.com/chaz8081/tntscale/internal/config"
	"github.com/chaz8081/tntscale/internal/events"
	"github.com/chaz8081/tntscale/internal/scale"
)

// console turns listener callbacks into channel signals for the command
// loops. Sends never block.
type console struct {
	scale.NopListener
	found   chan ble.Device
	stopped chan bool
	confirm chan struct{}
	result  chan json.RawMessage
}

func newConsole() *console {
	return &console{
		found:   make(chan ble.Device, 16),
		stopped: make(chan bool, 1),
		confirm: make(chan struct{}, 1),
		result:  make(chan json.RawMessage, 1),
	}
}

func (c *console) OnDiscover(d ble.Device) {
	select {
	case c.found <- d:
	default:
	}
}

func (c *console) OnStopScan(status int, isTimeout bool) {
	select {
	case c.stopped <- isTimeout:
	default:
	}
}

func (c *console) OnStartScale(msg ble.Message, p backend.Profile) {
	fmt.Println(Green("Step on the scale now."))
}

func (c *console) OnWaitConfirm() {
	select {
	case c.confirm <- struct{}{}:
	default:
	}
}

func (c *console) OnScaleDone(result json.RawMessage) {
	select {
	case c.result <- result:
	default:
	}
}

// listeners assembles the listener chain, including the Redis publisher
// when one is configured. The returned func releases it.
func listeners(ctx context.Context, cfg *config.Config, con *console) (scale.Listener, func(), error) {
	chain := events.Multi{events.NewLogListener(nil), con}
	if cfg.Events.RedisAddr == "" {
		return chain, func() {}, nil
	}
	sink, err := events.NewRedisSink(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB, cfg.Events.Channel)
	if err != nil {
		return nil, nil, err
	}
	pub := events.NewPublisher(sink, events.PublisherOptions{Data: cfg.Events.Data})
	slog.Info("[EVENTS] publishing events", "redis", cfg.Events.RedisAddr, "channel", cfg.Events.Channel)
	return append(chain, pub), func() {
		if err := pub.Close(); err != nil {
			slog.Warn("[EVENTS] closing event publisher", "error", err)
		}
	}, nil
}

func scanOptions(cfg *config.Config) ble.ScanOptions {
	return ble.ScanOptions{
		Timeout: cfg.Scan.Timeout,
		Name:    cfg.Scan.Name,
		Address: cfg.Scan.Address,
	}
}

func scanCommand(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	con := newConsole()
	l, release, err := listeners(ctx, cfg, con)
	if err != nil {
		return err
	}
	defer release()

	m, err := scale.NewManager(ble.NewSystemAdapter(), nil, l, scale.Options{RegistrySize: cfg.Scan.RegistrySize})
	if err != nil {
		return err
	}
	if err := m.Scan(ctx, scanOptions(cfg)); err != nil {
		return err
	}

	n := 0
	for {
		select {
		case d := <-con.found:
			n++
			fmt.Printf("%s  %-20s %d dBm\n", Cyan(d.ID), d.Name, d.RSSI)
		case <-con.stopped:
			m.WaitScan()
			fmt.Printf("%d scale(s) found\n", n)
			return nil
		}
	}
}

func measureCommand(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	if c.IsSet("backend") {
		cfg.Backend.URL = c.String("backend")
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation: %w", err)
		}
	}
	if cfg.Backend.URL == "" {
		return errors.New("backend url not configured: set backend.url or --backend")
	}
	params := scale.Params{
		Slot:           cfg.Session.Slot,
		Bond:           cfg.Session.Bond || c.Bool("bond"),
		ForceOverwrite: cfg.Session.ForceOverwrite || c.Bool("force"),
		OfflineScale:   cfg.Session.OfflineScale || c.Bool("offline"),
	}
	if c.IsSet("slot") {
		params.Slot = c.Int("slot")
	}
	autoConfirm := cfg.Session.AutoConfirm || c.Bool("yes")

	profile := cfg.Profile.BackendProfile(params.Slot)
	if profile.UUID == "" {
		if params.Bond {
			return errors.New("profile.uuid is required with --bond")
		}
		profile.UUID = uuid.NewString()
		fmt.Println("Pairing with new profile uuid", Yellow(profile.UUID), "- save it as profile.uuid")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	con := newConsole()
	l, release, err := listeners(ctx, cfg, con)
	if err != nil {
		return err
	}
	defer release()

	bridge := backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)
	m, err := scale.NewManager(ble.NewSystemAdapter(), bridge, l, scale.Options{
		SettleDelay:  cfg.Session.SettleDelay,
		RegistrySize: cfg.Scan.RegistrySize,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Scan(ctx, scanOptions(cfg)); err != nil {
		return err
	}
	var device ble.Device
	select {
	case device = <-con.found:
		m.StopScan()
		m.WaitScan()
	case <-con.stopped:
		return errors.New("no scale found")
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Println("Connecting to", Cyan(device.ID), device.Name)

	s, err := m.ConnectAndScale(ctx, device, profile, params)
	if err != nil {
		return err
	}

	var result json.RawMessage
	for {
		select {
		case <-con.confirm:
			if autoConfirm || ask(fmt.Sprintf("Slot %d holds another profile. Overwrite?", params.Slot)) {
				if err := s.Confirm(); err != nil {
					return err
				}
				continue
			}
			_ = s.Close()
		case result = <-con.result:
			fmt.Println(Green("Measurement saved:"), string(result))
		case <-ctx.Done():
			_ = s.Close()
			<-s.Done()
			return ctx.Err()
		case <-s.Done():
			if result == nil {
				select {
				case result = <-con.result:
					fmt.Println(Green("Measurement saved:"), string(result))
				default:
					return errors.New("session ended without a measurement")
				}
			}
			return nil
		}
	}
}

// ask prompts on stdin and reports whether the answer was yes.
func ask(question string) bool {
	fmt.Printf("%s [y/N] ", Yellow(question))
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// Command watermeter-sim exercises the METER and MTU roles against each
// other over an in-process simulated CLK/DATA link. It is a demo/debug
// harness, not a reimplementation of any physical tooling.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/istorrs/watermeter-link/link"
	"github.com/istorrs/watermeter-link/meter"
	"github.com/istorrs/watermeter-link/mtu"
	"github.com/istorrs/watermeter-link/telegram"
	flag "github.com/spf13/pflag"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

func main() {
	var (
		baud      = flag.Int("baud", 1200, "nominal baud rate")
		framing   = flag.String("framing", "7E1", "character framing: 7E1 or 7E2")
		message   = flag.String("message", "WATER001\r", "meter response message (include trailing CR)")
		meterConf = flag.String("meter-config", "", "optional YAML file with meter configuration")
		mtuConf   = flag.String("mtu-config", "", "optional YAML file with MTU configuration")
		runs      = flag.Int("runs", 1, "number of transactions to run")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

	f, err := parseFraming(*framing)
	if err != nil {
		logger.Fatal(err)
	}

	mCfg := meter.DefaultConfig()
	if *meterConf != "" {
		mCfg, err = meter.LoadConfig(*meterConf)
		if err != nil {
			logger.Fatalf("loading meter config: %v", err)
		}
	}
	mCfg.Framing = f
	mCfg.ResponseMessage = []byte(*message)

	sCfg := mtu.DefaultConfig()
	if *mtuConf != "" {
		sCfg, err = mtu.LoadConfig(*mtuConf)
		if err != nil {
			logger.Fatalf("loading mtu config: %v", err)
		}
	}
	sCfg.Framing = f
	sCfg.ExpectedMessage = []byte(*message)
	sCfg.SetBaudRate(*baud)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := link.NewPair()

	// Register the simulated pins by name so the rest of this function (and
	// anything else sharing this process) can look them up via gpioreg
	// instead of holding onto p, the same way a collaborator would look up
	// a real board's pins by name rather than wiring driver references by
	// hand.
	if err := gpioreg.Register(p.CLKPinIO()); err != nil {
		logger.Fatalf("registering CLK pin: %v", err)
	}
	if err := gpioreg.Register(p.DataPinIO()); err != nil {
		logger.Fatalf("registering DATA pin: %v", err)
	}
	clk := gpioreg.ByName("CLK")
	data := gpioreg.ByName("DATA")

	handler := meter.NewHandler(mCfg, data, logger)
	defer handler.Close()
	meterCtx, stopMeter := context.WithCancel(ctx)
	defer stopMeter()
	go func() {
		if err := handler.Run(meterCtx, clk); err != nil && meterCtx.Err() == nil {
			logger.Printf("meter handler stopped: %v", err)
		}
	}()

	session := mtu.NewSession(sCfg, clk, data, logger)

	successful, corrupted, err := session.RunTest(ctx, *runs)
	if err != nil {
		logger.Fatalf("run test: %v", err)
	}

	fmt.Printf("runs=%d successful=%d corrupted=%d baud=%d framing=%s last_message=%q\n",
		*runs, successful, corrupted, session.BaudRate(), f, session.LastMessage())
}

func parseFraming(s string) (telegram.Framing, error) {
	switch s {
	case "7E1":
		return telegram.SevenE1, nil
	case "7E2":
		return telegram.SevenE2, nil
	default:
		return 0, fmt.Errorf("unknown framing %q (want 7E1 or 7E2)", s)
	}
}

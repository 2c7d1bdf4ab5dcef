// Package braman provides instrument control for a B-Raman confocal
// spectroscopy setup.
//
// The focus of the module is the motorized sample stage: a Thorlabs
// MCM3000/MCM3001 three-axis controller driven over its binary serial
// protocol, with encoder-based positioning, travel and scan limits, and a
// retract point to keep the objective clear of the sample between scans.
//
// # Usage
//
//	ctl, err := stage.Open(stage.Config{
//		Port: "/dev/ttyUSB0",
//		Axes: [stage.NumChannels]stage.AxisConfig{
//			{Stage: "ZFM2020", Reversed: true},
//		},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ctl.Close()
//
//	legal, outcome, err := ctl.MoveUM(ctx, 1, 1000, false, true)
//
// # Packages
//
// The module is organized into the following packages:
//
//   - pkg/stage: MCM3000 stage controller (protocol, transport, motion)
package braman

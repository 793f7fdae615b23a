// nmrseq builds solid-state NMR pulse sequences, lowers them to pulse
// programs and runs them on the simulated controller.
//
// Usage:
//
//	nmrseq <command> [options]
//
// Commands:
//
//	fid      single pi/2 pulse free induction decay
//	pulcal   pulse amplitude calibration (swept)
//	overrot  over-rotation calibration (swept)
//	dump     print the lowered pulse program
//	config   print the hardware configuration generated from settings
//
// Examples:
//
//	# Run an FID with the default settings and save the results
//	nmrseq fid --save-dir ./results
//
//	# Calibrate with two wraps and stream the average to websocket clients
//	nmrseq pulcal --wraps 2 --live :7125 --settings nmr.yaml
//
//	# Inspect the controller timeline of the first 5 ms
//	nmrseq overrot --simulate --sim-duration 5ms
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

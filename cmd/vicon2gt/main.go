/*
Estimate the body-to-IMU extrinsics, gravity in the motion-capture frame, and
an optional sensor time offset from logged IMU and motion-capture data, then
export the per-keyframe inertial states and a calibration summary.

Interrupting the run stops graph building at the next keyframe; the partial
problem is still solved and exported.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/edaniels/golog"
	"gonum.org/v1/gonum/mat"

	"github.com/mfkiwl/vicon2gt/calib"
	"github.com/mfkiwl/vicon2gt/imu"
	"github.com/mfkiwl/vicon2gt/nlls"
	"github.com/mfkiwl/vicon2gt/vicon"
)

func main() {
	var (
		configPath string
		imuPath    string
		viconPath  string
		timesPath  string
		statesPath string
		infoPath   string
	)

	const (
		defaultConfig = ""
		configUsage   = "JSON configuration file; built-in defaults when empty"
		defaultImu    = "imu.csv"
		imuUsage      = "IMU measurements CSV: time(ns),wx,wy,wz,ax,ay,az"
		defaultVicon  = "vicon.csv"
		viconUsage    = "motion-capture pose CSV: time(ns),px,py,pz,qw,qx,qy,qz"
		defaultTimes  = ""
		timesUsage    = "keyframe times CSV, one time(ns) per row; decimates the pose span at state_freq when empty"
		defaultStates = "states.csv"
		statesUsage   = "output CSV for the estimated states"
		defaultInfo   = "info.txt"
		infoUsage     = "output file for the calibration summary"
	)

	flag.StringVar(&configPath, "config", defaultConfig, configUsage)
	flag.StringVar(&imuPath, "imu", defaultImu, imuUsage)
	flag.StringVar(&viconPath, "vicon", defaultVicon, viconUsage)
	flag.StringVar(&timesPath, "times", defaultTimes, timesUsage)
	flag.StringVar(&statesPath, "states", defaultStates, statesUsage)
	flag.StringVar(&infoPath, "info", defaultInfo, infoUsage)
	flag.Parse()

	logger := golog.NewDevelopmentLogger("vicon2gt")

	cfg := calib.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = calib.LoadConfig(configPath)
		if err != nil {
			logger.Fatal(err)
		}
	}

	imuSamples, err := imu.LoadCSV(imuPath)
	if err != nil {
		logger.Fatal(err)
	}
	viconSamples, err := vicon.LoadCSV(viconPath)
	if err != nil {
		logger.Fatal(err)
	}
	logger.Infof("loaded %d imu samples and %d vicon poses", len(imuSamples), len(viconSamples))

	prop, err := imu.NewPropagator(imuSamples, cfg.IMUNoise())
	if err != nil {
		logger.Fatal(err)
	}
	interp, err := vicon.NewInterpolator(viconSamples)
	if err != nil {
		logger.Fatal(err)
	}

	var times []float64
	if timesPath != "" {
		times, err = calib.LoadTimesCSV(timesPath)
		if err != nil {
			logger.Fatal(err)
		}
	} else {
		t0, t1 := interp.Span()
		times = calib.DecimateTimes(t0, t1, cfg.StateFreq)
	}

	cat, err := calib.NewCatalog(times, prop, logger)
	if err != nil {
		logger.Fatal(err)
	}

	asm := calib.NewAssembler(cfg, cat, interp, prop, logger)
	opt := nlls.NewOptimizer(nlls.DefaultParams(), logger)
	runner := calib.NewRunner(asm, opt, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := runner.Run(ctx)
	if err != nil {
		logger.Fatal(err)
	}

	fmt.Println("======================================")
	fmt.Printf("R_BtoI:\n%v\n", mat.Formatted(res.RBtoI))
	fmt.Printf("p_BinI: %.6g %.6g %.6g\n", res.PBinI.X, res.PBinI.Y, res.PBinI.Z)
	fmt.Printf("gravity: %.6g %.6g %.6g (norm %.4f)\n",
		res.Gravity.X, res.Gravity.Y, res.Gravity.Z, res.Gravity.Norm())
	fmt.Printf("t_off_vicon_to_imu: %.4f\n", res.Toff)
	fmt.Println("======================================")

	if err := calib.WriteStates(statesPath, res); err != nil {
		logger.Fatal(err)
	}
	if err := calib.WriteInfo(infoPath, res); err != nil {
		logger.Fatal(err)
	}
	logger.Infof("saved states to %s and info to %s", statesPath, infoPath)
}

package calib

import "github.com/mfkiwl/vicon2gt/nlls"

// Graph keys: X(i) navigation states, C(0) the extrinsic rotation, C(1) the
// extrinsic translation, G(0) gravity, T(0) the time offset.

func X(i int) nlls.Key { return nlls.NewKey('x', i) }

func C(i int) nlls.Key { return nlls.NewKey('c', i) }

func G(i int) nlls.Key { return nlls.NewKey('g', i) }

func T(i int) nlls.Key { return nlls.NewKey('t', i) }

// Package detector implements a streaming signal classifier for breath and
// vocal input.
//
// A [Session] ingests successive audio frames and produces, per frame, an
// immutable [Snapshot] (raw and smoothed level, optional pitch, phase, breath
// rate, coherence, stability) plus zero or more [TransitionEvent] values that
// callers drain with [Session.Events].
//
// The per-frame pipeline is:
//
//	LevelExtractor → EMA smoothing → PitchEstimator → PhaseClassifier → RegularityScorer
//
// During the first Config.SampleWindowMs of audio the [Calibrator] observes
// the input to establish a noise floor; its [CalibrationProfile] is then frozen
// into the [PhaseClassifier] thresholds. While calibrating, the session
// reports [Idle] with IsCalibrating set.
//
// Sessions are single-threaded and frame-synchronous: call Update once per
// new frame from one goroutine. Nothing in this package blocks, spawns
// goroutines or keeps global state, so independent sessions can run side by
// side without coordination. Given the same configuration and frame sequence a
// session produces the same output.
package detector

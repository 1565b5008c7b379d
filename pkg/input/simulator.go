// Package input provides input and pose sources for a tracker: a scripted
// player simulator and an idle detector for real input.
package input

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/teslashibe/go-pathsync/pkg/path"
	"github.com/teslashibe/go-pathsync/pkg/tracking"
)

// Step is one scripted stretch of input held for Duration.
type Step struct {
	Duration time.Duration
	Buttons  tracking.Buttons
	Engaged  bool
	Loading  bool
	// Turn is the yaw rate in degrees per second while the step plays.
	Turn float64
	POV  path.POV
}

// SimulatorConfig tunes the simulated player.
type SimulatorConfig struct {
	WalkSpeed    float64       // m/s with shift held
	RunSpeed     float64       // m/s without shift
	CameraOffset float64       // distance behind the player, 0 disables the camera
	Rate         time.Duration // Run tick
	Loop         bool          // restart the script when it ends
}

// DefaultSimulatorConfig returns a 30Hz simulator with human speeds.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		WalkSpeed:    1.4,
		RunSpeed:     4.0,
		CameraOffset: 3.0,
		Rate:         33 * time.Millisecond,
	}
}

// Simulator plays a script of input steps and integrates the player pose.
// It implements tracking.InputProvider and tracking.TransformProvider.
type Simulator struct {
	cfg    SimulatorConfig
	logger *slog.Logger

	mu          sync.RWMutex
	script      []Step
	step        int
	stepElapsed time.Duration
	elapsed     time.Duration
	player      path.Transform
	ready       bool
	finished    bool
}

// NewSimulator creates a simulator for script. Steps without a duration
// are dropped. The player starts at the origin facing +Z and has no valid
// pose until the first Advance.
func NewSimulator(cfg SimulatorConfig, script []Step, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	steps := make([]Step, 0, len(script))
	for _, st := range script {
		if st.Duration > 0 {
			steps = append(steps, st)
		}
	}
	return &Simulator{
		cfg:      cfg,
		logger:   logger.With("component", "simulator"),
		script:   steps,
		finished: len(steps) == 0,
	}
}

// current returns the active step. Callers hold mu.
func (s *Simulator) current() Step {
	if s.finished {
		return Step{}
	}
	return s.script[s.step]
}

// Advance moves simulated time forward by dt.
func (s *Simulator) Advance(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready = true
	for dt > 0 && !s.finished {
		st := s.script[s.step]
		slice := st.Duration - s.stepElapsed
		if slice > dt {
			slice = dt
		}
		s.integrate(st, slice)
		s.stepElapsed += slice
		s.elapsed += slice
		dt -= slice

		if s.stepElapsed >= st.Duration {
			s.next()
		}
	}
	if dt > 0 {
		s.elapsed += dt
	}
}

func (s *Simulator) next() {
	s.step++
	s.stepElapsed = 0
	if s.step < len(s.script) {
		return
	}
	if s.cfg.Loop {
		s.step = 0
		return
	}
	s.step = len(s.script) - 1
	s.finished = true
	s.logger.Debug("script finished", "elapsed", s.elapsed)
}

// integrate applies one step for d to the player pose.
func (s *Simulator) integrate(st Step, d time.Duration) {
	secs := d.Seconds()
	s.player.Rotation.Y = math.Mod(s.player.Rotation.Y+st.Turn*secs, 360)

	b := st.Buttons
	if !b.Moving() || st.Loading {
		return
	}
	speed := s.cfg.RunSpeed
	if b.Shift {
		speed = s.cfg.WalkSpeed
	}

	var fwd, side float64
	if b.W {
		fwd++
	}
	if b.S {
		fwd--
	}
	if b.D {
		side++
	}
	if b.A {
		side--
	}
	if norm := math.Hypot(fwd, side); norm > 0 {
		fwd, side = fwd/norm, side/norm
	}

	yaw := s.player.Rotation.Y * math.Pi / 180
	dist := speed * secs
	s.player.Position.X += (fwd*math.Sin(yaw) + side*math.Cos(yaw)) * dist
	s.player.Position.Z += (fwd*math.Cos(yaw) - side*math.Sin(yaw)) * dist
}

// InputState implements tracking.InputProvider.
func (s *Simulator) InputState() tracking.InputState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.current()
	return tracking.InputState{
		Buttons: st.Buttons,
		Engaged: st.Engaged,
		Loading: st.Loading,
	}
}

// Transform implements tracking.TransformProvider.
func (s *Simulator) Transform() (tracking.TransformSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready || s.current().Loading {
		return tracking.TransformSnapshot{}, false
	}
	snap := tracking.TransformSnapshot{Player: s.player, POV: s.current().POV}
	if s.cfg.CameraOffset > 0 {
		yaw := s.player.Rotation.Y * math.Pi / 180
		cam := path.Transform{
			Position: path.Vec3{
				X: s.player.Position.X - math.Sin(yaw)*s.cfg.CameraOffset,
				Y: s.player.Position.Y + 1.6,
				Z: s.player.Position.Z - math.Cos(yaw)*s.cfg.CameraOffset,
			},
			Rotation: s.player.Rotation,
		}
		snap.Camera = &cam
	}
	return snap, true
}

// Finished reports whether a non-looping script has played out.
func (s *Simulator) Finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished
}

// Elapsed returns the simulated time so far.
func (s *Simulator) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elapsed
}

// Run advances the simulator in real time until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Rate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Advance(now.Sub(last))
			last = now
		}
	}
}

// RandomScript builds n steps of plausible player behaviour: loading first,
// then a mix of walking, running, standing and looking around.
func RandomScript(rng *rand.Rand, n int) []Step {
	script := []Step{{Duration: time.Second, Loading: true}}
	for i := 0; i < n; i++ {
		st := Step{
			Duration: time.Duration(1+rng.IntN(8)) * time.Second,
			Engaged:  rng.IntN(4) != 0,
			POV:      path.POVThird,
		}
		switch rng.IntN(5) {
		case 0:
			// stand still
		case 1:
			st.Turn = float64(rng.IntN(181) - 90)
		case 2:
			st.Buttons = tracking.Buttons{W: true}
		default:
			st.Buttons = tracking.Buttons{W: true, Shift: true}
			st.Turn = float64(rng.IntN(61) - 30)
		}
		if rng.IntN(10) == 0 {
			st.POV = path.POVOrbit
		}
		script = append(script, st)
	}
	return script
}

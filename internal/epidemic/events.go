package epidemic

import (
	"fmt"
	"math"

	apperrors "covidseir/internal/errors"
)

// MaxImpulseAmplitude bounds the per-bin amplitude of one event. Past it the
// RK3 update of the source compartment, 1 - A + A^2/2 - A^3/6, turns
// negative.
const MaxImpulseAmplitude = 1.596

// Never is the trigger of an event that must not fire.
var Never = math.Inf(1)

// Impulse discretizes a Dirac delta of the given per-bin amplitude. It
// returns amplitude/dt exactly when the interval (prev, time] contains the
// trigger, so the rate integrated over the step equals the amplitude for any
// dt. Every other step gets zero.
func Impulse(time, prev, trigger float64, amplitude Vector, dt float64) Vector {
	var out Vector
	if dt <= 0 || !(time > trigger && prev <= trigger) {
		return out
	}
	for i, a := range amplitude {
		out[i] = a / dt
	}
	return out
}

// Event is a one-shot transfer at a trigger time.
type Event struct {
	Name      string
	Trigger   float64
	Amplitude Vector
}

// Fires reports whether the step from prev to time crosses the trigger.
func (e Event) Fires(time, prev float64) bool {
	return time > e.Trigger && prev <= e.Trigger
}

// Impulse returns the event's rate for the step from t to t+dt.
func (e Event) Impulse(t, dt float64) Vector {
	return Impulse(t+dt, t, e.Trigger, e.Amplitude, dt)
}

// Schedule holds the two interventions of a run: Lockdown moves
// Susceptible into Confined and Release moves Confined back.
type Schedule struct {
	Lockdown Event
	Release  Event
}

// NoInterventions returns a schedule whose events never fire.
func NoInterventions() Schedule {
	return Schedule{
		Lockdown: Event{Name: "lockdown", Trigger: Never},
		Release:  Event{Name: "release", Trigger: Never},
	}
}

// NewSchedule builds the lockdown and release events. Severity factors are
// scaled by gain to give the impulse amplitudes; a trigger of Never disables
// the corresponding event.
func NewSchedule(lockdownAt float64, lockdownFactors Vector, releaseAt float64, releaseFactors Vector, gain float64) Schedule {
	return Schedule{
		Lockdown: Event{Name: "lockdown", Trigger: lockdownAt, Amplitude: lockdownFactors.Scale(gain)},
		Release:  Event{Name: "release", Trigger: releaseAt, Amplitude: releaseFactors.Scale(gain)},
	}
}

// Validate rejects amplitudes that are negative, not finite or at least
// MaxImpulseAmplitude.
func (s Schedule) Validate() error {
	for _, e := range []Event{s.Lockdown, s.Release} {
		for i, a := range e.Amplitude {
			if math.IsNaN(a) || a < 0 || a >= MaxImpulseAmplitude {
				return apperrors.NewConfigurationError(
					fmt.Sprintf("%s amplitude %g in bin %d outside [0, %g)", e.Name, a, i, MaxImpulseAmplitude), nil)
			}
		}
	}
	return nil
}

// Impulses returns the lockdown (psi) and release (phi) rates for the step
// from t to t+dt.
func (s Schedule) Impulses(t, dt float64) (psi, phi Vector) {
	return s.Lockdown.Impulse(t, dt), s.Release.Impulse(t, dt)
}

package arduino

import (
	"fmt"
	"math"

	"github.com/gotmc/labbench"
)

// SurgeTrigger drives the surge generator's controller. It has no
// identification and is opened with Registry.OpenRaw.
type SurgeTrigger struct {
	h labbench.Handle
}

func NewSurgeTrigger(h labbench.Handle) *SurgeTrigger { return &SurgeTrigger{h: h} }

// SurgeLevel converts a surge current to the controller's 8 bit level.
func SurgeLevel(amps, scale float64) int {
	return max(0, min(255, int(math.Round(amps*scale))))
}

// Arm sets the surge level, clamped to 0..255, and returns the controller's
// acknowledgement.
func (s *SurgeTrigger) Arm(level int) (string, error) {
	level = max(0, min(255, level))
	return s.exchange(fmt.Sprintf("a%dA", level))
}

// Fire discharges the surge and returns the controller's acknowledgement.
func (s *SurgeTrigger) Fire() (string, error) { return s.exchange("s") }

func (s *SurgeTrigger) exchange(frame string) (string, error) {
	if _, err := s.h.Write([]byte(frame)); err != nil {
		return "", err
	}
	return s.h.ReadLine()
}

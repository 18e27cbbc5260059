package dispatch

import (
	"math/rand/v2"
	"time"

	"dresswatch/internal/model"
)

const idDateLayout = "010206"

// NewEventID returns VIO or DET, the MMDDYY date of at, and four random capital letters.
// Ids are not checked for collisions.
func NewEventID(kind model.Kind, at time.Time) string {
	b := make([]byte, 0, 13)
	b = append(b, kind.Prefix()...)
	b = at.AppendFormat(b, idDateLayout)
	for i := 0; i < 4; i++ {
		b = append(b, byte('A'+rand.IntN(26)))
	}
	return string(b)
}

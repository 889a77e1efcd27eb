package manifest

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/skypass/skypass/internal/passes"
)

// ICSEncoder renders a feed as an iCalendar document. Calendar clients poll
// feeds on the advertised refresh interval, so the interval and published TTL
// both carry the configured refresh hours. now is replaceable for tests; nil
// means time.Now.
func ICSEncoder(version string, now func() time.Time) Encoder {
	if now == nil {
		now = time.Now
	}
	return EncoderFunc(func(name string, refreshHours int, events []passes.Event) ([]byte, error) {
		stamp := now().UTC()
		ttl := fmt.Sprintf("PT%dH", refreshHours)

		cal := ics.NewCalendar()
		cal.SetProductId(fmt.Sprintf("-//skypass//%s//EN", version))
		cal.SetVersion("2.0")
		cal.SetXWRCalName(name)
		cal.SetRefreshInterval(ttl)
		cal.SetXPublishedTTL(ttl)

		for _, ev := range events {
			uid := eventUID(ev)
			e := cal.AddEvent(uid)
			e.SetDtStampTime(stamp)
			e.SetStartAt(ev.Start.UTC())
			e.SetEndAt(ev.End.UTC())
			e.SetSummary(ev.Summary)
			if ev.PeakElevationDeg > 0 {
				e.SetDescription(fmt.Sprintf("Peak elevation: %.1f deg", ev.PeakElevationDeg))
			}
		}
		return []byte(cal.Serialize()), nil
	})
}

// eventUID derives a stable identifier from the event target and start time
// so rebuilds of the same window do not duplicate entries in subscribed
// clients.
func eventUID(ev passes.Event) string {
	target := strings.ToLower(ev.Target)
	var b strings.Builder
	dash := false
	for _, r := range target {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return fmt.Sprintf("%s-%s@skypass", strings.TrimSuffix(b.String(), "-"), ev.Start.UTC().Format("20060102T150405Z"))
}

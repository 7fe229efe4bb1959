package order

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

const (
	calendarProductID = "-//ehr//order-console//EN"
	appointmentLead   = 7 * 24 * time.Hour
	appointmentLength = time.Hour
)

// CalendarInvite renders an iCalendar request for the order's follow-up
// visit: seven days after creation, one hour long, with reminders one day
// and two hours before.
func CalendarInvite(o *Order, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodRequest)
	cal.SetProductId(calendarProductID)

	start := o.CreatedAt.UTC().Add(appointmentLead)
	title := "Clinical order follow-up"
	if o.PatientName != "" {
		title += ": " + o.PatientName
	}

	event := cal.AddEvent(o.ID.String() + "@order-console")
	event.SetCreatedTime(o.CreatedAt.UTC())
	event.SetDtStampTime(stamp.UTC())
	event.SetStartAt(start)
	event.SetEndAt(start.Add(appointmentLength))
	event.SetSummary(title)
	event.SetDescription(calendarDescription(o))

	for _, trigger := range []string{"-P1D", "-PT2H"} {
		alarm := event.AddAlarm()
		alarm.SetProperty(ics.ComponentPropertyAction, string(ics.ActionDisplay))
		alarm.SetProperty(ics.ComponentPropertyTrigger, trigger)
		alarm.SetProperty(ics.ComponentPropertyDescription, title)
	}
	return cal.Serialize()
}

func calendarDescription(o *Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Items: %s", strings.Join(o.Names(), ", "))
	if o.Timeframe != "" {
		fmt.Fprintf(&b, "\nTimeframe: %s", o.Timeframe)
	}
	if o.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s", o.Notes)
	}
	return b.String()
}

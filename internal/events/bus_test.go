package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantumlayerhq/aetim/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(testLogger())

	var got []string
	bus.Subscribe(ThreatIngested, func(e Event) {
		got = append(got, e.Payload.(string))
	})

	bus.Publish(ThreatIngested, "a")
	bus.Publish(ThreatIngested, "b")
	bus.Publish(ThreatIngested, "c")

	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestBusIsolatesKinds(t *testing.T) {
	bus := NewBus(testLogger())

	calls := 0
	bus.Subscribe(ReportGenerated, func(Event) { calls++ })

	bus.Publish(ThreatIngested, nil)
	assert.Zero(t, calls)

	bus.Publish(ReportGenerated, nil)
	assert.Equal(t, 1, calls)
}

func TestBusSwallowsSubscriberPanic(t *testing.T) {
	bus := NewBus(testLogger())

	var after bool
	bus.Subscribe(ThreatIngested, func(Event) { panic(errors.New("boom")) })
	bus.Subscribe(ThreatIngested, func(Event) { after = true })

	assert.NotPanics(t, func() {
		bus.Publish(ThreatIngested, nil)
	})

	// The panic in the first subscriber must not starve the second.
	assert.True(t, after)
}

func TestSubscribeAllSeesEveryKind(t *testing.T) {
	bus := NewBus(testLogger())

	seen := map[Kind]int{}
	bus.SubscribeAll(func(e Event) { seen[e.Kind]++ })

	kinds := []Kind{
		ThreatIngested, AssociationCreated, RiskAssessmentCompleted,
		ReportGenerated, NotificationRuleUpdated, TicketStatusUpdated,
		CollectionFailureAlert,
	}
	for _, k := range kinds {
		bus.Publish(k, nil)
	}

	for _, k := range kinds {
		assert.Equal(t, 1, seen[k], "kind %s", k)
	}
}
